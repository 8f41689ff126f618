package ingest

import "testing"

func TestParseRoute(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantOrg string
		wantErr bool
	}{
		{
			name:    "valid path",
			path:    "/api/orgs/org-acme/events",
			wantOrg: "org-acme",
		},
		{
			name:    "uuid org",
			path:    "/api/orgs/9f3a2b1c/events",
			wantOrg: "9f3a2b1c",
		},
		{
			name:    "empty org segment",
			path:    "/api/orgs//events",
			wantErr: true,
		},
		{
			name:    "missing events segment",
			path:    "/api/orgs/org-acme",
			wantErr: true,
		},
		{
			name:    "wrong trailing segment",
			path:    "/api/orgs/org-acme/records",
			wantErr: true,
		},
		{
			name:    "extra segments",
			path:    "/api/orgs/org-acme/events/extra",
			wantErr: true,
		},
		{
			name:    "wrong prefix",
			path:    "/api/users/org-acme/events",
			wantErr: true,
		},
		{
			name:    "empty path",
			path:    "",
			wantErr: true,
		},
		{
			name:    "root only",
			path:    "/",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route, err := ParseRoute(tt.path)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if route.OrgID != tt.wantOrg {
				t.Errorf("OrgID: expected %q, got %q", tt.wantOrg, route.OrgID)
			}
		})
	}
}
