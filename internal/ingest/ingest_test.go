package ingest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/auditchain/auditchain/internal/alert"
	"github.com/auditchain/auditchain/internal/chain"
	"github.com/auditchain/auditchain/internal/ledger"
	"github.com/auditchain/auditchain/internal/org"
)

// newTestHandler wires a handler against a temp-dir ledger and empty
// registry/freeze/alert state.
func newTestHandler(t *testing.T) (*Handler, *ledger.Ledger, *org.FreezeSwitch) {
	t.Helper()
	dir := t.TempDir()

	led, err := ledger.Open(filepath.Join(dir, "ledger"))
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() { led.Close() })

	registry, err := org.NewRegistry(filepath.Join(dir, "orgs.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	freeze, err := org.NewFreezeSwitch(filepath.Join(dir, "frozen.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	engine, err := alert.New(filepath.Join(dir, "alerts.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	h := New(Options{
		Ledger:       led,
		Registry:     registry,
		FreezeSwitch: freeze,
		Engine:       engine,
	})
	return h, led, freeze
}

func postEvent(h *Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestIngest_AppendsToChain(t *testing.T) {
	h, led, _ := newTestHandler(t)

	w := postEvent(h, "/api/orgs/org-acme/events", `{
		"event_type": "user.created",
		"event_data": {"email": "a@example.com"},
		"user_id": "usr-1"
	}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		ID       string  `json:"id"`
		SelfHash string  `json:"self_hash"`
		PrevHash *string `json:"prev_hash"`
		Flagged  bool    `json:"flagged"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.ID == "" || len(resp.SelfHash) != 64 {
		t.Errorf("response should carry id and self_hash: %+v", resp)
	}
	if resp.PrevHash != nil {
		t.Error("genesis record should have nil prev_hash")
	}
	if resp.Flagged {
		t.Error("user.created should not be flagged by default rules")
	}

	// Second event links to the first.
	w = postEvent(h, "/api/orgs/org-acme/events", `{"event_type": "user.updated"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("second event: expected 201, got %d", w.Code)
	}
	var resp2 struct {
		PrevHash *string `json:"prev_hash"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp2)
	if resp2.PrevHash == nil || *resp2.PrevHash != resp.SelfHash {
		t.Error("second record should link to the first record's self_hash")
	}

	// Chain verifies clean.
	result, err := led.VerifyOrg("org-acme")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Valid || result.TotalRecords != 2 {
		t.Errorf("chain should verify with 2 records: %+v", result)
	}
}

func TestIngest_FlaggedEvent(t *testing.T) {
	h, _, _ := newTestHandler(t)

	w := postEvent(h, "/api/orgs/org-acme/events", `{"event_type": "user.deleted"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("flagged events are still appended: expected 201, got %d", w.Code)
	}

	var resp struct {
		Flagged bool   `json:"flagged"`
		Rule    string `json:"rule"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Flagged || resp.Rule != "flag_deletions" {
		t.Errorf("expected flag_deletions, got %+v", resp)
	}
}

func TestIngest_FrozenOrg(t *testing.T) {
	h, led, freeze := newTestHandler(t)

	if err := freeze.Freeze("org-acme", "tampering detected", "test"); err != nil {
		t.Fatal(err)
	}

	w := postEvent(h, "/api/orgs/org-acme/events", `{"event_type": "user.created"}`)
	if w.Code != http.StatusLocked {
		t.Fatalf("frozen org: expected 423, got %d", w.Code)
	}
	if led.Count("org-acme") != 0 {
		t.Error("no record should be appended for a frozen organization")
	}

	// Other organizations are unaffected.
	w = postEvent(h, "/api/orgs/org-globex/events", `{"event_type": "user.created"}`)
	if w.Code != http.StatusCreated {
		t.Errorf("unfrozen org: expected 201, got %d", w.Code)
	}
}

func TestIngest_Validation(t *testing.T) {
	h, _, _ := newTestHandler(t)

	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
	}{
		{"missing event_type", "/api/orgs/org-acme/events", `{"event_data": {}}`, http.StatusBadRequest},
		{"invalid json", "/api/orgs/org-acme/events", `{not json`, http.StatusBadRequest},
		{"bad path", "/api/orgs/org-acme/records", `{"event_type": "x"}`, http.StatusNotFound},
		{"empty org", "/api/orgs//events", `{"event_type": "x"}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postEvent(h, tt.path, tt.body)
			if w.Code != tt.wantCode {
				t.Errorf("expected %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
		})
	}
}

func TestIngest_MethodNotAllowed(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/orgs/org-acme/events", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestIngest_SourceMetadataFallback(t *testing.T) {
	h, led, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/orgs/org-acme/events",
		strings.NewReader(`{"event_type": "auth.login.succeeded"}`))
	req.Header.Set("User-Agent", "acme-backend/2.1")
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}

	records, err := led.Records("org-acme")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	r := records[0]
	if r.IPAddress == nil || *r.IPAddress != "203.0.113.9" {
		t.Errorf("ip_address should come from X-Forwarded-For first hop, got %v", r.IPAddress)
	}
	if r.UserAgent == nil || *r.UserAgent != "acme-backend/2.1" {
		t.Errorf("user_agent should come from the request header, got %v", r.UserAgent)
	}
}

func TestIngest_ExplicitMetadataWins(t *testing.T) {
	h, led, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/orgs/org-acme/events",
		strings.NewReader(`{"event_type": "auth.login.succeeded", "ip_address": "198.51.100.4", "user_agent": "mobile-app/1.0"}`))
	req.Header.Set("User-Agent", "acme-backend/2.1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}

	records, _ := led.Records("org-acme")
	r := records[0]
	if r.IPAddress == nil || *r.IPAddress != "198.51.100.4" {
		t.Errorf("explicit ip_address should win, got %v", r.IPAddress)
	}
	if r.UserAgent == nil || *r.UserAgent != "mobile-app/1.0" {
		t.Errorf("explicit user_agent should win, got %v", r.UserAgent)
	}
}

func TestIngest_Broadcast(t *testing.T) {
	dir := t.TempDir()
	led, err := ledger.Open(filepath.Join(dir, "ledger"))
	if err != nil {
		t.Fatal(err)
	}
	defer led.Close()
	registry, _ := org.NewRegistry(filepath.Join(dir, "orgs.yaml"))
	freeze, _ := org.NewFreezeSwitch(filepath.Join(dir, "frozen.yaml"))
	engine, _ := alert.New(filepath.Join(dir, "alerts.yaml"))

	var gotRecord chain.Record
	var gotDecision alert.Decision
	h := New(Options{
		Ledger:       led,
		Registry:     registry,
		FreezeSwitch: freeze,
		Engine:       engine,
		OnRecord: func(r chain.Record, d alert.Decision) {
			gotRecord = r
			gotDecision = d
		},
	})

	w := postEvent(h, "/api/orgs/org-acme/events", `{"event_type": "data.export.completed"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}

	if gotRecord.EventType != "data.export.completed" {
		t.Errorf("broadcast should carry the appended record, got %+v", gotRecord)
	}
	if !gotDecision.Flagged || gotDecision.Rule != "flag_exports" {
		t.Errorf("broadcast should carry the alert decision, got %+v", gotDecision)
	}
}
