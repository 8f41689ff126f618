package chain

import (
	"regexp"
	"strings"
	"testing"
	"time"
)

func strptr(s string) *string { return &s }

// baseRecord returns a fully populated record with a fixed timestamp.
func baseRecord() Record {
	return Record{
		ID:             "rec-001",
		OrganizationID: "org-acme",
		EventType:      "contact.created",
		EventData: map[string]any{
			"contactId": "c1",
			"fields": map[string]any{
				"name":  "Ada",
				"email": "ada@example.com",
			},
			"tags": []any{"b", "a"},
		},
		UserID:    strptr("user-7"),
		IPAddress: strptr("10.0.0.1"),
		UserAgent: strptr("curl/8.0"),
		CreatedAt: time.Date(2026, 2, 12, 10, 0, 0, 0, time.UTC),
	}
}

func TestCanonicalize_Deterministic(t *testing.T) {
	r := baseRecord()
	if Canonicalize(r) != Canonicalize(r) {
		t.Error("repeated calls on an unchanged record should produce identical output")
	}
}

func TestCanonicalize_ExactForm(t *testing.T) {
	r := Record{
		OrganizationID: "org-acme",
		EventType:      "contact.created",
		EventData:      map[string]any{"b": int64(2), "a": "x"},
		UserID:         strptr("u1"),
		CreatedAt:      time.Date(2026, 2, 12, 10, 0, 0, 0, time.UTC),
	}

	want := `{"created_at":"2026-02-12T10:00:00Z",` +
		`"event_data":{"a":"x","b":2},` +
		`"event_type":"contact.created",` +
		`"ip_address":null,` +
		`"organization_id":"org-acme",` +
		`"user_agent":null,` +
		`"user_id":"u1"}`

	if got := Canonicalize(r); got != want {
		t.Errorf("canonical form mismatch:\n got  %s\n want %s", got, want)
	}
}

func TestCanonicalize_SortsNestedKeys(t *testing.T) {
	r := baseRecord()
	out := Canonicalize(r)

	// Deep key sort: "email" before "name" inside fields, "contactId"
	// before "fields" before "tags" at the event_data level.
	wantData := `"event_data":{"contactId":"c1","fields":{"email":"ada@example.com","name":"Ada"},"tags":["b","a"]}`
	if !strings.Contains(out, wantData) {
		t.Errorf("event_data not deep-sorted:\n got %s", out)
	}
}

func TestCanonicalize_NullNotOmitted(t *testing.T) {
	r := baseRecord()
	r.UserID = nil
	r.IPAddress = nil
	r.UserAgent = nil

	out := Canonicalize(r)
	for _, field := range []string{`"user_id":null`, `"ip_address":null`, `"user_agent":null`} {
		if !strings.Contains(out, field) {
			t.Errorf("canonical output should contain %s, got %s", field, out)
		}
	}
}

func TestCanonicalize_ExcludesIdentityFields(t *testing.T) {
	r := baseRecord()
	r.ID = "the-record-id-value"
	r.PrevHash = strptr("f00dface" + strings.Repeat("00", 28))
	r.SelfHash = "deadbeef" + strings.Repeat("11", 28)

	out := Canonicalize(r)
	if strings.Contains(out, r.ID) {
		t.Error("canonical output must not contain the record ID")
	}
	if strings.Contains(out, *r.PrevHash) {
		t.Error("canonical output must not contain prev_hash")
	}
	if strings.Contains(out, r.SelfHash) {
		t.Error("canonical output must not contain self_hash")
	}
}

func TestCanonicalize_TimestampZoneNormalized(t *testing.T) {
	eastern := time.FixedZone("UTC-5", -5*3600)
	utc := baseRecord()
	shifted := baseRecord()
	shifted.CreatedAt = utc.CreatedAt.In(eastern)

	if Canonicalize(utc) != Canonicalize(shifted) {
		t.Error("same instant in different zones should canonicalize identically")
	}
}

func TestContentHash_Format(t *testing.T) {
	hexHash := regexp.MustCompile(`^[0-9a-f]{64}$`)

	h := ContentHash(baseRecord())
	if !hexHash.MatchString(h) {
		t.Errorf("hash %q does not match ^[0-9a-f]{64}$", h)
	}
	if h != ContentHash(baseRecord()) {
		t.Error("hash should be deterministic")
	}
}

func TestContentHash_FieldSensitivity(t *testing.T) {
	base := ContentHash(baseRecord())

	// Every hashable field change must change the digest.
	changes := []struct {
		name   string
		modify func(r *Record)
	}{
		{"organization_id", func(r *Record) { r.OrganizationID = "org-other" }},
		{"event_type", func(r *Record) { r.EventType = "contact.updated" }},
		{"event_data", func(r *Record) { r.EventData = map[string]any{"contactId": "c2"} }},
		{"user_id", func(r *Record) { r.UserID = nil }},
		{"ip_address", func(r *Record) { r.IPAddress = strptr("10.0.0.2") }},
		{"user_agent", func(r *Record) { r.UserAgent = strptr("other") }},
		{"created_at", func(r *Record) { r.CreatedAt = r.CreatedAt.Add(time.Second) }},
	}
	for _, tt := range changes {
		t.Run(tt.name, func(t *testing.T) {
			r := baseRecord()
			tt.modify(&r)
			if ContentHash(r) == base {
				t.Errorf("changing %s should change the content hash", tt.name)
			}
		})
	}

	// Identity and link fields must not affect the digest.
	ignored := []struct {
		name   string
		modify func(r *Record)
	}{
		{"id", func(r *Record) { r.ID = "different-id" }},
		{"prev_hash", func(r *Record) { r.PrevHash = strptr(strings.Repeat("ab", 32)) }},
		{"self_hash", func(r *Record) { r.SelfHash = strings.Repeat("cd", 32) }},
	}
	for _, tt := range ignored {
		t.Run(tt.name+"_ignored", func(t *testing.T) {
			r := baseRecord()
			tt.modify(&r)
			if ContentHash(r) != base {
				t.Errorf("changing %s should not change the content hash", tt.name)
			}
		})
	}
}

func TestLink(t *testing.T) {
	r := baseRecord()

	genesis := Link(r, nil)
	if genesis.PrevHash != nil {
		t.Error("Link with nil prevHash should keep prev_hash nil")
	}
	if genesis.SelfHash != ContentHash(r) {
		t.Error("Link self_hash should equal the record's content hash")
	}

	head := ContentHash(baseRecord())
	linked := Link(r, &head)
	if linked.PrevHash == nil || *linked.PrevHash != head {
		t.Error("Link should pass a non-nil prevHash through unchanged")
	}
	if linked.SelfHash != genesis.SelfHash {
		t.Error("self_hash must be independent of prevHash")
	}
}
