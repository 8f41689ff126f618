package alert

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/auditchain/auditchain/internal/chain"
)

// helper to build a record for evaluation.
func rec(eventType string, data any) chain.Record {
	return chain.Record{
		OrganizationID: "org-test",
		EventType:      eventType,
		EventData:      data,
		CreatedAt:      time.Now().UTC(),
	}
}

func strptr(s string) *string { return &s }

// newDefaultEngine returns an engine with default builtins (no rules file).
func newDefaultEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return e
}

// --- matchesRule tests (via Evaluate) ---

func TestEvaluate_DefaultNotFlagged(t *testing.T) {
	e := newDefaultEngine(t)
	d := e.Evaluate(rec("user.profile.viewed", nil))
	if d.Flagged {
		t.Errorf("expected not flagged, got %+v", d)
	}
	if d.Rule != "" {
		t.Errorf("expected empty rule, got %q", d.Rule)
	}
}

func TestEvaluate_EventGlob(t *testing.T) {
	e := newDefaultEngine(t)

	// flag_deletions matches event: [**.deleted, **.purged]
	tests := []struct {
		event   string
		flagged bool
		rule    string
	}{
		{"user.deleted", true, "flag_deletions"},
		{"project.item.deleted", true, "flag_deletions"},
		{"archive.purged", true, "flag_deletions"},
		{"user.created", false, ""},
		{"deleted", false, ""},
	}
	for _, tt := range tests {
		d := e.Evaluate(rec(tt.event, nil))
		if d.Flagged != tt.flagged {
			t.Errorf("event=%q: flagged=%v, want %v (rule: %s)", tt.event, d.Flagged, tt.flagged, d.Rule)
		}
		if tt.rule != "" && d.Rule != tt.rule {
			t.Errorf("event=%q: expected rule %q, got %q", tt.event, tt.rule, d.Rule)
		}
	}
}

func TestEvaluate_GlobSeparator(t *testing.T) {
	e := newDefaultEngine(t)
	err := e.AddRule(`
name: flag_user_direct
match:
  event: user.*
severity: info
message: direct user event
`)
	if err != nil {
		t.Fatal(err)
	}

	// "user.*" with '.' separator matches one segment only.
	d := e.Evaluate(rec("user.created", nil))
	if d.Rule != "flag_user_direct" {
		t.Errorf("user.created should match user.*, got %+v", d)
	}

	d = e.Evaluate(rec("user.role.changed", nil))
	if d.Rule == "flag_user_direct" {
		t.Error("user.role.changed should not match single-segment user.*")
	}
}

func TestEvaluate_OrgExactMatch(t *testing.T) {
	e := newDefaultEngine(t)
	err := e.AddRule(`
name: watch_acme
match:
  event: "**"
  org: org-acme
severity: info
message: watching acme
`)
	if err != nil {
		t.Fatal(err)
	}

	r := rec("user.profile.viewed", nil)
	r.OrganizationID = "org-acme"
	if d := e.Evaluate(r); d.Rule != "watch_acme" {
		t.Errorf("org-acme: expected watch_acme, got %+v", d)
	}

	r.OrganizationID = "org-globex"
	if d := e.Evaluate(r); d.Rule == "watch_acme" {
		t.Error("org-globex should not match watch_acme")
	}
}

func TestEvaluate_UserMatch(t *testing.T) {
	e := newDefaultEngine(t)
	err := e.AddRule(`
name: watch_contractor
match:
  user: [usr-9, usr-10]
severity: warning
message: contractor activity
`)
	if err != nil {
		t.Fatal(err)
	}

	r := rec("document.viewed", nil)
	r.UserID = strptr("usr-9")
	if d := e.Evaluate(r); d.Rule != "watch_contractor" {
		t.Errorf("usr-9: expected watch_contractor, got %+v", d)
	}

	r.UserID = strptr("usr-1")
	if d := e.Evaluate(r); d.Rule == "watch_contractor" {
		t.Error("usr-1 should not match watch_contractor")
	}

	// No user on the record at all.
	r.UserID = nil
	if d := e.Evaluate(r); d.Rule == "watch_contractor" {
		t.Error("nil user should not match watch_contractor")
	}
}

func TestEvaluate_DataContains(t *testing.T) {
	e := newDefaultEngine(t)

	// flag_admin_grant: event user.role.** AND data containing "admin".
	d := e.Evaluate(rec("user.role.granted", map[string]any{"role": "admin"}))
	if !d.Flagged || d.Rule != "flag_admin_grant" {
		t.Errorf("expected flag_admin_grant, got %+v", d)
	}

	// Case-insensitive.
	d = e.Evaluate(rec("user.role.granted", map[string]any{"role": "ADMIN"}))
	if d.Rule != "flag_admin_grant" {
		t.Errorf("case-insensitive: expected flag_admin_grant, got %+v", d)
	}

	// Non-admin role grant falls through to flag_role_changes.
	d = e.Evaluate(rec("user.role.granted", map[string]any{"role": "viewer"}))
	if d.Rule != "flag_role_changes" {
		t.Errorf("viewer grant: expected flag_role_changes, got %+v", d)
	}
}

func TestEvaluate_DataRegex(t *testing.T) {
	e := newDefaultEngine(t)

	// flag_api_key_leak matches live key patterns in any event payload.
	d := e.Evaluate(rec("webhook.delivered", map[string]any{
		"body": "authorization: sk_live_abcdef0123456789XYZ",
	}))
	if !d.Flagged || d.Rule != "flag_api_key_leak" {
		t.Errorf("expected flag_api_key_leak, got %+v", d)
	}

	d = e.Evaluate(rec("webhook.delivered", map[string]any{"body": "hello"}))
	if d.Rule == "flag_api_key_leak" {
		t.Error("plain payload should not match flag_api_key_leak")
	}
}

func TestEvaluate_IPRegex(t *testing.T) {
	e := newDefaultEngine(t)
	err := e.AddRule(`
name: flag_tor_exit
match:
  event: "**"
  ip_regex: "^203\\.0\\.113\\."
severity: warning
message: request from watched address block
`)
	if err != nil {
		t.Fatal(err)
	}

	r := rec("auth.login.succeeded", nil)
	r.IPAddress = strptr("203.0.113.7")
	if d := e.Evaluate(r); d.Rule != "flag_tor_exit" {
		t.Errorf("watched IP: expected flag_tor_exit, got %+v", d)
	}

	r.IPAddress = strptr("10.0.0.5")
	if d := e.Evaluate(r); d.Rule == "flag_tor_exit" {
		t.Error("other IP should not match flag_tor_exit")
	}

	// Rule requires an IP; records without one don't match.
	r.IPAddress = nil
	if d := e.Evaluate(r); d.Rule == "flag_tor_exit" {
		t.Error("nil IP should not match flag_tor_exit")
	}
}

func TestEvaluate_ANDLogicAcrossFields(t *testing.T) {
	e := newDefaultEngine(t)
	err := e.AddRule(`
name: strict_rule
match:
  event: billing.**
  org: org-acme
  data_contains: refund
severity: critical
message: acme refund activity
`)
	if err != nil {
		t.Fatal(err)
	}

	r := rec("billing.invoice.updated", map[string]any{"action": "refund"})
	r.OrganizationID = "org-acme"
	if d := e.Evaluate(r); d.Rule != "strict_rule" {
		t.Errorf("all match: expected strict_rule, got %+v", d)
	}

	// Wrong org.
	r.OrganizationID = "org-globex"
	if d := e.Evaluate(r); d.Rule == "strict_rule" {
		t.Error("wrong org should not match strict_rule")
	}

	// Wrong event.
	r2 := rec("user.updated", map[string]any{"action": "refund"})
	r2.OrganizationID = "org-acme"
	if d := e.Evaluate(r2); d.Rule == "strict_rule" {
		t.Error("wrong event should not match strict_rule")
	}

	// Missing substring.
	r3 := rec("billing.invoice.updated", map[string]any{"action": "charge"})
	r3.OrganizationID = "org-acme"
	if d := e.Evaluate(r3); d.Rule == "strict_rule" {
		t.Error("missing substring should not match strict_rule")
	}
}

// --- Built-in rule tests ---

func TestBuiltinRules(t *testing.T) {
	e := newDefaultEngine(t)

	tests := []struct {
		name     string
		record   chain.Record
		wantRule string
		wantFlag bool
	}{
		{
			name:     "failed login",
			record:   rec("auth.login.failed", map[string]any{"attempts": 3}),
			wantRule: "flag_auth_failures",
			wantFlag: true,
		},
		{
			name:     "mfa disabled",
			record:   rec("auth.mfa.disabled", nil),
			wantRule: "flag_mfa_disabled",
			wantFlag: true,
		},
		{
			name:     "role change",
			record:   rec("user.role.changed", map[string]any{"from": "viewer", "to": "editor"}),
			wantRule: "flag_role_changes",
			wantFlag: true,
		},
		{
			name:     "admin grant",
			record:   rec("user.role.granted", map[string]any{"role": "owner"}),
			wantRule: "flag_admin_grant",
			wantFlag: true,
		},
		{
			name:     "record deletion",
			record:   rec("customer.record.deleted", nil),
			wantRule: "flag_deletions",
			wantFlag: true,
		},
		{
			name:     "data export",
			record:   rec("data.export.completed", map[string]any{"rows": 50000}),
			wantRule: "flag_exports",
			wantFlag: true,
		},
		{
			name:     "routine login",
			record:   rec("auth.login.succeeded", nil),
			wantFlag: false,
		},
		{
			name:     "routine view",
			record:   rec("document.viewed", map[string]any{"doc": "readme"}),
			wantFlag: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Evaluate(tt.record)
			if tt.wantFlag {
				if !d.Flagged {
					t.Errorf("expected flagged, got %+v", d)
				}
				if tt.wantRule != "" && d.Rule != tt.wantRule {
					t.Errorf("expected rule %q, got %q", tt.wantRule, d.Rule)
				}
			} else {
				if d.Flagged {
					t.Errorf("expected not flagged, got %+v", d)
				}
			}
		})
	}
}

// --- Builtin toggle test ---

func TestBuiltinToggle_Disabled(t *testing.T) {
	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "alerts.yaml")
	err := os.WriteFile(rulesPath, []byte(`rules: []
builtin:
  flag_deletions: false
`), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	e, err := New(rulesPath)
	if err != nil {
		t.Fatal(err)
	}

	// Deletions should now pass since we toggled the rule off.
	d := e.Evaluate(rec("user.deleted", nil))
	if d.Flagged {
		t.Errorf("disabled deletion rule: expected not flagged, got %+v", d)
	}

	// Unspecified builtins keep their defaults.
	d = e.Evaluate(rec("auth.login.failed", nil))
	if !d.Flagged || d.Rule != "flag_auth_failures" {
		t.Errorf("auth failures should still be flagged: got %+v", d)
	}
}

// --- AddRule / RemoveRule tests ---

func TestAddRule(t *testing.T) {
	e := newDefaultEngine(t)
	before := e.CustomCount()

	err := e.AddRule(`
name: my_custom_rule
match:
  event: invoice.voided
severity: warning
message: voided invoice
`)
	if err != nil {
		t.Fatal(err)
	}

	if e.CustomCount() != before+1 {
		t.Errorf("expected custom count %d, got %d", before+1, e.CustomCount())
	}

	d := e.Evaluate(rec("invoice.voided", nil))
	if !d.Flagged || d.Rule != "my_custom_rule" {
		t.Errorf("custom rule should match: got %+v", d)
	}
}

func TestAddRule_NoName(t *testing.T) {
	e := newDefaultEngine(t)
	err := e.AddRule(`
match:
  event: something
`)
	if err == nil {
		t.Error("expected error for rule without name")
	}
}

func TestAddRule_DefaultsToWarning(t *testing.T) {
	e := newDefaultEngine(t)
	err := e.AddRule(`
name: default_severity_test
match:
  event: some.event
`)
	if err != nil {
		t.Fatal(err)
	}

	d := e.Evaluate(rec("some.event", nil))
	if d.Severity != "warning" {
		t.Errorf("expected default severity warning, got %q", d.Severity)
	}
}

func TestAddRule_InvalidGlob(t *testing.T) {
	e := newDefaultEngine(t)
	err := e.AddRule(`
name: bad_glob
match:
  event: "[unclosed"
`)
	if err == nil {
		t.Error("expected error for invalid glob pattern")
	}
}

func TestRemoveRule(t *testing.T) {
	e := newDefaultEngine(t)
	_ = e.AddRule(`
name: temp_rule
match:
  event: temp.test
severity: info
`)

	d := e.Evaluate(rec("temp.test", nil))
	if d.Rule != "temp_rule" {
		t.Fatalf("temp_rule should match, got %+v", d)
	}

	if err := e.RemoveRule("temp_rule"); err != nil {
		t.Fatal(err)
	}

	d = e.Evaluate(rec("temp.test", nil))
	if d.Rule == "temp_rule" {
		t.Error("temp_rule should no longer match after removal")
	}
}

func TestRemoveRule_NotFound(t *testing.T) {
	e := newDefaultEngine(t)
	if err := e.RemoveRule("nonexistent_rule"); err == nil {
		t.Error("expected error when removing nonexistent rule")
	}
}

// --- TestJSON ---

func TestTestJSON(t *testing.T) {
	e := newDefaultEngine(t)

	d, err := e.TestJSON(`{"event_type":"user.deleted","event_data":{"id":"u-1"}}`)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Flagged || d.Rule != "flag_deletions" {
		t.Errorf("expected flag_deletions, got %+v", d)
	}

	d, err = e.TestJSON(`{"event_type":"user.created"}`)
	if err != nil {
		t.Fatal(err)
	}
	if d.Flagged {
		t.Errorf("expected not flagged for user.created, got %+v", d)
	}
}

func TestTestJSON_Invalid(t *testing.T) {
	e := newDefaultEngine(t)
	if _, err := e.TestJSON(`not valid json`); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, err := e.TestJSON(`{"event_data":{}}`); err == nil {
		t.Error("expected error for missing event_type")
	}
}

// --- Counts and ListRules ---

func TestEngineCountsAndList(t *testing.T) {
	e := newDefaultEngine(t)

	if e.TotalRules() == 0 {
		t.Error("expected non-zero total rules from defaults")
	}
	if e.BuiltinCount() == 0 {
		t.Error("expected non-zero builtin count")
	}
	if e.CustomCount() != 0 {
		t.Errorf("expected 0 custom rules, got %d", e.CustomCount())
	}
	if e.TotalRules() != e.BuiltinCount()+e.CustomCount() {
		t.Error("total should equal builtin + custom")
	}

	rules := e.ListRules()
	if len(rules) != e.TotalRules() {
		t.Errorf("ListRules len %d != TotalRules %d", len(rules), e.TotalRules())
	}
	for _, r := range rules {
		if r.Name == "" {
			t.Error("rule with empty name in ListRules")
		}
	}
}

// --- Save / Reload ---

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "alerts.yaml")

	e, _ := New(filepath.Join(dir, "nonexistent.yaml"))
	_ = e.AddRule(`
name: persist_test
match:
  event: persist.check
severity: info
message: persistence test
`)

	if err := e.Save(rulesPath); err != nil {
		t.Fatal(err)
	}

	e2, err := New(rulesPath)
	if err != nil {
		t.Fatal(err)
	}

	d := e2.Evaluate(rec("persist.check", nil))
	if !d.Flagged || d.Rule != "persist_test" {
		t.Errorf("reloaded engine should have persist_test rule: got %+v", d)
	}
}

// --- First-match-wins ordering ---

func TestFirstMatchWins(t *testing.T) {
	e := newDefaultEngine(t)

	// Builtins come before custom rules, so a builtin match wins even
	// when a custom rule would also fire.
	_ = e.AddRule(`
name: custom_deletion_watch
match:
  event: "**.deleted"
severity: info
message: custom deletion watch
`)

	d := e.Evaluate(rec("user.deleted", nil))
	if d.Rule != "flag_deletions" {
		t.Errorf("expected builtin flag_deletions to win, got %q", d.Rule)
	}
}

// --- stringOrList YAML unmarshaling ---

func TestStringOrList_Unmarshal(t *testing.T) {
	e := newDefaultEngine(t)

	err := e.AddRule(`
name: single_event_test
match:
  event: single.event
severity: info
`)
	if err != nil {
		t.Fatal(err)
	}
	d := e.Evaluate(rec("single.event", nil))
	if d.Rule != "single_event_test" {
		t.Errorf("single string event should match: got %+v", d)
	}
}
