// Package dashboard serves the auditchain web UI and REST API.
//
// The dashboard is mounted on /dashboard and /api/ on the same port as
// the ingest endpoint. It provides:
//
//   - Web UI:     GET /dashboard           — Single-page HTML dashboard
//   - WebSocket:  GET /dashboard/ws        — Live event feed
//   - REST API:   GET /api/status          — Server status
//                 GET /api/orgs            — Organization list with stats
//                 GET /api/records         — Recent ledger records
//                 GET /api/verify          — Verify one or all chains
//                 GET /api/alerts          — List alert rules
//                 POST /api/alerts         — Add a custom alert rule
//                 POST /api/alerts/delete  — Remove a custom alert rule
//                 POST /api/freeze         — Freeze an organization's trail
//                 POST /api/unfreeze      — Unfreeze an organization's trail
//
// The web UI is a minimal embedded HTML page (no build step, no framework).
package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/auditchain/auditchain/internal/alert"
	"github.com/auditchain/auditchain/internal/chain"
	"github.com/auditchain/auditchain/internal/ledger"
	"github.com/auditchain/auditchain/internal/org"
)

// Options holds the dependencies injected into the dashboard.
type Options struct {
	Ledger       *ledger.Ledger
	Registry     *org.Registry
	FreezeSwitch *org.FreezeSwitch
	Engine       *alert.Engine
	AlertsPath   string // Path to alerts.yaml for saving after modifications.
}

// Dashboard serves the web UI and REST API.
// Implements http.Handler for the dashboard UI routes.
type Dashboard struct {
	ledger       *ledger.Ledger
	registry     *org.Registry
	freezeSwitch *org.FreezeSwitch
	engine       *alert.Engine
	alertsPath   string
	wsHub        *wsHub
}

// New creates a new Dashboard with the given dependencies.
func New(opts Options) *Dashboard {
	d := &Dashboard{
		ledger:       opts.Ledger,
		registry:     opts.Registry,
		freezeSwitch: opts.FreezeSwitch,
		engine:       opts.Engine,
		alertsPath:   opts.AlertsPath,
		wsHub:        newWSHub(),
	}

	// Start the WebSocket broadcast hub.
	go d.wsHub.run()

	return d
}

// ServeHTTP handles requests to /dashboard and /dashboard/.
// Serves a minimal embedded HTML dashboard.
func (d *Dashboard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(dashboardHTML))
}

// WebSocketHandler returns an http.Handler for the /dashboard/ws endpoint.
// Clients connect here to receive the live event feed.
func (d *Dashboard) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.handleWebSocket(w, r)
	})
}

// APIHandler returns an http.Handler for the /api/ REST endpoints.
// Routes requests to the appropriate handler based on path and method.
func (d *Dashboard) APIHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", d.handleAPIStatus)
	mux.HandleFunc("/api/orgs", d.handleAPIOrgs)
	mux.HandleFunc("/api/records", d.handleAPIRecords)
	mux.HandleFunc("/api/verify", d.handleAPIVerify)
	mux.HandleFunc("/api/alerts", d.handleAPIAlerts)
	mux.HandleFunc("/api/alerts/delete", d.handleAPIAlertsDelete)
	mux.HandleFunc("/api/freeze", d.handleAPIFreeze)
	mux.HandleFunc("/api/unfreeze", d.handleAPIUnfreeze)

	return mux
}

// feedEvent is the JSON envelope broadcast to WebSocket clients for each
// appended record.
type feedEvent struct {
	Org       string `json:"org"`
	EventType string `json:"event_type"`
	RecordID  string `json:"record_id"`
	SelfHash  string `json:"self_hash"`
	CreatedAt string `json:"created_at"`
	Flagged   bool   `json:"flagged"`
	Rule      string `json:"rule,omitempty"`
	Severity  string `json:"severity,omitempty"`
}

// BroadcastEvent sends an appended record to all connected WebSocket
// clients. Called by the ingest handler after each append. Non-blocking —
// if no clients are connected, the event is dropped.
func (d *Dashboard) BroadcastEvent(rec chain.Record, decision alert.Decision) {
	ev := feedEvent{
		Org:       rec.OrganizationID,
		EventType: rec.EventType,
		RecordID:  rec.ID,
		SelfHash:  rec.SelfHash,
		CreatedAt: rec.CreatedAt.Format("15:04:05"),
		Flagged:   decision.Flagged,
		Rule:      decision.Rule,
		Severity:  decision.Severity,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to marshal broadcast event", "error", err)
		return
	}
	d.wsHub.broadcast(data)
}

// --- REST API Handlers ---

// handleAPIStatus returns server status information.
// GET /api/status
func (d *Dashboard) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	status := map[string]any{
		"status":        "running",
		"organizations": len(d.registry.List()),
		"frozen":        len(d.freezeSwitch.List()),
		"total_rules":   d.engine.TotalRules(),
		"builtin_rules": d.engine.BuiltinCount(),
		"custom_rules":  d.engine.CustomCount(),
	}

	writeJSON(w, http.StatusOK, status)
}

// handleAPIOrgs returns the list of all registered organizations with
// stats and their frozen state.
// GET /api/orgs
func (d *Dashboard) handleAPIOrgs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	type orgJSON struct {
		org.Organization
		Frozen bool `json:"frozen"`
	}

	orgs := d.registry.List()
	out := make([]orgJSON, 0, len(orgs))
	for _, o := range orgs {
		out = append(out, orgJSON{
			Organization: o,
			Frozen:       d.freezeSwitch.IsFrozen(o.ID),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleAPIRecords returns recent ledger records.
// GET /api/records?limit=50&org=org-acme&event=auth.*&since=1h
func (d *Dashboard) handleAPIRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	params := ledger.QueryParams{
		Org:   r.URL.Query().Get("org"),
		Event: r.URL.Query().Get("event"),
		Since: r.URL.Query().Get("since"),
		Limit: limit,
	}

	records, err := d.ledger.Query(params)
	if err != nil {
		slog.Error("record query failed", "error", err)
		http.Error(w, "record query failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, records)
}

// verifyResultJSON is one organization's verification outcome in the
// /api/verify response.
type verifyResultJSON struct {
	Org    string                    `json:"org"`
	Valid  bool                      `json:"valid"`
	Total  int                       `json:"total_records"`
	Errors []chain.VerificationError `json:"errors"`
}

// handleAPIVerify verifies one or all chains and records the outcome in
// the registry.
// GET /api/verify            — verify every organization's chain
// GET /api/verify?org=acme   — verify one organization's chain
func (d *Dashboard) handleAPIVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	orgs := d.ledger.Organizations()
	if only := r.URL.Query().Get("org"); only != "" {
		orgs = []string{only}
	}

	results := make([]verifyResultJSON, 0, len(orgs))
	for _, id := range orgs {
		result, err := d.ledger.VerifyOrg(id)
		if err != nil {
			slog.Error("verification failed", "org", id, "error", err)
			http.Error(w, "verification failed", http.StatusInternalServerError)
			return
		}
		d.registry.RecordVerification(id, result.Valid, len(result.Errors))
		results = append(results, verifyResultJSON{
			Org:    id,
			Valid:  result.Valid,
			Total:  result.TotalRecords,
			Errors: result.Errors,
		})
	}

	writeJSON(w, http.StatusOK, results)
}

// handleAPIAlerts handles alert rule listing and creation.
// GET  /api/alerts                     — List all rules
// POST /api/alerts  { "yaml": "..." }  — Add a custom rule
func (d *Dashboard) handleAPIAlerts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rules := d.engine.ListRules()
		writeJSON(w, http.StatusOK, rules)

	case http.MethodPost:
		var req struct {
			YAML string `json:"yaml"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if req.YAML == "" {
			http.Error(w, "yaml field required", http.StatusBadRequest)
			return
		}
		if err := d.engine.AddRule(req.YAML); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if d.alertsPath != "" {
			if err := d.engine.Save(d.alertsPath); err != nil {
				slog.Error("failed to save alert rules after add", "error", err)
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "added"})

	default:
		http.Error(w, "GET or POST only", http.StatusMethodNotAllowed)
	}
}

// handleAPIAlertsDelete removes a custom alert rule by name.
// POST /api/alerts/delete  { "name": "my_rule" }
func (d *Dashboard) handleAPIAlertsDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name field required", http.StatusBadRequest)
		return
	}

	if err := d.engine.RemoveRule(req.Name); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if d.alertsPath != "" {
		if err := d.engine.Save(d.alertsPath); err != nil {
			slog.Error("failed to save alert rules after remove", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "name": req.Name})
}

// handleAPIFreeze freezes an organization's trail via the REST API.
// POST /api/freeze  { "org": "org-acme", "reason": "tampering detected" }
func (d *Dashboard) handleAPIFreeze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Org    string `json:"org"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	if req.Org == "" {
		http.Error(w, "org field required", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = "frozen via dashboard API"
	}

	if err := d.freezeSwitch.Freeze(req.Org, req.Reason, "dashboard"); err != nil {
		slog.Error("freeze via API failed", "org", req.Org, "error", err)
		http.Error(w, "freeze failed", http.StatusInternalServerError)
		return
	}

	d.registry.SetStatus(req.Org, "frozen")
	writeJSON(w, http.StatusOK, map[string]string{"status": "frozen", "org": req.Org})
}

// handleAPIUnfreeze unfreezes an organization's trail via the REST API.
// POST /api/unfreeze  { "org": "org-acme" }
func (d *Dashboard) handleAPIUnfreeze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Org string `json:"org"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	if req.Org == "" {
		http.Error(w, "org field required", http.StatusBadRequest)
		return
	}

	if err := d.freezeSwitch.Unfreeze(req.Org); err != nil {
		slog.Error("unfreeze via API failed", "org", req.Org, "error", err)
		http.Error(w, "unfreeze failed", http.StatusInternalServerError)
		return
	}

	d.registry.SetStatus(req.Org, "active")
	writeJSON(w, http.StatusOK, map[string]string{"status": "unfrozen", "org": req.Org})
}

// --- Helpers ---

// writeJSON sends a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

// dashboardHTML is the embedded HTML for the dashboard. Minimal
// single-page UI that shows trail health, organization stats, and the
// live event feed. Refreshes via periodic fetch + WebSocket.
const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>auditchain Dashboard</title>
<style>
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
         background: #0f1117; color: #e1e4e8; padding: 24px; }
  h1 { font-size: 24px; margin-bottom: 8px; }
  .subtitle { color: #8b949e; margin-bottom: 24px; }
  .grid { display: grid; grid-template-columns: 1fr 1fr; gap: 16px; margin-bottom: 24px; }
  .card { background: #161b22; border: 1px solid #30363d; border-radius: 8px; padding: 16px; }
  .card h2 { font-size: 14px; color: #8b949e; text-transform: uppercase; margin-bottom: 12px; }
  table { width: 100%; border-collapse: collapse; font-size: 13px; }
  th { text-align: left; color: #8b949e; padding: 6px 8px; border-bottom: 1px solid #30363d; }
  td { padding: 6px 8px; border-bottom: 1px solid #21262d; }
  .status-active { color: #3fb950; }
  .status-frozen { color: #58a6ff; }
  .chain-valid { color: #3fb950; }
  .chain-broken { color: #f85149; font-weight: bold; }
  .sev-critical { color: #f85149; font-weight: bold; }
  .sev-warning { color: #d29922; }
  .sev-info { color: #58a6ff; }
  #live-feed { max-height: 300px; overflow-y: auto; font-family: monospace; font-size: 12px; }
  .feed-entry { padding: 4px 0; border-bottom: 1px solid #21262d; }
  .btn { background: #21262d; border: 1px solid #30363d; color: #e1e4e8;
         padding: 4px 12px; border-radius: 4px; cursor: pointer; font-size: 12px; }
  .btn:hover { background: #30363d; }
  .btn-danger { border-color: #f85149; color: #f85149; }
  .btn-success { border-color: #3fb950; color: #3fb950; }
</style>
</head>
<body>
<h1>auditchain Dashboard</h1>
<p class="subtitle">Tamper-evident audit trails</p>

<div class="grid">
  <div class="card">
    <h2>Organizations</h2>
    <table>
      <thead><tr><th>Organization</th><th>Status</th><th>Events</th><th>Flagged</th><th>Chain</th><th>Action</th></tr></thead>
      <tbody id="orgs-tbody"><tr><td colspan="6">Loading...</td></tr></tbody>
    </table>
  </div>
  <div class="card">
    <h2>Watch Rules</h2>
    <table>
      <thead><tr><th>Name</th><th>Type</th><th>Severity</th></tr></thead>
      <tbody id="rules-tbody"><tr><td colspan="3">No rules</td></tr></tbody>
    </table>
  </div>
</div>

<div class="card">
  <h2>Live Event Feed</h2>
  <div id="live-feed"><div class="feed-entry">Connecting...</div></div>
</div>

<script>
function esc(s) {
  if (s == null) return '';
  return String(s).replace(/&/g,'&amp;').replace(/</g,'&lt;').replace(/>/g,'&gt;').replace(/"/g,'&quot;').replace(/'/g,'&#39;');
}
async function refresh() {
  try {
    const [orgsRes, rulesRes, recordsRes] = await Promise.all([
      fetch('/api/orgs'), fetch('/api/alerts'), fetch('/api/records?limit=20')
    ]);
    renderOrgs(await orgsRes.json());
    renderRules(await rulesRes.json());
    renderRecords(await recordsRes.json());
  } catch(e) { console.error('refresh failed:', e); }
}

function renderOrgs(orgs) {
  const tbody = document.getElementById('orgs-tbody');
  if (!orgs || orgs.length === 0) { tbody.innerHTML = '<tr><td colspan="6">No organizations yet</td></tr>'; return; }
  tbody.innerHTML = orgs.map(o => {
    const id = esc(o.id);
    const cls = o.frozen ? 'status-frozen' : 'status-active';
    const chain = o.stats?.chain_valid
      ? '<span class="chain-valid">valid</span>'
      : (o.stats?.last_verified ? '<span class="chain-broken">' + (o.stats?.chain_errors||0) + ' errors</span>' : '-');
    const btn = o.frozen
      ? '<button class="btn btn-success" onclick="unfreezeOrg(\'' + id + '\')">Unfreeze</button>'
      : '<button class="btn btn-danger" onclick="freezeOrg(\'' + id + '\')">Freeze</button>';
    return '<tr><td>' + id + '</td><td class="' + cls + '">' + (o.frozen ? 'frozen' : esc(o.status)) +
      '</td><td>' + (o.stats?.total_events||0) + '</td><td>' + (o.stats?.flagged_events||0) +
      '</td><td>' + chain + '</td><td>' + btn + '</td></tr>';
  }).join('');
}

function renderRules(rules) {
  const tbody = document.getElementById('rules-tbody');
  if (!rules || rules.length === 0) { tbody.innerHTML = '<tr><td colspan="3">No rules</td></tr>'; return; }
  tbody.innerHTML = rules.map(r =>
    '<tr><td>' + esc(r.Name) + '</td><td>' + (r.Builtin?'builtin':'custom') +
    '</td><td class="sev-' + esc(r.Severity) + '">' + esc(r.Severity) + '</td></tr>'
  ).join('');
}

function feedLine(e) {
  const sev = e.flagged ? '<span class="sev-' + esc(e.severity||'warning') + '">' + esc(e.rule) + '</span>' : '';
  return '[' + esc(e.created_at) + '] ' + esc(e.org) + ' ' + esc(e.event_type) +
    (sev ? ' ' + sev : '');
}

function renderRecords(records) {
  const feed = document.getElementById('live-feed');
  if (!records || records.length === 0) { feed.innerHTML = '<div class="feed-entry">No events yet</div>'; return; }
  feed.innerHTML = records.map(r =>
    '<div class="feed-entry">[' + esc((r.created_at||'').slice(11,19)) + '] ' + esc(r.organization_id) +
    ' ' + esc(r.event_type) + '</div>'
  ).join('');
}

async function freezeOrg(id) {
  await fetch('/api/freeze', { method: 'POST', headers: {'Content-Type':'application/json'},
    body: JSON.stringify({org: id, reason: 'frozen via dashboard'}) });
  refresh();
}

async function unfreezeOrg(id) {
  await fetch('/api/unfreeze', { method: 'POST', headers: {'Content-Type':'application/json'},
    body: JSON.stringify({org: id}) });
  refresh();
}

// WebSocket for live updates.
function connectWS() {
  const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
  const ws = new WebSocket(proto + '//' + location.host + '/dashboard/ws');
  ws.onmessage = function(e) {
    try {
      const entry = JSON.parse(e.data);
      const feed = document.getElementById('live-feed');
      const div = document.createElement('div');
      div.className = 'feed-entry';
      div.innerHTML = feedLine(entry);
      feed.insertBefore(div, feed.firstChild);
      // Keep feed under 100 entries.
      while (feed.children.length > 100) feed.removeChild(feed.lastChild);
    } catch(err) { console.error('ws parse error:', err); }
  };
  ws.onclose = function() { setTimeout(connectWS, 3000); };
  ws.onerror = function() { ws.close(); };
}

refresh();
setInterval(refresh, 5000);
connectWS();
</script>
</body>
</html>`
