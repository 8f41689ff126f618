package ingest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/auditchain/auditchain/internal/alert"
	"github.com/auditchain/auditchain/internal/chain"
	"github.com/auditchain/auditchain/internal/ledger"
	"github.com/auditchain/auditchain/internal/org"
)

// maxEventBody is 1MB — larger event payloads are rejected. Audit event
// payloads rarely exceed a few KB.
const maxEventBody = 1 * 1024 * 1024

// Options holds the dependencies injected into the ingest handler at
// creation. These are initialized by main.go's runServe() and wired
// together here.
type Options struct {
	Ledger       *ledger.Ledger
	Registry     *org.Registry
	FreezeSwitch *org.FreezeSwitch
	Engine       *alert.Engine
	// OnRecord is called after each record is appended, allowing the
	// dashboard to broadcast events to WebSocket clients in real time.
	// Optional — nil means no broadcast.
	OnRecord func(chain.Record, alert.Decision)
}

// Handler is the HTTP handler that accepts audit events on
// POST /api/orgs/{org}/events and appends them to the ledger.
//
// Implements http.Handler — mounted on /api/orgs/ in the main mux
// alongside the dashboard API (the dashboard serves the GET routes).
type Handler struct {
	ledger       *ledger.Ledger
	registry     *org.Registry
	freezeSwitch *org.FreezeSwitch
	engine       *alert.Engine
	onRecord     func(chain.Record, alert.Decision)
}

// New creates a new ingest Handler with the given dependencies.
func New(opts Options) *Handler {
	return &Handler{
		ledger:       opts.Ledger,
		registry:     opts.Registry,
		freezeSwitch: opts.FreezeSwitch,
		engine:       opts.Engine,
		onRecord:     opts.OnRecord,
	}
}

// eventRequest is the JSON body of an ingest request.
type eventRequest struct {
	EventType string  `json:"event_type"`
	EventData any     `json:"event_data"`
	UserID    *string `json:"user_id"`
	IPAddress *string `json:"ip_address"`
	UserAgent *string `json:"user_agent"`
}

// eventResponse is the JSON body returned for an accepted event.
type eventResponse struct {
	ID       string  `json:"id"`
	SelfHash string  `json:"self_hash"`
	PrevHash *string `json:"prev_hash"`
	Flagged  bool    `json:"flagged"`
	Rule     string  `json:"rule,omitempty"`
	Severity string  `json:"severity,omitempty"`
}

// ServeHTTP is the main entry point for all ingest requests.
//
//  1. Parse route (organization ID)
//  2. Check freeze switch
//  3. Decode and validate the event body
//  4. Append to the organization's chain
//  5. Evaluate against alert rules, update registry, broadcast
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	route, err := ParseRoute(r.URL.Path)
	if err != nil {
		slog.Warn("invalid ingest route", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	// Frozen trails reject new events until an operator unfreezes them.
	if h.freezeSwitch.IsFrozen(route.OrgID) {
		slog.Warn("event rejected, organization frozen", "org", route.OrgID)
		writeError(w, http.StatusLocked, fmt.Sprintf("organization %s is frozen", route.OrgID))
		return
	}

	ev, err := decodeEvent(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Fill source metadata from the request when the caller didn't
	// provide it explicitly.
	if ev.IPAddress == nil {
		if ip := remoteIP(r); ip != "" {
			ev.IPAddress = &ip
		}
	}
	if ev.UserAgent == nil {
		if ua := r.UserAgent(); ua != "" {
			ev.UserAgent = &ua
		}
	}

	start := time.Now()
	rec, err := h.ledger.Append(route.OrgID, ledger.Event{
		EventType: ev.EventType,
		EventData: ev.EventData,
		UserID:    ev.UserID,
		IPAddress: ev.IPAddress,
		UserAgent: ev.UserAgent,
	})
	if err != nil {
		slog.Error("ledger append failed", "org", route.OrgID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to append event")
		return
	}

	decision := h.engine.Evaluate(rec)
	h.registry.Touch(route.OrgID, decision.Flagged)

	if decision.Flagged {
		slog.Warn("event flagged",
			"org", route.OrgID,
			"event", rec.EventType,
			"rule", decision.Rule,
			"severity", decision.Severity,
		)
	} else {
		slog.Debug("event appended",
			"org", route.OrgID,
			"event", rec.EventType,
			"latency_ms", time.Since(start).Milliseconds(),
		)
	}

	if h.onRecord != nil {
		h.onRecord(rec, decision)
	}

	writeJSON(w, http.StatusCreated, eventResponse{
		ID:       rec.ID,
		SelfHash: rec.SelfHash,
		PrevHash: rec.PrevHash,
		Flagged:  decision.Flagged,
		Rule:     decision.Rule,
		Severity: decision.Severity,
	})
}

// decodeEvent reads and validates the request body.
//
// Numbers are decoded with UseNumber so the payload's numeric text is
// preserved exactly — the canonical form (and therefore the hash) must
// not depend on float formatting.
func decodeEvent(r *http.Request) (eventRequest, error) {
	var ev eventRequest

	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxEventBody))
	dec.UseNumber()
	if err := dec.Decode(&ev); err != nil {
		return ev, fmt.Errorf("invalid event body: %w", err)
	}

	if ev.EventType == "" {
		return ev, fmt.Errorf("event_type is required")
	}

	return ev, nil
}

// remoteIP extracts the client IP from the request, preferring the
// X-Forwarded-For header when present (the server typically sits behind
// the tenant application's reverse proxy).
func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// First hop in the list is the original client.
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeJSON marshals v and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError writes a JSON error body with the given status code.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
