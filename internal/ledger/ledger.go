// Package ledger persists hash-chained audit records, one append-only chain
// per organization.
//
// Storage layout:
//
//	~/.auditchain/ledger/
//	├── org-acme.jsonl      # One JSONL file per organization (append-only)
//	├── org-globex.jsonl
//	└── index.db            # SQLite index for fast filtered queries
//
// The JSONL files are the source of truth; the SQLite index is a queryable
// projection that can be rebuilt from them. Appends are serialized so the
// prev_hash handed to the chain linker is always the true head of that
// organization's chain — the one ordering requirement the chain core
// delegates to its storage collaborator.
package ledger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"github.com/auditchain/auditchain/internal/chain"
)

// ErrInvalidOrg is returned for organization IDs that cannot name a chain
// (empty, or containing path separators).
var ErrInvalidOrg = errors.New("invalid organization id")

// maxRecordLine bounds one stored JSONL line when reading chain files back.
// It must stay comfortably above the 1 MiB ingest body cap plus the record
// envelope (id, organization, hashes, timestamp) — a line the writer
// accepted must never be unreadable on recovery.
const maxRecordLine = 2 * 1024 * 1024

// Event is the caller-supplied part of an audit record. The ledger fills in
// the identity, timestamp, and chain link fields at append time.
type Event struct {
	EventType string  `json:"event_type"`
	EventData any     `json:"event_data"`
	UserID    *string `json:"user_id"`
	IPAddress *string `json:"ip_address"`
	UserAgent *string `json:"user_agent"`
}

// QueryParams defines filters for querying the ledger.
// All fields are optional — empty/zero values mean "no filter".
type QueryParams struct {
	Org   string // Filter by organization ID (exact match).
	Event string // Filter by event type glob (e.g. "contact.*").
	Since string // ISO timestamp or duration string (e.g. "1h", "24h").
	Limit int    // Maximum records to return.
}

// chainState tracks the in-memory head of one organization's chain.
type chainState struct {
	head  *string // self_hash of the most recently appended record.
	count int     // Number of records in the chain.
}

// Ledger manages the per-organization hash-chained record files.
//
// Thread-safe — the ingest handler appends concurrently from multiple HTTP
// handler goroutines. A single mutex serializes appends, which also
// guarantees the per-chain ordering contract.
type Ledger struct {
	mu     sync.Mutex
	dir    string                 // Path to the ledger directory.
	states map[string]*chainState // Chain head per organization.
	files  map[string]*os.File    // Open JSONL file per organization.
	index  *sqliteIndex           // SQLite index for fast queries.
}

// Open opens or creates a ledger in the given directory. Existing JSONL
// files are scanned to recover each organization's chain head, so appends
// continue the chains correctly after restart.
func Open(dir string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory %s: %w", dir, err)
	}

	l := &Ledger{
		dir:    dir,
		states: make(map[string]*chainState),
		files:  make(map[string]*os.File),
	}

	idx, err := openIndex(filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("opening ledger index: %w", err)
	}
	l.index = idx

	if err := l.recoverState(); err != nil {
		idx.close()
		return nil, err
	}

	slog.Info("ledger opened", "dir", dir, "organizations", len(l.states))
	return l, nil
}

// Close flushes and closes all chain files and the SQLite index.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for _, f := range l.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.files = make(map[string]*os.File)

	if err := l.index.close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing ledger: %v", errs)
	}
	return nil
}

// Append creates, links, and persists one audit record on the given
// organization's chain and returns the stored record. The returned record
// is immutable from the ledger's point of view — it is never rewritten.
func (l *Ledger) Append(org string, ev Event) (chain.Record, error) {
	if !validOrg(org) {
		return chain.Record{}, fmt.Errorf("%w: %q", ErrInvalidOrg, org)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.states[org]
	if !ok {
		state = &chainState{}
		l.states[org] = state
	}

	r := chain.Record{
		ID:             uuid.NewString(),
		OrganizationID: org,
		EventType:      ev.EventType,
		EventData:      ev.EventData,
		UserID:         ev.UserID,
		IPAddress:      ev.IPAddress,
		UserAgent:      ev.UserAgent,
		CreatedAt:      time.Now().UTC(),
	}
	link := chain.Link(r, state.head)
	r.PrevHash = link.PrevHash
	r.SelfHash = link.SelfHash

	if err := l.writeToFile(org, &r); err != nil {
		return chain.Record{}, fmt.Errorf("appending record for %s: %w", org, err)
	}

	// Update the SQLite index (errors logged internally — the JSONL write
	// above is the durable one).
	l.index.insert(&r, state.count)

	state.head = &r.SelfHash
	state.count++
	return r, nil
}

// Records returns the full stored sequence for one organization in append
// order — the order the chain verifier validates.
func (l *Ledger) Records(org string) ([]chain.Record, error) {
	if !validOrg(org) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOrg, org)
	}
	records, err := readRecordsFromFile(l.chainPath(org))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return records, nil
}

// VerifyOrg reads an organization's stored sequence and runs the chain
// verifier over it. A missing chain verifies as valid with zero records.
func (l *Ledger) VerifyOrg(org string) (chain.VerificationResult, error) {
	records, err := l.Records(org)
	if err != nil {
		return chain.VerificationResult{}, fmt.Errorf("reading records for verification: %w", err)
	}
	return chain.Verify(records), nil
}

// Organizations lists the organization IDs that have at least one record.
func (l *Ledger) Organizations() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	orgs := make([]string, 0, len(l.states))
	for org := range l.states {
		orgs = append(orgs, org)
	}
	return orgs
}

// Count returns the number of records on an organization's chain.
func (l *Ledger) Count(org string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if state, ok := l.states[org]; ok {
		return state.count
	}
	return 0
}

// Tail returns the N most recent records across all organizations,
// newest first.
func (l *Ledger) Tail(limit int) ([]chain.Record, error) {
	return l.index.query(QueryParams{Limit: limit}, nil)
}

// Query retrieves records matching the given filter parameters, newest
// first. Organization and time filters run in SQLite; the event-type glob
// is matched in Go while scanning rows, since glob semantics don't map
// onto SQL patterns.
func (l *Ledger) Query(params QueryParams) ([]chain.Record, error) {
	// Convert "since" duration string (e.g. "1h", "24h") to ISO timestamp.
	if params.Since != "" && !strings.Contains(params.Since, "T") {
		d, err := time.ParseDuration(params.Since)
		if err != nil {
			return nil, fmt.Errorf("invalid since duration %q: %w", params.Since, err)
		}
		params.Since = time.Now().UTC().Add(-d).Format(time.RFC3339Nano)
	}

	var match func(chain.Record) bool
	if params.Event != "" {
		g, err := glob.Compile(params.Event, '.')
		if err != nil {
			return nil, fmt.Errorf("invalid event glob %q: %w", params.Event, err)
		}
		match = func(r chain.Record) bool { return g.Match(r.EventType) }
	}

	return l.index.query(params, match)
}

// Follow watches one organization's chain for new records, calling the
// callback for each. Blocks until the context is cancelled. Similar to
// `tail -f` for the chain file.
func (l *Ledger) Follow(ctx context.Context, org string, callback func(chain.Record)) error {
	if !validOrg(org) {
		return fmt.Errorf("%w: %q", ErrInvalidOrg, org)
	}

	// Poll the chain file for new records every 500ms. Polling is simple
	// and reliable for the tail -f use case.
	seen := l.Count(org)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			records, err := l.Records(org)
			if err != nil {
				slog.Error("follow: error reading chain", "org", org, "error", err)
				continue
			}
			for ; seen < len(records); seen++ {
				callback(records[seen])
			}
		}
	}
}

// Export writes records to the given writer in the specified format.
// If org is empty, all organizations are exported in file order.
// Supported formats: "jsonl" (default), "json", "csv".
func (l *Ledger) Export(w io.Writer, format, org string) error {
	var records []chain.Record
	if org != "" {
		var err error
		records, err = l.Records(org)
		if err != nil {
			return fmt.Errorf("reading records for export: %w", err)
		}
	} else {
		files, err := filepath.Glob(filepath.Join(l.dir, "*.jsonl"))
		if err != nil {
			return fmt.Errorf("listing chain files: %w", err)
		}
		for _, file := range files {
			chunk, err := readRecordsFromFile(file)
			if err != nil {
				return fmt.Errorf("reading %s for export: %w", file, err)
			}
			records = append(records, chunk...)
		}
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)

	case "csv":
		cw := csv.NewWriter(w)
		defer cw.Flush()
		if err := cw.Write([]string{"id", "organization_id", "event_type", "user_id", "ip_address", "user_agent", "created_at", "prev_hash", "self_hash"}); err != nil {
			return err
		}
		for _, r := range records {
			if err := cw.Write([]string{
				r.ID,
				r.OrganizationID,
				r.EventType,
				deref(r.UserID),
				deref(r.IPAddress),
				deref(r.UserAgent),
				r.CreatedAt.Format(time.RFC3339Nano),
				deref(r.PrevHash),
				r.SelfHash,
			}); err != nil {
				return err
			}
		}
		return nil

	case "jsonl", "":
		enc := json.NewEncoder(w)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("unsupported export format: %s (use json, jsonl, or csv)", format)
	}
}

// writeToFile appends the record as a single JSON line to the
// organization's chain file. Opens the file on first use and keeps it open.
func (l *Ledger) writeToFile(org string, r *chain.Record) error {
	f, ok := l.files[org]
	if !ok {
		path := l.chainPath(org)
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening chain file %s: %w", path, err)
		}
		l.files[org] = f
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}

	// Flush immediately — audit records must survive crashes.
	return f.Sync()
}

// recoverState scans existing chain files to rebuild each organization's
// head hash and record count, and re-indexes records missing from the
// SQLite index (e.g. if the server crashed before indexing).
func (l *Ledger) recoverState() error {
	files, err := filepath.Glob(filepath.Join(l.dir, "*.jsonl"))
	if err != nil {
		return fmt.Errorf("listing chain files: %w", err)
	}

	for _, file := range files {
		org := strings.TrimSuffix(filepath.Base(file), ".jsonl")
		records, err := readRecordsFromFile(file)
		if err != nil {
			return fmt.Errorf("recovering chain state from %s: %w", file, err)
		}
		if len(records) == 0 {
			continue
		}

		last := records[len(records)-1]
		l.states[org] = &chainState{
			head:  &last.SelfHash,
			count: len(records),
		}

		indexed := l.index.countForOrg(org)
		for seq := indexed; seq < len(records); seq++ {
			l.index.insert(&records[seq], seq)
		}
	}

	return nil
}

// chainPath returns the JSONL file path for one organization's chain.
func (l *Ledger) chainPath(org string) string {
	return filepath.Join(l.dir, org+".jsonl")
}

// validOrg rejects organization IDs that cannot safely name a chain file.
func validOrg(org string) bool {
	return org != "" && !strings.ContainsAny(org, "/\\") && org != "." && org != ".."
}

// readRecordsFromFile reads all records from a single JSONL chain file in
// append order. Payload numbers are decoded with UseNumber so hashes
// recompute over the exact numeric text that was written.
func readRecordsFromFile(path string) ([]chain.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []chain.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordLine)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		r, err := decodeRecord([]byte(line))
		if err != nil {
			slog.Warn("skipping malformed ledger record", "file", path, "error", err)
			continue
		}
		records = append(records, r)
	}
	return records, scanner.Err()
}

// decodeRecord parses one JSON record, preserving numeric payload text.
func decodeRecord(data []byte) (chain.Record, error) {
	var r chain.Record
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&r); err != nil {
		return chain.Record{}, err
	}
	return r, nil
}

// deref renders a nullable string for CSV export.
func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
