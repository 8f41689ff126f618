package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/auditchain/auditchain/internal/chain"
)

// sqliteIndex provides fast filtered queries over the ledger using SQLite.
// The JSONL chain files are the source of truth; the index is a queryable
// projection that can be rebuilt from them.
type sqliteIndex struct {
	db *sql.DB
}

// openIndex opens (or creates) the SQLite index database.
// Creates the records table and indexes if they don't exist.
func openIndex(path string) (*sqliteIndex, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite index %s: %w", path, err)
	}

	// WAL mode is used for concurrent read/write (server writes, CLI reads).
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			id         TEXT PRIMARY KEY,
			org        TEXT NOT NULL,
			seq        INTEGER NOT NULL,
			event_type TEXT NOT NULL DEFAULT '',
			event_data TEXT NOT NULL DEFAULT '',
			user_id    TEXT,
			ip_address TEXT,
			user_agent TEXT,
			created_at TEXT NOT NULL,
			prev_hash  TEXT,
			self_hash  TEXT NOT NULL DEFAULT ''
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_org_seq ON records(org, seq);
		CREATE INDEX IF NOT EXISTS idx_event_type ON records(event_type);
		CREATE INDEX IF NOT EXISTS idx_created_at ON records(created_at);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating sqlite schema: %w", err)
	}

	return &sqliteIndex{db: db}, nil
}

// insert adds a record to the SQLite index at the given chain position.
// Non-blocking — errors are logged but don't affect the primary JSONL file.
func (idx *sqliteIndex) insert(r *chain.Record, seq int) {
	dataJSON, _ := json.Marshal(r.EventData)

	_, err := idx.db.Exec(
		`INSERT OR REPLACE INTO records (id, org, seq, event_type, event_data, user_id, ip_address, user_agent, created_at, prev_hash, self_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OrganizationID, seq, r.EventType, string(dataJSON),
		r.UserID, r.IPAddress, r.UserAgent,
		r.CreatedAt.Format(time.RFC3339Nano), r.PrevHash, r.SelfHash,
	)
	if err != nil {
		slog.Error("sqlite index insert failed", "id", r.ID, "error", err)
	}
}

// query retrieves records from the index matching the given params,
// newest first. An optional match predicate filters records while the
// rows are scanned — it cannot run in SQL, so with a predicate the limit
// is applied in the scan loop rather than in the query.
func (idx *sqliteIndex) query(params QueryParams, match func(chain.Record) bool) ([]chain.Record, error) {
	query := "SELECT id, org, event_type, event_data, user_id, ip_address, user_agent, created_at, prev_hash, self_hash FROM records WHERE 1=1"
	var args []any

	if params.Org != "" {
		query += " AND org = ?"
		args = append(args, params.Org)
	}
	if params.Since != "" {
		// Since is an ISO timestamp string, computed by the caller.
		query += " AND created_at >= ?"
		args = append(args, params.Since)
	}

	query += " ORDER BY created_at DESC, seq DESC"

	if params.Limit > 0 && match == nil {
		query += " LIMIT ?"
		args = append(args, params.Limit)
	}

	rows, err := idx.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sqlite index: %w", err)
	}
	defer rows.Close()

	var records []chain.Record
	for rows.Next() {
		var r chain.Record
		var dataJSON, createdAt string
		var userID, ipAddress, userAgent, prevHash sql.NullString
		err := rows.Scan(
			&r.ID, &r.OrganizationID, &r.EventType, &dataJSON,
			&userID, &ipAddress, &userAgent, &createdAt, &prevHash, &r.SelfHash,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning sqlite row: %w", err)
		}

		if dataJSON != "" && dataJSON != "null" {
			var parsed any
			if jsonErr := json.Unmarshal([]byte(dataJSON), &parsed); jsonErr == nil {
				r.EventData = parsed
			}
		}
		r.UserID = nullable(userID)
		r.IPAddress = nullable(ipAddress)
		r.UserAgent = nullable(userAgent)
		r.PrevHash = nullable(prevHash)
		if ts, parseErr := time.Parse(time.RFC3339Nano, createdAt); parseErr == nil {
			r.CreatedAt = ts
		}

		if match != nil && !match(r) {
			continue
		}
		records = append(records, r)
		if params.Limit > 0 && len(records) >= params.Limit {
			break
		}
	}

	return records, rows.Err()
}

// countForOrg returns the number of indexed records for one organization.
// Used during recovery to re-index records written before a crash.
func (idx *sqliteIndex) countForOrg(org string) int {
	var count int
	err := idx.db.QueryRow("SELECT COUNT(*) FROM records WHERE org = ?", org).Scan(&count)
	if err != nil {
		return 0
	}
	return count
}

// close closes the SQLite database connection.
func (idx *sqliteIndex) close() error {
	return idx.db.Close()
}

// nullable converts a sql.NullString into the record's *string form.
func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
