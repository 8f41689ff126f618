// Package chain implements tamper-evident integrity verification for an
// append-only audit trail.
//
// Every audit record carries a content hash (self_hash) over a canonical
// serialization of its hashable fields, plus the self_hash of the record
// appended before it (prev_hash). The package provides the four stateless
// steps of that scheme:
//
//	Canonicalize — deterministic JSON text of the hashable fields
//	ContentHash  — SHA-256 of the canonical text, lowercase hex
//	Link         — the {prev_hash, self_hash} pair persisted at write time
//	Verify       — replays the hashes over a stored sequence and reports
//	               every tamper, continuity, and ordering violation found
//
// All functions are pure and safe for concurrent use. The package never
// performs I/O — callers supply already-persisted records in claimed
// append order and receive verification results as data.
package chain

import "time"

// Record is one logged audit event as persisted by the writer.
//
// ID identifies the record but is never hashed: the content hash is a pure
// function of the hashable fields only, so the same event stored under a
// different ID hashes identically. PrevHash and SelfHash are likewise
// excluded from hashing — they are the chain links derived FROM the content,
// not part of it.
//
// PrevHash is nil only on the first record of an organization's chain.
type Record struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	EventType      string    `json:"event_type"`
	EventData      any       `json:"event_data"`
	UserID         *string   `json:"user_id"`
	IPAddress      *string   `json:"ip_address"`
	UserAgent      *string   `json:"user_agent"`
	CreatedAt      time.Time `json:"created_at"`
	PrevHash       *string   `json:"prev_hash"`
	SelfHash       string    `json:"self_hash"`
}
