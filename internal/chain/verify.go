package chain

// ErrorType classifies a single chain verification finding.
type ErrorType string

const (
	// ErrorGenesis — the first record in the sequence has a non-nil prev_hash.
	ErrorGenesis ErrorType = "genesis"
	// ErrorSelfHash — a record's stored self_hash does not match its
	// recomputed content hash: the record content or the hash field itself
	// was altered after creation.
	ErrorSelfHash ErrorType = "self_hash"
	// ErrorPrevHash — a record's prev_hash does not equal its predecessor's
	// self_hash: a record was inserted, deleted, or reordered.
	ErrorPrevHash ErrorType = "prev_hash"
	// ErrorOrdering — created_at timestamps are not non-decreasing.
	ErrorOrdering ErrorType = "ordering"
)

// VerificationError is one finding from a chain verification pass. It
// carries both the index in the supplied sequence and the record's ID — the
// ID is excluded from hashing, so it remains a stable label even on a
// tampered record.
type VerificationError struct {
	Type        ErrorType `json:"error_type"`
	RecordIndex int       `json:"record_index"`
	RecordID    string    `json:"record_id,omitempty"`
	Message     string    `json:"message"`
}

// VerificationResult is the complete report for one verified sequence.
type VerificationResult struct {
	Valid        bool                `json:"valid"`
	TotalRecords int                 `json:"total_records"`
	Errors       []VerificationError `json:"errors"`
}

// Verify replays content hashing over a stored record sequence and
// cross-checks the stored chain links. The input must be supplied in
// claimed append order; Verify never re-sorts.
//
// For each record, independently and without short-circuiting:
//
//	genesis   (index 0)  — prev_hash must be nil
//	self_hash (every i)  — stored self_hash must equal the recomputed hash
//	prev_hash (i > 0)    — prev_hash must equal the predecessor's self_hash
//	ordering  (i > 0)    — created_at must be non-decreasing
//
// All applicable findings are accumulated, so one call yields a complete
// tamper report and a single record can carry several errors at once.
// Tampering is always reported as data: Verify is total over any
// well-typed sequence, however inconsistent, and an empty input verifies
// as valid with zero records.
func Verify(records []Record) VerificationResult {
	result := VerificationResult{
		TotalRecords: len(records),
		Errors:       []VerificationError{},
	}

	for i := range records {
		r := &records[i]

		if i == 0 && r.PrevHash != nil {
			result.Errors = append(result.Errors, VerificationError{
				Type:        ErrorGenesis,
				RecordIndex: 0,
				RecordID:    r.ID,
				Message:     "genesis record must have null prev_hash",
			})
		}

		if !verifyContent(*r) {
			result.Errors = append(result.Errors, VerificationError{
				Type:        ErrorSelfHash,
				RecordIndex: i,
				RecordID:    r.ID,
				Message:     "stored self_hash does not match recomputed content hash: record tampered or corrupted",
			})
		}

		if i > 0 {
			prev := &records[i-1]

			if r.PrevHash == nil || *r.PrevHash != prev.SelfHash {
				result.Errors = append(result.Errors, VerificationError{
					Type:        ErrorPrevHash,
					RecordIndex: i,
					RecordID:    r.ID,
					Message:     "prev_hash does not match predecessor self_hash: broken chain",
				})
			}

			if r.CreatedAt.Before(prev.CreatedAt) {
				result.Errors = append(result.Errors, VerificationError{
					Type:        ErrorOrdering,
					RecordIndex: i,
					RecordID:    r.ID,
					Message:     "created_at precedes predecessor: records out of order",
				})
			}
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}
