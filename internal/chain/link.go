package chain

// LinkResult is the hash pair the writer persists immutably alongside a
// record: the self_hash of the previously appended record (nil for the
// first record of a chain) and this record's own content hash.
type LinkResult struct {
	PrevHash *string `json:"prev_hash"`
	SelfHash string  `json:"self_hash"`
}

// Link produces the stored hash pair for a record at write time. prevHash
// passes through unchanged; it must be nil for the first record ever
// appended to the organization's chain and otherwise the self_hash most
// recently appended to that same chain. Serializing appends per chain so
// that prevHash is always the true head is the writer's responsibility.
//
// The self_hash deliberately does not cover prev_hash, so a record's
// content hash is independent of its chain position. Chain integrity is
// enforced structurally by Verify instead, which checks content hashes and
// prev_hash continuity as separate conditions. This is weaker than a
// classic H(content || prev) chain and is preserved as-is.
func Link(r Record, prevHash *string) LinkResult {
	return LinkResult{
		PrevHash: prevHash,
		SelfHash: ContentHash(r),
	}
}
