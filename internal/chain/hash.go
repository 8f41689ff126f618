package chain

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash computes the SHA-256 digest of a record's canonical form and
// renders it as 64 lowercase hex characters.
//
// The hash is content-sensitive over exactly the canonicalized field set:
// changing any of organization_id, event_type, event_data, user_id,
// ip_address, user_agent, or created_at changes the digest, while changing
// only id, prev_hash, or self_hash never does.
func ContentHash(r Record) string {
	sum := sha256.Sum256([]byte(Canonicalize(r)))
	return hex.EncodeToString(sum[:])
}

// verifyContent reports whether a record's stored self_hash matches its
// freshly recomputed content hash.
func verifyContent(r Record) bool {
	return r.SelfHash == ContentHash(r)
}
