package chain

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Canonicalize renders a record's hashable fields as one deterministic JSON
// text. Two structurally equal records always produce byte-identical output
// regardless of how their in-memory values were constructed.
//
// The canonical form:
//   - covers exactly {organization_id, event_type, event_data, user_id,
//     ip_address, user_agent, created_at} — id, prev_hash, and self_hash
//     are never included
//   - sorts object keys lexicographically at every nesting level, including
//     inside event_data
//   - serializes nil optional fields as JSON null rather than omitting them,
//     so "absent" and "explicitly null" cannot collide
//   - preserves array element order (element order is meaningful, key order
//     is not)
//   - renders created_at as RFC 3339 UTC with nanosecond precision, so the
//     same instant serializes identically whatever zone it was built in
//
// The function is total: it never fails for any JSON-decodable event_data,
// and repeated calls on an unchanged record return the identical string.
func Canonicalize(r Record) string {
	var b strings.Builder

	// The top-level keys are a fixed set; they are written here directly in
	// their lexicographic order.
	b.WriteByte('{')
	writeJSONString(&b, "created_at")
	b.WriteByte(':')
	writeJSONString(&b, r.CreatedAt.UTC().Format(time.RFC3339Nano))
	b.WriteString(`,"event_data":`)
	writeCanonicalValue(&b, r.EventData)
	b.WriteString(`,"event_type":`)
	writeJSONString(&b, r.EventType)
	b.WriteString(`,"ip_address":`)
	writeOptionalString(&b, r.IPAddress)
	b.WriteString(`,"organization_id":`)
	writeJSONString(&b, r.OrganizationID)
	b.WriteString(`,"user_agent":`)
	writeOptionalString(&b, r.UserAgent)
	b.WriteString(`,"user_id":`)
	writeOptionalString(&b, r.UserID)
	b.WriteByte('}')

	return b.String()
}

// writeCanonicalValue writes any JSON-decodable value in canonical form:
// object keys deep-sorted, arrays in original order. The type switch covers
// everything encoding/json produces when decoding with UseNumber, plus the
// scalar types Go callers pass when building event payloads in code.
func writeCanonicalValue(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if val {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case string:
		writeJSONString(b, val)
	case json.Number:
		// Already valid JSON numeric text, written through unchanged.
		b.WriteString(val.String())
	case float64:
		// Encoded via encoding/json so the canonical numeric text is
		// byte-identical to what a JSON round trip of the record produces.
		// NaN and infinities have no JSON form and canonicalize to null.
		data, err := json.Marshal(val)
		if err != nil {
			b.WriteString("null")
			return
		}
		b.Write(data)
	case int:
		b.WriteString(strconv.Itoa(val))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case []any:
		b.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonicalValue(b, elem)
		}
		b.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			writeJSONString(b, k)
			b.WriteByte(':')
			writeCanonicalValue(b, val[k])
		}
		b.WriteByte('}')
	default:
		// Uncommon caller-supplied types (structs, typed slices). Marshal
		// falls back to encoding/json; unmarshalable values canonicalize to
		// null so the function stays total.
		data, err := json.Marshal(val)
		if err != nil {
			b.WriteString("null")
			return
		}
		b.Write(data)
	}
}

// writeOptionalString writes a nullable string field: JSON null when the
// pointer is nil, a quoted string otherwise.
func writeOptionalString(b *strings.Builder, s *string) {
	if s == nil {
		b.WriteString("null")
		return
	}
	writeJSONString(b, *s)
}

// writeJSONString writes s as a JSON string literal with standard escaping.
func writeJSONString(b *strings.Builder, s string) {
	data, _ := json.Marshal(s)
	b.Write(data)
}
