package lead

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// DefaultKeyFields are the identity fields checked in priority order,
// in normalized header form. The portal renders an installation number
// on most lead tables; the confirmation number and a bare id column
// appear on the shop table.
var DefaultKeyFields = []string{
	"numero_d_installation",
	"numero_de_confirmation",
	"id",
}

// DefaultHashLen is the hex length of the content-hash fallback key.
// 8 hex chars (32 bits) is an accepted collision tradeoff, not a
// guaranteed-unique identifier.
const DefaultHashLen = 8

// Resolver derives a stable identity for an extracted row.
type Resolver struct {
	// Fields overrides DefaultKeyFields when non-empty.
	Fields []string
	// HashLen overrides DefaultHashLen when positive.
	HashLen int
}

// Key returns the first non-empty preferred field value, unmodified.
// When no preferred field is present it returns a fixed-length prefix
// of the SHA-256 hash of the row serialized with fields sorted by key,
// so identical content always yields the identical key regardless of
// original field ordering.
func (r Resolver) Key(row map[string]string) string {
	fields := r.Fields
	if len(fields) == 0 {
		fields = DefaultKeyFields
	}
	for _, f := range fields {
		if v := row[f]; v != "" {
			return v
		}
	}

	// encoding/json marshals map keys in sorted order, which is exactly
	// the canonical serialization the fallback needs.
	data, err := json.Marshal(row)
	if err != nil {
		data = nil
	}
	sum := sha256.Sum256(data)
	h := hex.EncodeToString(sum[:])

	n := r.HashLen
	if n <= 0 {
		n = DefaultHashLen
	}
	if n > len(h) {
		n = len(h)
	}
	return h[:n]
}
