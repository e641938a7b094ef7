package userconfig

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// configHashLen is the number of hex chars kept from the SHA-256 digest.
const configHashLen = 16

// Hash returns the canonical config hash: the first 16 hex chars of
// SHA-256 over the deeply key-sorted JSON form. Structurally equal configs
// hash identically regardless of field ordering in the original blob.
func (c *Config) Hash() string {
	sum := sha256.Sum256(c.CanonicalJSON())
	return hex.EncodeToString(sum[:])[:configHashLen]
}

// CanonicalJSON renders the config as JSON with every object's keys sorted,
// recursively. Array order is preserved.
func (c *Config) CanonicalJSON() []byte {
	raw, _ := json.Marshal(c)
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	var b strings.Builder
	writeCanonical(&b, v)
	return []byte(b.String())
}

func writeCanonical(b *strings.Builder, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			b.Write(kb)
			b.WriteByte(':')
			writeCanonical(b, t[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, e)
		}
		b.WriteByte(']')
	default:
		eb, _ := json.Marshal(t)
		b.Write(eb)
	}
}
