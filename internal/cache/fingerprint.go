// ABOUTME: Deterministic fingerprints for tool calls used as cache keys
// ABOUTME: Canonicalizes arguments so equivalent calls collide regardless of ordering

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Fingerprint derives a stable cache key from a tool name and its raw JSON
// arguments. Arguments are canonicalized by decoding and re-encoding: object
// keys sort lexicographically and scalar representations normalize (1 and
// 1.0 encode identically), so semantically identical calls produce the same
// fingerprint regardless of argument ordering.
func Fingerprint(tool string, args json.RawMessage) string {
	canonical := canonicalize(args)

	h := sha256.New()
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write(canonical)

	// 16 hex chars is plenty of keyspace for a short-TTL cache
	return "cache:" + tool + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// canonicalize round-trips raw JSON through Go's decoder. encoding/json
// marshals map keys in sorted order and normalizes number formatting, which
// is exactly the canonical form we need. Invalid JSON is hashed as-is so a
// malformed call still gets a deterministic (if unshared) key.
func canonicalize(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return raw
	}

	canonical, err := json.Marshal(decoded)
	if err != nil {
		return raw
	}
	return canonical
}
