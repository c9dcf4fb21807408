package capability

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// canonicalPayload is the subset of Token fields covered by the signature
// (§3: "HMAC-SHA-256 of the canonical serialization of (id, agentId,
// permissions, expiresAt)"). Permissions are re-marshaled with sorted
// Constraints keys so two structurally-equal permission sets always
// serialize identically regardless of map iteration order.
type canonicalPayload struct {
	ID          string               `json:"id"`
	AgentID     string               `json:"agentId"`
	Permissions []canonicalPermission `json:"permissions"`
	ExpiresAt   string               `json:"expiresAt"`
}

type canonicalPermission struct {
	Category    string            `json:"category"`
	Actions     []string          `json:"actions"`
	Resource    string            `json:"resource,omitempty"`
	Constraints map[string]string `json:"constraints,omitempty"`
}

// Canonicalize produces the exact byte sequence that gets signed and
// verified for t. json.Marshal already serializes map[string]string keys
// in sorted order, and struct fields in declaration order, which is
// sufficient for deterministic output here.
func Canonicalize(t *Token) ([]byte, error) {
	perms := make([]canonicalPermission, len(t.Permissions))
	for i, p := range t.Permissions {
		perms[i] = canonicalPermission{
			Category:    p.Category,
			Actions:     append([]string(nil), p.Actions...),
			Resource:    p.Resource,
			Constraints: p.Constraints,
		}
		sort.Strings(perms[i].Actions)
	}
	payload := canonicalPayload{
		ID:          t.ID,
		AgentID:     t.AgentID,
		Permissions: perms,
		// Fixed-width nanoseconds, not time.RFC3339Nano, which trims
		// trailing zeros and would make the signature input ambiguous.
		ExpiresAt: t.ExpiresAt.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"),
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// sign computes the hex-encoded HMAC-SHA-256 signature of t under key.
func sign(key []byte, t *Token) (string, error) {
	payload, err := Canonicalize(t)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// verify reports whether t's signature is valid under key, using a
// constant-time comparison (§4.2: "constant-time verified").
func verify(key []byte, t *Token) bool {
	expected, err := sign(key, t)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(t.Signature))
}
