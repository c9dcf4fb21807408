// Package manifest parses, validates, and HMAC-signs/verifies agent
// manifests (§6 "Agent manifest"). Its canonical-JSON signature scheme
// mirrors pkg/capability.Canonicalize: marshal the signed subset of fields
// with sorted map keys and no HTML escaping, then HMAC-SHA-256 it.
package manifest

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentkernel/gateway/pkg/apierrors"
	"github.com/agentkernel/gateway/pkg/capability"
	"github.com/agentkernel/gateway/pkg/config"
)

// ToolRef enables/disables one builtin or MCP-advertised tool for an agent.
type ToolRef struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

// Manifest is the declarative description of an agent (§6, §3 Manifest).
// Field order matches the spec's enumeration; unknown fields are rejected
// by Parse (§9 "unknown fields rejected with a validation error").
type Manifest struct {
	ID               string                    `json:"id"`
	Name             string                    `json:"name"`
	Version          string                    `json:"version,omitempty"`
	Description      string                    `json:"description,omitempty"`
	Permissions      []string                  `json:"permissions,omitempty"`
	PermissionGrants []config.PermissionGrant  `json:"permissionGrants,omitempty"`
	TrustLevel       config.TrustLevel         `json:"trustLevel,omitempty"`
	Limits           config.LimitsConfig       `json:"limits,omitempty"`
	PreferredModel   string                    `json:"preferredModel,omitempty"`
	MCPServers       []string                  `json:"mcpServers,omitempty"`
	Tools            []ToolRef                 `json:"tools,omitempty"`
	RequiredSkills   []string                  `json:"requiredSkills,omitempty"`
	A2ASkills        []string                  `json:"a2aSkills,omitempty"`
	Signature        string                    `json:"signature,omitempty"`
	SignedAt         *time.Time                `json:"signedAt,omitempty"`
}

// knownFields mirrors Manifest's json tags, used to reject unrecognized
// top-level keys before unmarshaling into the typed struct.
var knownFields = map[string]struct{}{
	"id": {}, "name": {}, "version": {}, "description": {}, "permissions": {},
	"permissionGrants": {}, "trustLevel": {}, "limits": {}, "preferredModel": {},
	"mcpServers": {}, "tools": {}, "requiredSkills": {}, "a2aSkills": {},
	"signature": {}, "signedAt": {},
}

// Parse decodes raw JSON into a Manifest, rejecting unknown top-level
// fields and missing required ones (id, name).
func Parse(raw []byte) (*Manifest, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("manifest: invalid json: %w", err)
	}
	for key := range generic {
		if _, ok := knownFields[key]; !ok {
			return nil, apierrors.NewValidationError(key, "unknown manifest field")
		}
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	if m.ID == "" {
		return nil, apierrors.NewValidationError("id", "required")
	}
	if m.Name == "" {
		return nil, apierrors.NewValidationError("name", "required")
	}
	if m.TrustLevel != "" && !m.TrustLevel.IsValid() {
		return nil, apierrors.NewValidationError("trustLevel", "unrecognized trust level")
	}
	return &m, nil
}

// Serialize round-trips a Manifest back to JSON (§8 testable property:
// parseManifest(serializeManifest(m)) = m for structurally valid m).
func Serialize(m *Manifest) ([]byte, error) {
	return json.Marshal(m)
}

// canonicalJSON marshals m with Signature/SignedAt cleared, sorted map keys
// (json.Marshal already sorts map[string]string keys), and no HTML
// escaping — the exact byte sequence §6 signs: "canonicalJson(manifest \ {signature})".
func canonicalJSON(m *Manifest) ([]byte, error) {
	clone := *m
	clone.Signature = ""
	clone.SignedAt = nil

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(clone); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Sign computes and sets m.Signature/m.SignedAt under secret, then returns
// the hex digest (§6: "hex(HMAC-SHA-256(secret, canonicalJson(manifest \ {signature})))").
func Sign(m *Manifest, secret []byte) (string, error) {
	payload, err := canonicalJSON(m)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	sig := hex.EncodeToString(mac.Sum(nil))
	m.Signature = sig
	now := time.Now()
	m.SignedAt = &now
	return sig, nil
}

// Verify reports whether m's signature is valid under secret, comparing in
// constant time. A manifest with no signature is considered unsigned, not
// invalid — §6 marks signature optional ("signature?").
func Verify(m *Manifest, secret []byte) (bool, error) {
	if m.Signature == "" {
		return false, nil
	}
	payload, err := canonicalJSON(m)
	if err != nil {
		return false, err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(m.Signature)), nil
}

// ToPermissions maps the manifest's flat permission strings ("category:action")
// and its explicit PermissionGrants into capability.Permission records ready
// for capability.Manager.Grant. Grants-first precedence (DESIGN.md Open
// Question #2): PermissionGrants are appended after the flat permissions so
// a grant for the same category narrows rather than is shadowed by it.
func ToPermissions(m *Manifest) []capability.Permission {
	perms := make([]capability.Permission, 0, len(m.Permissions)+len(m.PermissionGrants))
	for _, p := range m.Permissions {
		category, action := splitPermission(p)
		perms = append(perms, capability.Permission{Category: category, Actions: []string{action}})
	}
	for _, g := range m.PermissionGrants {
		perms = append(perms, capability.Permission{
			Category:    g.Category,
			Actions:     g.Actions,
			Resource:    g.Resource,
			Constraints: g.Constraints,
		})
	}
	return perms
}

// splitPermission splits "category.action" (e.g. "tools.execute") into its
// two parts; a permission with no '.' is treated as a wildcard action.
func splitPermission(p string) (category, action string) {
	for i := 0; i < len(p); i++ {
		if p[i] == '.' {
			return p[:i], p[i+1:]
		}
	}
	return p, "*"
}
