package capability

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentkernel/gateway/pkg/apierrors"
	"github.com/agentkernel/gateway/pkg/config"
	"github.com/google/uuid"
)

// AuditRecorder receives a record of every capability lifecycle event worth
// auditing: grants, revocations, bad-signature sightings, and lazy expiry.
// Implemented by pkg/audit; kept as a narrow interface to avoid a direct
// capability -> audit -> store dependency cycle.
type AuditRecorder interface {
	RecordCapabilityEvent(ctx context.Context, action, agentID, tokenID string, detail map[string]any)
}

// GrantRequest describes a token to mint (§4.2 grant).
type GrantRequest struct {
	AgentID     string
	Permissions []Permission
	Purpose     string
	TTL         time.Duration
	Delegatable bool
}

// Manager issues, verifies, and revokes capability tokens (§4.2 C2).
type Manager struct {
	mu         sync.RWMutex
	tokens     map[string]*Token   // id -> token
	byAgent    map[string][]string // agentID -> token ids
	signingKey []byte
	cfg        config.CapabilityConfig
	audit      AuditRecorder
	now        func() time.Time
}

// NewManager creates a Manager that signs tokens with signingKey.
func NewManager(cfg config.CapabilityConfig, signingKey []byte) *Manager {
	return &Manager{
		tokens:     make(map[string]*Token),
		byAgent:    make(map[string][]string),
		signingKey: signingKey,
		cfg:        cfg,
		now:        time.Now,
	}
}

// SetAuditRecorder wires audit logging for capability events. Optional.
func (m *Manager) SetAuditRecorder(r AuditRecorder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = r
}

func (m *Manager) record(ctx context.Context, action, agentID, tokenID string, detail map[string]any) {
	if m.audit != nil {
		m.audit.RecordCapabilityEvent(ctx, action, agentID, tokenID, detail)
	}
}

// Grant mints a new token for req, signs it, and stores it (§4.2 grant).
func (m *Manager) Grant(ctx context.Context, req GrantRequest, issuedBy string) (*Token, error) {
	if req.AgentID == "" {
		return nil, apierrors.NewValidationError("agent_id", "required")
	}
	if len(req.Permissions) == 0 {
		return nil, apierrors.NewValidationError("permissions", "at least one permission required")
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = m.cfg.DefaultTokenTTL
		if ttl <= 0 {
			ttl = time.Hour
		}
	}
	if m.cfg.MaxTokenTTL > 0 && ttl > m.cfg.MaxTokenTTL {
		ttl = m.cfg.MaxTokenTTL
	}

	issuedAt := m.now()
	tok := &Token{
		ID:          uuid.NewString(),
		AgentID:     req.AgentID,
		Permissions: req.Permissions,
		Scope:       deriveScope(req.Permissions),
		IssuedAt:    issuedAt,
		ExpiresAt:   issuedAt.Add(ttl),
		IssuedBy:    issuedBy,
		Purpose:     req.Purpose,
		Delegatable: req.Delegatable,
	}
	sig, err := sign(m.signingKey, tok)
	if err != nil {
		return nil, fmt.Errorf("failed to sign capability token: %w", err)
	}
	tok.Signature = sig

	m.mu.Lock()
	m.tokens[tok.ID] = tok
	m.byAgent[tok.AgentID] = append(m.byAgent[tok.AgentID], tok.ID)
	m.mu.Unlock()

	m.record(ctx, "grant", tok.AgentID, tok.ID, map[string]any{"scope": string(tok.Scope)})
	return tok, nil
}

// Delegate mints a child token derived from parentID for toAgent, narrowed
// to permissions (nil means "same as parent") and bounded to duration
// (clamped to the parent's remaining lifetime) (§4.2 delegate).
func (m *Manager) Delegate(ctx context.Context, parentID, toAgent string, permissions []Permission, duration time.Duration) (*Token, error) {
	m.mu.RLock()
	parent, ok := m.tokens[parentID]
	m.mu.RUnlock()
	if !ok {
		return nil, apierrors.ErrNotFound
	}
	if !parent.Delegatable {
		return nil, ErrNotDelegatable
	}
	// Children are always minted non-delegatable (below), so a delegation
	// chain can never exceed depth 1 — cfg.MaxDelegationDepth is validated
	// at config load but has nothing further to enforce here.
	now := m.now()
	if parent.Expired(now) {
		return nil, ErrTokenExpired
	}

	childPerms := permissions
	if childPerms == nil {
		childPerms = parent.Permissions
	} else if !isSubset(childPerms, parent.Permissions) {
		return nil, ErrInsufficientPermissions
	}

	expiresAt := parent.ExpiresAt
	if duration > 0 {
		if candidate := now.Add(duration); candidate.Before(expiresAt) {
			expiresAt = candidate
		}
	}

	child := &Token{
		ID:            uuid.NewString(),
		AgentID:       toAgent,
		Permissions:   childPerms,
		Scope:         deriveScope(childPerms),
		IssuedAt:      now,
		ExpiresAt:     expiresAt,
		IssuedBy:      parent.AgentID,
		Delegatable:   false,
		ParentTokenID: parent.ID,
	}
	sig, err := sign(m.signingKey, child)
	if err != nil {
		return nil, fmt.Errorf("failed to sign delegated capability token: %w", err)
	}
	child.Signature = sig

	m.mu.Lock()
	m.tokens[child.ID] = child
	m.byAgent[child.AgentID] = append(m.byAgent[child.AgentID], child.ID)
	m.mu.Unlock()

	m.record(ctx, "delegate", toAgent, child.ID, map[string]any{"parent_token_id": parent.ID})
	return child, nil
}

// isSubset reports whether every requested permission is covered by some
// permission in parent (same category, actions subset, compatible resource).
func isSubset(requested, parent []Permission) bool {
	for _, req := range requested {
		covered := false
		for _, p := range parent {
			if p.Category != req.Category {
				continue
			}
			if !actionsSubset(req.Actions, p.Actions) {
				continue
			}
			if !resourceCompatible(req.Resource, p.Resource) {
				continue
			}
			covered = true
			break
		}
		if !covered {
			return false
		}
	}
	return true
}

// actionsSubset reports whether every action in requested is present in
// allowed (or allowed grants "*").
func actionsSubset(requested, allowed []string) bool {
	for _, r := range requested {
		if !containsAction(allowed, r) {
			return false
		}
	}
	return true
}

// resourceCompatible reports whether a child grant scoped to req is no
// broader than a parent grant scoped to parent. An empty parent resource
// covers anything; an empty child resource is only covered by an equally
// unscoped parent; a parent resource ending in "*" covers by prefix.
func resourceCompatible(req, parent string) bool {
	if parent == "" {
		return true
	}
	if req == "" {
		return false
	}
	if strings.HasSuffix(parent, "*") {
		return strings.HasPrefix(req, strings.TrimSuffix(parent, "*"))
	}
	return req == parent
}

// Check returns the first active token belonging to agentID that grants
// action within category against resource (§4.2 check). Expired tokens
// encountered along the way are revoked lazily; tokens whose signature no
// longer verifies are skipped and audited, never trusted.
func (m *Manager) Check(ctx context.Context, agentID, category, action, resource string) (*Token, error) {
	now := m.now()

	m.mu.RLock()
	ids := append([]string(nil), m.byAgent[agentID]...)
	m.mu.RUnlock()

	var expired, invalid []string
	var match *Token

	for _, id := range ids {
		m.mu.RLock()
		tok, ok := m.tokens[id]
		m.mu.RUnlock()
		if !ok {
			continue
		}
		if tok.Expired(now) {
			expired = append(expired, id)
			continue
		}
		if !verify(m.signingKey, tok) {
			invalid = append(invalid, id)
			continue
		}
		if match == nil && tokenAllows(tok, category, action, resource) {
			match = tok
		}
	}

	for _, id := range expired {
		m.revokeLocked(id)
		m.record(ctx, "expire", agentID, id, nil)
	}
	for _, id := range invalid {
		m.record(ctx, "invalid_signature", agentID, id, nil)
	}

	if match == nil {
		return nil, apierrors.ErrPermissionDenied
	}
	return match, nil
}

func tokenAllows(tok *Token, category, action, resource string) bool {
	for _, p := range tok.Permissions {
		if p.allows(category, action, resource) {
			return true
		}
	}
	return false
}

// Revoke removes a single token from the live map (§4.2 revoke). A revoked
// token leaves no residue here; its history lives in the audit log.
func (m *Manager) Revoke(ctx context.Context, id string) error {
	m.mu.Lock()
	tok, ok := m.tokens[id]
	if ok {
		m.revokeLocked(id)
	}
	m.mu.Unlock()
	if !ok {
		return apierrors.ErrNotFound
	}
	m.record(ctx, "revoke", tok.AgentID, id, nil)
	return nil
}

// revokeLocked removes id from both indexes. Caller must hold m.mu for writing.
func (m *Manager) revokeLocked(id string) {
	tok, ok := m.tokens[id]
	if !ok {
		return
	}
	delete(m.tokens, id)
	ids := m.byAgent[tok.AgentID]
	for i, existing := range ids {
		if existing == id {
			m.byAgent[tok.AgentID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}

// RevokeAll revokes every token belonging to agentID (§4.2 revokeAll).
func (m *Manager) RevokeAll(ctx context.Context, agentID string) error {
	m.mu.Lock()
	ids := append([]string(nil), m.byAgent[agentID]...)
	for _, id := range ids {
		m.revokeLocked(id)
	}
	m.mu.Unlock()

	m.record(ctx, "revoke_all", agentID, "", map[string]any{"count": len(ids)})
	return nil
}

// Cleanup sweeps expired tokens out of the live map and returns how many
// were removed (§4.2 cleanup).
func (m *Manager) Cleanup(ctx context.Context) int {
	now := m.now()

	m.mu.Lock()
	var expired []*Token
	for id, tok := range m.tokens {
		if tok.Expired(now) {
			expired = append(expired, tok)
			m.revokeLocked(id)
		}
	}
	m.mu.Unlock()

	for _, tok := range expired {
		m.record(ctx, "expire", tok.AgentID, tok.ID, nil)
	}
	return len(expired)
}
