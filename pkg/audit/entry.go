// Package audit implements the append-only audit event stream: a bounded
// in-memory buffer batched to a durable SQL store, backed by a ring buffer
// for hot-path queries (§4.3 C3 Audit Log).
package audit

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/agentkernel/gateway/pkg/store"
)

// Outcome classifies how an audited action resolved.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeBlocked Outcome = "blocked"
	OutcomeDenied  Outcome = "denied"
	OutcomeError   Outcome = "error"
)

// Entry is one audit record (§3 AuditEntry). Append-only; batch-flushed to
// the durable store; retained in the in-memory ring for queries.
type Entry struct {
	ID           string
	Action       string
	ResourceType string
	ResourceID   string
	ActorID      string
	AgentName    string
	RuleName     string
	Details      map[string]any
	Outcome      Outcome
	CreatedAt    time.Time
}

// newEntry fills in ID/CreatedAt for a caller-built Entry.
func newEntry(now time.Time, e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = now
	return e
}

// toStoreEntry maps an Entry onto the audit_log row shape. ResourceType and
// ResourceID are folded into the single Resource column as "type:id" (or
// just the type when no ID is known) — the full, unfolded Entry remains
// available for queries via the ring, so nothing is lost on the hot path.
func toStoreEntry(nodeID string, e Entry) *store.AuditEntry {
	resource := e.ResourceType
	if e.ResourceID != "" {
		if resource != "" {
			resource += ":" + e.ResourceID
		} else {
			resource = e.ResourceID
		}
	}

	detail := e.Details
	if detail == nil {
		detail = map[string]any{}
	}

	return &store.AuditEntry{
		OccurredAt: e.CreatedAt,
		NodeID:     nodeID,
		AgentName:  nullable(e.AgentName),
		Actor:      e.ActorID,
		Action:     e.Action,
		Resource:   nullable(resource),
		Decision:   string(e.Outcome),
		RuleName:   nullable(e.RuleName),
		Detail:     detail,
	}
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
