package audit

import (
	"context"
	"strings"

	"github.com/agentkernel/gateway/pkg/config"
	"github.com/agentkernel/gateway/pkg/policy"
)

// RecordPolicyDecision implements policy.AuditRecorder, so pkg/policy.Engine
// can be wired to this Log without either package importing the other
// directly (avoids a policy→audit→store→... import cycle).
func (l *Log) RecordPolicyDecision(ctx context.Context, agentName string, req policy.Request, decision config.Decision, ruleName string) {
	resourceID, details := describeRequest(req)
	l.Append(ctx, Entry{
		Action:       "policy.evaluate",
		ResourceType: req.Surface(),
		ResourceID:   resourceID,
		ActorID:      agentName,
		AgentName:    agentName,
		RuleName:     ruleName,
		Details:      details,
		Outcome:      outcomeFromDecision(decision),
	})
}

// RecordCapabilityEvent implements capability.AuditRecorder.
func (l *Log) RecordCapabilityEvent(ctx context.Context, action, agentID, tokenID string, detail map[string]any) {
	outcome := OutcomeSuccess
	if strings.Contains(action, "denied") || strings.Contains(action, "rejected") || strings.Contains(action, "expired") || strings.Contains(action, "invalid") {
		outcome = OutcomeDenied
	}
	l.Append(ctx, Entry{
		Action:       "capability." + action,
		ResourceType: "capability_token",
		ResourceID:   tokenID,
		ActorID:      agentID,
		AgentName:    agentID,
		Details:      detail,
		Outcome:      outcome,
	})
}

// RecordTaskEvent implements taskrouter.AuditRecorder: one entry per
// dispatched task that isn't already covered by RecordPolicyDecision or
// RecordCapabilityEvent (spawn, terminate, tool invocation outcomes).
func (l *Log) RecordTaskEvent(ctx context.Context, action, agentID string, detail map[string]any) {
	outcome := OutcomeSuccess
	if strings.HasSuffix(action, ".blocked") || strings.HasSuffix(action, ".error") {
		outcome = OutcomeDenied
		if strings.HasSuffix(action, ".error") {
			outcome = OutcomeError
		}
	}
	l.Append(ctx, Entry{
		Action:       action,
		ResourceType: "agent",
		ResourceID:   agentID,
		ActorID:      agentID,
		AgentName:    agentID,
		Details:      detail,
		Outcome:      outcome,
	})
}

// outcomeFromDecision maps a policy decision onto the audit outcome vocabulary.
// "approve" has no autonomous resolution yet — it is recorded as blocked
// pending human approval; the approval workflow's own grant/deny is audited
// separately as capability.grant-equivalent events once resolved.
func outcomeFromDecision(d config.Decision) Outcome {
	switch d {
	case config.DecisionAllow:
		return OutcomeSuccess
	case config.DecisionBlock, config.DecisionApprove:
		return OutcomeBlocked
	default:
		return OutcomeError
	}
}

// describeRequest extracts a resource identifier and structured detail map
// from a policy.Request for audit recording.
func describeRequest(req policy.Request) (resourceID string, details map[string]any) {
	switch r := req.(type) {
	case policy.FileRequest:
		return r.Path, map[string]any{"op": r.Op}
	case policy.NetworkRequest:
		d := map[string]any{"protocol": r.Protocol}
		if r.Port != nil {
			d["port"] = *r.Port
		}
		return r.Host, d
	case policy.ShellRequest:
		return r.Command, map[string]any{"args": r.Args}
	case policy.SecretRequest:
		return r.Name, map[string]any{}
	default:
		return "", map[string]any{}
	}
}
