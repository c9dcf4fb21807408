// Package policy implements the prioritized rule engine that gates
// file/network/shell/secret requests made on an agent's behalf (§4.1 C1
// Policy Engine).
package policy

import (
	"context"
	"sort"
	"sync"

	"github.com/agentkernel/gateway/pkg/apierrors"
	"github.com/agentkernel/gateway/pkg/config"
)

// AuditRecorder receives a record of every policy evaluation. Implemented by
// pkg/audit; the engine depends on this narrow interface rather than the
// audit package directly so the two can evolve independently.
type AuditRecorder interface {
	RecordPolicyDecision(ctx context.Context, agentName string, req Request, decision config.Decision, ruleName string)
}

// Engine evaluates requests against a hot-swappable rule set (§4.1, §5 —
// no lock is held across I/O; Reload swaps a pointer under mu).
type Engine struct {
	mu       sync.RWMutex
	rules    map[string][]config.PolicyRule // keyed by Surface(): "file", "network", "shell", "secret"
	cfg      config.PolicyConfig
	audit    AuditRecorder
}

// NewEngine builds an Engine from a rule set and its owning config.
func NewEngine(cfg config.PolicyConfig, ruleSet *config.PolicyRuleSet) *Engine {
	e := &Engine{cfg: cfg}
	e.rules = partitionRules(ruleSet)
	return e
}

// SetAuditRecorder wires the engine to record every decision. Optional —
// an engine with no recorder still evaluates correctly, it just isn't audited.
func (e *Engine) SetAuditRecorder(r AuditRecorder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.audit = r
}

// Reload atomically replaces the active rule set (§5 concurrency model).
func (e *Engine) Reload(ruleSet *config.PolicyRuleSet) {
	rules := partitionRules(ruleSet)
	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()
}

func partitionRules(rs *config.PolicyRuleSet) map[string][]config.PolicyRule {
	out := map[string][]config.PolicyRule{
		"file": nil, "network": nil, "shell": nil, "secret": nil,
	}
	if rs == nil {
		return out
	}
	for _, r := range rs.Rules {
		out[r.Resource] = append(out[r.Resource], r)
	}
	for surface, rules := range out {
		sort.SliceStable(rules, func(i, j int) bool {
			return rules[i].Priority > rules[j].Priority
		})
		out[surface] = rules
	}
	return out
}

// Evaluate returns the decision for req made on behalf of agentName, along
// with the name of the rule that matched ("default" if none did). Every
// call is audited if an AuditRecorder is wired (§4.1 edge case: "every
// evaluation appends an audit entry").
func (e *Engine) Evaluate(ctx context.Context, agentName string, req Request) (config.Decision, string) {
	e.mu.RLock()
	rules := e.rules[req.Surface()]
	recorder := e.audit
	defaultDecision := e.cfg.DefaultDecision
	e.mu.RUnlock()

	if defaultDecision == "" {
		defaultDecision = config.DecisionBlock
	}

	decision, ruleName := defaultDecision, "default"
	for _, rule := range rules {
		if !rule.IsEnabled() {
			continue
		}
		if len(rule.Agents) > 0 && !containsAgent(rule.Agents, agentName) {
			continue
		}
		if !matchesRequest(rule, req) {
			continue
		}
		decision, ruleName = rule.Decision, rule.Name
		break
	}

	if recorder != nil {
		recorder.RecordPolicyDecision(ctx, agentName, req, decision, ruleName)
	}
	return decision, ruleName
}

func containsAgent(agents []string, name string) bool {
	for _, a := range agents {
		if a == name {
			return true
		}
	}
	return false
}

func matchesRequest(rule config.PolicyRule, req Request) bool {
	switch r := req.(type) {
	case FileRequest:
		if rule.Operation != "" && rule.Operation != r.Op {
			return false
		}
		return matchPath(rule.Pattern, r.Path)
	case NetworkRequest:
		if rule.Port != nil && r.Port != nil && *rule.Port != *r.Port {
			return false
		}
		if rule.Protocol != "" && r.Protocol != "" && rule.Protocol != r.Protocol {
			return false
		}
		return matchHost(rule.Pattern, r.Host)
	case ShellRequest:
		if !matchGlob(rule.Pattern, r.Command) {
			return false
		}
		if rule.ArgPattern != "" && !matchGlob(rule.ArgPattern, joinArgs(r.Args)) {
			return false
		}
		return true
	case SecretRequest:
		return matchGlob(rule.Pattern, r.Name)
	default:
		return false
	}
}

func joinArgs(args []string) string {
	s := ""
	for i, a := range args {
		if i > 0 {
			s += " "
		}
		s += a
	}
	return s
}

// CheckValid reports whether cfg names a usable rule source: either a
// RuleSetPath to load from disk, or a built-in Template name — never
// neither, and never both (§4.1 startup fail-fast).
func CheckValid(cfg config.PolicyConfig) error {
	if cfg.RuleSetPath == "" && cfg.Template == "" {
		return apierrors.NewValidationError("rule_set_path", "either rule_set_path or template must be set")
	}
	if cfg.RuleSetPath != "" && cfg.Template != "" {
		return apierrors.NewValidationError("template", "rule_set_path and template are mutually exclusive")
	}
	return nil
}
