package policy

import (
	"context"
	"testing"

	"github.com/agentkernel/gateway/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestEngine_Evaluate_FilePathGlob(t *testing.T) {
	rs := &config.PolicyRuleSet{Rules: []config.PolicyRule{
		{Name: "allow-tmp", Resource: "file", Priority: 10, Decision: config.DecisionAllow, Pattern: "/tmp/**"},
		{Name: "block-etc", Resource: "file", Priority: 20, Decision: config.DecisionBlock, Pattern: "/etc/**"},
	}}
	e := NewEngine(config.PolicyConfig{DefaultDecision: config.DecisionBlock}, rs)

	decision, rule := e.Evaluate(context.Background(), "agent-1", FileRequest{Path: "/tmp/scratch/x.txt", Op: "read"})
	assert.Equal(t, config.DecisionAllow, decision)
	assert.Equal(t, "allow-tmp", rule)

	decision, rule = e.Evaluate(context.Background(), "agent-1", FileRequest{Path: "/etc/passwd", Op: "read"})
	assert.Equal(t, config.DecisionBlock, decision)
	assert.Equal(t, "block-etc", rule)

	decision, rule = e.Evaluate(context.Background(), "agent-1", FileRequest{Path: "/var/log/x", Op: "read"})
	assert.Equal(t, config.DecisionBlock, decision, "falls back to defaultDecision")
	assert.Equal(t, "default", rule)
}

func TestEngine_Evaluate_PriorityOrdering(t *testing.T) {
	rs := &config.PolicyRuleSet{Rules: []config.PolicyRule{
		{Name: "low-priority-block", Resource: "file", Priority: 1, Decision: config.DecisionBlock, Pattern: "/tmp/**"},
		{Name: "high-priority-allow", Resource: "file", Priority: 50, Decision: config.DecisionAllow, Pattern: "/tmp/**"},
	}}
	e := NewEngine(config.PolicyConfig{DefaultDecision: config.DecisionBlock}, rs)

	decision, rule := e.Evaluate(context.Background(), "agent-1", FileRequest{Path: "/tmp/x", Op: "read"})
	assert.Equal(t, config.DecisionAllow, decision)
	assert.Equal(t, "high-priority-allow", rule)
}

func TestEngine_Evaluate_DisabledRuleNeverMatches(t *testing.T) {
	rs := &config.PolicyRuleSet{Rules: []config.PolicyRule{
		{Name: "disabled-allow", Resource: "file", Priority: 100, Decision: config.DecisionAllow,
			Pattern: "/tmp/**", Enabled: boolPtr(false)},
	}}
	e := NewEngine(config.PolicyConfig{DefaultDecision: config.DecisionBlock}, rs)

	decision, rule := e.Evaluate(context.Background(), "agent-1", FileRequest{Path: "/tmp/x", Op: "read"})
	assert.Equal(t, config.DecisionBlock, decision)
	assert.Equal(t, "default", rule)
}

func TestEngine_Evaluate_AgentScopedRule(t *testing.T) {
	rs := &config.PolicyRuleSet{Rules: []config.PolicyRule{
		{Name: "only-trusted-agent", Resource: "shell", Priority: 10, Decision: config.DecisionAllow,
			Pattern: "*", Agents: []string{"trusted-agent"}},
	}}
	e := NewEngine(config.PolicyConfig{DefaultDecision: config.DecisionBlock}, rs)

	decision, _ := e.Evaluate(context.Background(), "trusted-agent", ShellRequest{Command: "ls -la"})
	assert.Equal(t, config.DecisionAllow, decision)

	decision, rule := e.Evaluate(context.Background(), "other-agent", ShellRequest{Command: "ls -la"})
	assert.Equal(t, config.DecisionBlock, decision)
	assert.Equal(t, "default", rule)
}

func TestEngine_Evaluate_NetworkHostWildcard(t *testing.T) {
	rs := &config.PolicyRuleSet{Rules: []config.PolicyRule{
		{Name: "allow-internal", Resource: "network", Priority: 10, Decision: config.DecisionAllow, Pattern: "*.internal.example.com"},
	}}
	e := NewEngine(config.PolicyConfig{DefaultDecision: config.DecisionBlock}, rs)

	decision, _ := e.Evaluate(context.Background(), "agent-1", NetworkRequest{Host: "db.internal.example.com"})
	assert.Equal(t, config.DecisionAllow, decision)

	decision, _ = e.Evaluate(context.Background(), "agent-1", NetworkRequest{Host: "internal.example.com"})
	assert.Equal(t, config.DecisionAllow, decision, "bare suffix also matches")

	decision, _ = e.Evaluate(context.Background(), "agent-1", NetworkRequest{Host: "evil.com"})
	assert.Equal(t, config.DecisionBlock, decision)
}

func TestEngine_Evaluate_NetworkPortConstraint(t *testing.T) {
	rs := &config.PolicyRuleSet{Rules: []config.PolicyRule{
		{Name: "allow-https", Resource: "network", Priority: 10, Decision: config.DecisionAllow,
			Pattern: "*", Port: intPtr(443)},
	}}
	e := NewEngine(config.PolicyConfig{DefaultDecision: config.DecisionBlock}, rs)

	port443, port80 := 443, 80
	decision, _ := e.Evaluate(context.Background(), "agent-1", NetworkRequest{Host: "example.com", Port: &port443})
	assert.Equal(t, config.DecisionAllow, decision)

	decision, _ = e.Evaluate(context.Background(), "agent-1", NetworkRequest{Host: "example.com", Port: &port80})
	assert.Equal(t, config.DecisionBlock, decision)

	decision, _ = e.Evaluate(context.Background(), "agent-1", NetworkRequest{Host: "example.com"})
	assert.Equal(t, config.DecisionAllow, decision, "rule port constraint doesn't apply when request carries no port")
}

func TestEngine_Evaluate_ShellGlobAndArgPattern(t *testing.T) {
	rs := &config.PolicyRuleSet{Rules: []config.PolicyRule{
		{Name: "allow-git-status", Resource: "shell", Priority: 10, Decision: config.DecisionAllow,
			Pattern: "git *", ArgPattern: "status*"},
	}}
	e := NewEngine(config.PolicyConfig{DefaultDecision: config.DecisionBlock}, rs)

	decision, _ := e.Evaluate(context.Background(), "agent-1", ShellRequest{Command: "git status", Args: []string{"status"}})
	assert.Equal(t, config.DecisionAllow, decision)

	decision, _ = e.Evaluate(context.Background(), "agent-1", ShellRequest{Command: "git push", Args: []string{"push"}})
	assert.Equal(t, config.DecisionBlock, decision)
}

func TestEngine_Evaluate_SecretGlob(t *testing.T) {
	rs := &config.PolicyRuleSet{Rules: []config.PolicyRule{
		{Name: "allow-app-secrets", Resource: "secret", Priority: 10, Decision: config.DecisionAllow, Pattern: "APP_*"},
	}}
	e := NewEngine(config.PolicyConfig{DefaultDecision: config.DecisionBlock}, rs)

	decision, _ := e.Evaluate(context.Background(), "agent-1", SecretRequest{Name: "APP_API_KEY"})
	assert.Equal(t, config.DecisionAllow, decision)

	decision, _ = e.Evaluate(context.Background(), "agent-1", SecretRequest{Name: "AWS_SECRET_ACCESS_KEY"})
	assert.Equal(t, config.DecisionBlock, decision)
}

func TestEngine_Reload_SwapsRuleSet(t *testing.T) {
	e := NewEngine(config.PolicyConfig{DefaultDecision: config.DecisionBlock}, &config.PolicyRuleSet{})

	decision, _ := e.Evaluate(context.Background(), "agent-1", FileRequest{Path: "/tmp/x", Op: "read"})
	assert.Equal(t, config.DecisionBlock, decision)

	e.Reload(&config.PolicyRuleSet{Rules: []config.PolicyRule{
		{Name: "allow-tmp", Resource: "file", Priority: 10, Decision: config.DecisionAllow, Pattern: "/tmp/**"},
	}})

	decision, rule := e.Evaluate(context.Background(), "agent-1", FileRequest{Path: "/tmp/x", Op: "read"})
	assert.Equal(t, config.DecisionAllow, decision)
	assert.Equal(t, "allow-tmp", rule)
}

type recordedDecision struct {
	agentName string
	ruleName  string
	decision  config.Decision
}

type fakeAuditRecorder struct{ records []recordedDecision }

func (f *fakeAuditRecorder) RecordPolicyDecision(_ context.Context, agentName string, _ Request, decision config.Decision, ruleName string) {
	f.records = append(f.records, recordedDecision{agentName, ruleName, decision})
}

func TestEngine_Evaluate_RecordsAuditEntry(t *testing.T) {
	e := NewEngine(config.PolicyConfig{DefaultDecision: config.DecisionBlock}, &config.PolicyRuleSet{})
	recorder := &fakeAuditRecorder{}
	e.SetAuditRecorder(recorder)

	_, _ = e.Evaluate(context.Background(), "agent-1", FileRequest{Path: "/tmp/x", Op: "read"})
	require.Len(t, recorder.records, 1)
	assert.Equal(t, "default", recorder.records[0].ruleName)
	assert.Equal(t, config.DecisionBlock, recorder.records[0].decision)
}

func TestTemplate_AllPresetsLoadAndValidate(t *testing.T) {
	for _, name := range []string{"strict", "balanced", "permissive"} {
		rs, err := Template(name)
		require.NoError(t, err, name)
		require.NoError(t, validateRuleSet(rs), name)
	}

	_, err := Template("nonexistent")
	assert.Error(t, err)
}

func TestCheckValid(t *testing.T) {
	assert.Error(t, CheckValid(config.PolicyConfig{}))
	assert.Error(t, CheckValid(config.PolicyConfig{RuleSetPath: "x.yaml", Template: "strict"}))
	assert.NoError(t, CheckValid(config.PolicyConfig{RuleSetPath: "x.yaml"}))
	assert.NoError(t, CheckValid(config.PolicyConfig{Template: "strict"}))
}
