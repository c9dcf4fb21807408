package policy

import (
	"fmt"

	"github.com/agentkernel/gateway/pkg/config"
)

func intPtr(i int) *int { return &i }

// Template returns a built-in rule set for one of "strict", "balanced", or
// "permissive" (§6 policy file). These are starting points for an operator
// to copy into a real rule set file, and a safe default when none is
// configured yet.
func Template(name string) (*config.PolicyRuleSet, error) {
	switch name {
	case "strict":
		return strictTemplate(), nil
	case "balanced":
		return balancedTemplate(), nil
	case "permissive":
		return permissiveTemplate(), nil
	default:
		return nil, fmt.Errorf("unknown policy template %q", name)
	}
}

// MustTemplate is Template without the error return, for use at startup
// with a name already validated by config.Validator.
func MustTemplate(name string) *config.PolicyRuleSet {
	rs, err := Template(name)
	if err != nil {
		panic(err)
	}
	return rs
}

// strictTemplate allows almost nothing: read-only access to a scratch
// directory, everything else requires approval or is blocked outright.
func strictTemplate() *config.PolicyRuleSet {
	return &config.PolicyRuleSet{
		Version: "1",
		Rules: []config.PolicyRule{
			{Name: "allow-scratch-read", Resource: "file", Priority: 100,
				Decision: config.DecisionAllow, Pattern: "/tmp/agent-scratch/**", Operation: "read"},
			{Name: "block-secrets-dir", Resource: "file", Priority: 90,
				Decision: config.DecisionBlock, Pattern: "/etc/**"},
			{Name: "block-metadata-endpoint", Resource: "network", Priority: 100,
				Decision: config.DecisionBlock, Pattern: "169.254.169.254"},
			{Name: "approve-shell", Resource: "shell", Priority: 10,
				Decision: config.DecisionApprove, Pattern: "*"},
			{Name: "block-secret-read", Resource: "secret", Priority: 10,
				Decision: config.DecisionBlock, Pattern: "*"},
		},
	}
}

// balancedTemplate allows routine file and outbound network access, gates
// shell execution and secret reads behind approval.
func balancedTemplate() *config.PolicyRuleSet {
	return &config.PolicyRuleSet{
		Version: "1",
		Rules: []config.PolicyRule{
			{Name: "allow-workspace-rw", Resource: "file", Priority: 100,
				Decision: config.DecisionAllow, Pattern: "/workspace/**"},
			{Name: "block-system-paths", Resource: "file", Priority: 90,
				Decision: config.DecisionBlock, Pattern: "/etc/**"},
			{Name: "block-metadata-endpoint", Resource: "network", Priority: 100,
				Decision: config.DecisionBlock, Pattern: "169.254.169.254"},
			{Name: "allow-https-egress", Resource: "network", Priority: 50,
				Decision: config.DecisionAllow, Pattern: "*", Port: intPtr(443), Protocol: "tcp"},
			{Name: "approve-shell", Resource: "shell", Priority: 10,
				Decision: config.DecisionApprove, Pattern: "*"},
			{Name: "approve-secret-read", Resource: "secret", Priority: 10,
				Decision: config.DecisionApprove, Pattern: "*"},
		},
	}
}

// permissiveTemplate allows almost everything, carving out a short
// blocklist of especially dangerous targets.
func permissiveTemplate() *config.PolicyRuleSet {
	return &config.PolicyRuleSet{
		Version: "1",
		Rules: []config.PolicyRule{
			{Name: "block-metadata-endpoint", Resource: "network", Priority: 100,
				Decision: config.DecisionBlock, Pattern: "169.254.169.254"},
			{Name: "block-shadow-file", Resource: "file", Priority: 100,
				Decision: config.DecisionBlock, Pattern: "/etc/shadow"},
			{Name: "block-destructive-shell", Resource: "shell", Priority: 100,
				Decision: config.DecisionBlock, Pattern: "*rm -rf /*"},
		},
	}
}
