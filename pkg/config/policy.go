package config

import "time"

// PolicyConfig configures the policy engine (C1): the ordered rule set it
// evaluates file/network/shell/secret requests against, and how it reacts to
// an unreadable or unparsable rule file at startup (§4.1).
type PolicyConfig struct {
	// RuleSetPath points at the rule set file (§6 policy file format). Both
	// YAML and TOML are accepted; the format is chosen by file extension.
	RuleSetPath string `yaml:"rule_set_path,omitempty"`

	// Template, when RuleSetPath is empty, selects a built-in rule set
	// ("strict", "balanced", "permissive") instead of loading from disk.
	Template string `yaml:"template,omitempty"`

	// ReloadInterval, when positive, makes the engine poll RuleSetPath for
	// changes and hot-reload the rule set without a restart.
	ReloadInterval time.Duration `yaml:"reload_interval,omitempty"`

	// DefaultDecision is applied when no rule matches a request.
	DefaultDecision Decision `yaml:"default_decision,omitempty"`
}

// Decision is the outcome of evaluating a request against the policy engine
// or an agent's capability token (§4.1, §4.2).
type Decision string

const (
	DecisionAllow   Decision = "allow"
	DecisionBlock   Decision = "block"
	DecisionApprove Decision = "approve"
)

// IsValid reports whether the decision is one of the three recognized outcomes.
func (d Decision) IsValid() bool {
	switch d {
	case DecisionAllow, DecisionBlock, DecisionApprove:
		return true
	default:
		return false
	}
}

// PolicyRule is a single rule as loaded from the policy file (§6 policy file
// format), tagged by surface via Resource. Rules are evaluated within their
// surface's list sorted by Priority descending, ties broken by file order;
// the first enabled match wins.
type PolicyRule struct {
	Name     string   `yaml:"name" toml:"name" validate:"required"`
	Priority int      `yaml:"priority" toml:"priority"`
	Resource string   `yaml:"resource" toml:"resource" validate:"required"` // "file", "network", "shell", "secret"
	Decision Decision `yaml:"decision" toml:"decision" validate:"required"`
	Agents   []string `yaml:"agents,omitempty" toml:"agents,omitempty"` // empty means "applies to all agents"

	// Enabled defaults to true; a disabled rule never matches. Use a
	// pointer so an omitted field in the file doesn't read as disabled.
	Enabled *bool `yaml:"enabled,omitempty" toml:"enabled,omitempty"`

	// Pattern is interpreted per Resource: a path glob (file), a host
	// pattern (network), a command glob (shell), or a name glob (secret).
	Pattern string `yaml:"pattern" toml:"pattern" validate:"required"`

	// Operation constrains a file rule to one of read/write/delete/list;
	// empty matches any operation.
	Operation string `yaml:"operation,omitempty" toml:"operation,omitempty"`

	// Port and Protocol constrain a network rule; they only apply when the
	// request itself carries the corresponding field (§4.1).
	Port     *int   `yaml:"port,omitempty" toml:"port,omitempty"`
	Protocol string `yaml:"protocol,omitempty" toml:"protocol,omitempty"`

	// ArgPattern additionally constrains a shell rule against the joined
	// argument list; empty matches any arguments.
	ArgPattern string `yaml:"arg_pattern,omitempty" toml:"arg_pattern,omitempty"`
}

// IsEnabled reports whether the rule is active, defaulting to true.
func (r PolicyRule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// PolicyRuleSet is the top-level shape of a policy file (§6).
type PolicyRuleSet struct {
	Version string       `yaml:"version" toml:"version"`
	Rules   []PolicyRule `yaml:"rules" toml:"rules"`
}
