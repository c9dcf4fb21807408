package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/agentkernel/gateway/pkg/config"
	"gopkg.in/yaml.v3"
)

// Load reads a policy rule set from path (§6 policy file format). The
// format is chosen by extension: ".toml" decodes with BurntSushi/toml,
// anything else decodes as YAML.
func Load(path string) (*config.PolicyRuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}

	var rs config.PolicyRuleSet
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, &rs); err != nil {
			return nil, fmt.Errorf("failed to parse TOML policy file %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &rs); err != nil {
			return nil, fmt.Errorf("failed to parse YAML policy file %s: %w", path, err)
		}
	}

	if err := validateRuleSet(&rs); err != nil {
		return nil, fmt.Errorf("invalid policy file %s: %w", path, err)
	}
	return &rs, nil
}

func validateRuleSet(rs *config.PolicyRuleSet) error {
	for i, r := range rs.Rules {
		switch r.Resource {
		case "file", "network", "shell", "secret":
		default:
			return fmt.Errorf("rule[%d] %q: invalid resource %q", i, r.Name, r.Resource)
		}
		if !r.Decision.IsValid() {
			return fmt.Errorf("rule[%d] %q: invalid decision %q", i, r.Name, r.Decision)
		}
	}
	return nil
}

// LoadOrTemplate resolves cfg's rule source: a file on disk if RuleSetPath
// is set, otherwise a built-in Template.
func LoadOrTemplate(cfg config.PolicyConfig) (*config.PolicyRuleSet, error) {
	if err := CheckValid(cfg); err != nil {
		return nil, err
	}
	if cfg.RuleSetPath != "" {
		return Load(cfg.RuleSetPath)
	}
	return Template(cfg.Template)
}
