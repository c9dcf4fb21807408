package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentkernel/gateway/pkg/policy"
)

var policyLintRulesPath string

// policyLintCmd validates a policy rule set file offline, the way an
// operator would run it in CI before rolling a new rule set out to the
// fleet (§6 policy file format).
var policyLintCmd = &cobra.Command{
	Use:   "policy-lint",
	Short: "Validate a policy rule set file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if policyLintRulesPath == "" {
			return fmt.Errorf("--rules is required")
		}
		ruleSet, err := policy.Load(policyLintRulesPath)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d rule(s) OK\n", policyLintRulesPath, len(ruleSet.Rules))
		return nil
	},
}

func init() {
	policyLintCmd.Flags().StringVar(&policyLintRulesPath, "rules", "", "Path to the policy rule set file (YAML or TOML)")
}
