package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/porthorian/orgauthz/pkg/policy"
)

var errPolicyInvalid = errors.New("policy has errors")

func init() {
	rootCmd.AddCommand(newPolicyCommand())
}

func newPolicyCommand() *cobra.Command {
	policyCmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect authorization policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var file string
	lintCmd := &cobra.Command{
		Use:   "lint",
		Short: "Report policy rules that cannot behave as written",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, source, err := readPolicy(file)
			if err != nil {
				return err
			}

			issues := policy.Lint(p)
			for _, issue := range issues {
				cmd.Println(issue.String())
			}
			if issues.HasErrors() {
				return fmt.Errorf("%s: %w", source, errPolicyInvalid)
			}

			if _, err := policy.Compile(p); err != nil {
				return fmt.Errorf("%s: %w", source, err)
			}
			cmd.Printf("%s: %d rule(s), %d warning(s)\n", source, len(p.Rules), len(issues))
			return nil
		},
	}
	lintCmd.Flags().StringVarP(&file, "file", "f", "", "Policy YAML file. Defaults to the built-in workspace policy.")

	policyCmd.AddCommand(lintCmd)
	policyCmd.AddCommand(&cobra.Command{
		Use:   "default",
		Short: "Print the built-in workspace policy",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = cmd.OutOrStdout().Write(policy.DefaultYAML())
		},
	})

	return policyCmd
}

func readPolicy(file string) (policy.Policy, string, error) {
	path := strings.TrimSpace(file)
	if path == "" {
		p, err := policy.Parse(policy.DefaultYAML())
		return p, "default policy", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return policy.Policy{}, path, fmt.Errorf("read policy: %w", err)
	}
	p, err := policy.Parse(data)
	if err != nil {
		return policy.Policy{}, path, fmt.Errorf("parse policy %s: %w", path, err)
	}
	return p, path, nil
}
