package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/porthorian/orgauthz"
)

const envPolicyPath = "ORGAUTHZ_POLICY_PATH"

var errDenied = errors.New("access denied")

type clientConfig struct {
	DatabaseURL string
	PolicyPath  string
}

func (c *clientConfig) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.DatabaseURL, "database-url", "", "Postgres connection URL. Can also be set via "+envDatabaseURL+".")
	cmd.Flags().StringVar(&c.PolicyPath, "policy", "", "Policy YAML file. Can also be set via "+envPolicyPath+". Defaults to the built-in workspace policy.")
}

func (c clientConfig) runtime() (orgauthz.RuntimeConfig, error) {
	databaseURL, err := resolveDatabaseURL(c.DatabaseURL, envDatabaseURL)
	if err != nil {
		return orgauthz.RuntimeConfig{}, err
	}

	policyPath := strings.TrimSpace(c.PolicyPath)
	if policyPath == "" {
		policyPath = lookupEnv(envPolicyPath)
	}

	return orgauthz.RuntimeConfig{
		Storage: orgauthz.StorageConfig{
			Backend:  orgauthz.StorageBackendPostgres,
			Postgres: orgauthz.PostgresConfig{DSN: databaseURL, MaxOpenConns: 2},
		},
		Policy: orgauthz.PolicyConfig{Path: policyPath},
	}, nil
}

// newClient is replaced in tests.
var newClient = func(cmd *cobra.Command, cfg clientConfig) (*orgauthz.Client, error) {
	runtime, err := cfg.runtime()
	if err != nil {
		return nil, err
	}
	return orgauthz.New(orgauthz.Config{Runtime: runtime, Logger: commandLogger(cmd)})
}

func init() {
	rootCmd.AddCommand(newCheckCommand(), newDescribeCommand())
}

func newCheckCommand() *cobra.Command {
	var (
		cfg      clientConfig
		userID   string
		res      string
		action   string
		asJSON   bool
		explains bool
	)

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate whether a user may perform an action on a resource",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd, cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			decision, err := client.Decide(context.Background(), userID, res, action)
			if err != nil {
				return err
			}

			if asJSON {
				if err := writeCommandJSON(cmd, decision); err != nil {
					return err
				}
			} else {
				verdict := "deny"
				if decision.Allowed {
					verdict = "allow"
				}
				cmd.Printf("%s %s %s %s\n", verdict, userID, action, res)
				if decision.Allowed {
					cmd.Printf("matched %s\n", decision.Subject)
				}
				if explains {
					cmd.Printf("evaluated %s\n", strings.Join(decision.Evaluated, " "))
				}
			}

			if !decision.Allowed {
				return errDenied
			}
			return nil
		},
	}
	cfg.bind(checkCmd)
	checkCmd.Flags().StringVar(&userID, "user", "", "User ID to evaluate.")
	checkCmd.Flags().StringVar(&res, "resource", "", "Resource path, e.g. group:7:members.")
	checkCmd.Flags().StringVar(&action, "action", "", "Action: create, read, update or delete.")
	checkCmd.Flags().BoolVar(&asJSON, "json", false, "Print the decision as JSON.")
	checkCmd.Flags().BoolVar(&explains, "explain", false, "Print every subject that was evaluated.")
	_ = checkCmd.MarkFlagRequired("user")
	_ = checkCmd.MarkFlagRequired("resource")
	_ = checkCmd.MarkFlagRequired("action")

	return checkCmd
}

func newDescribeCommand() *cobra.Command {
	var (
		cfg    clientConfig
		userID string
	)

	describeCmd := &cobra.Command{
		Use:   "describe",
		Short: "Print the permission descriptor for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd, cfg)
			if err != nil {
				return err
			}
			defer client.Close()

			descriptor, err := client.Describe(context.Background(), userID)
			if err != nil {
				return err
			}
			return writeCommandJSON(cmd, descriptor)
		},
	}
	cfg.bind(describeCmd)
	describeCmd.Flags().StringVar(&userID, "user", "", "User ID to describe.")
	_ = describeCmd.MarkFlagRequired("user")

	return describeCmd
}

func writeCommandJSON(cmd *cobra.Command, value any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(value); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
