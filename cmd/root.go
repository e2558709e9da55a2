package cmd

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/spf13/cobra"
)

var BuildVersion = "dev"

var verbosity int

var rootCmd = &cobra.Command{
	Use:          "orgauthz",
	Short:        "Workspace authorization CLI",
	Long:         "CLI for managing the orgauthz membership schema, linting policies and inspecting authorization decisions.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&verbosity, "verbose", "v", 0, "Log verbosity; logs are written as JSON to stderr.")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of the orgauthz CLI",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s\n", BuildVersion)
		},
	})
}

// commandLogger writes JSON log lines to the command's error stream.
func commandLogger(cmd *cobra.Command) logr.Logger {
	out := cmd.ErrOrStderr()
	return funcr.NewJSON(func(obj string) {
		_, _ = out.Write([]byte(obj + "\n"))
	}, funcr.Options{Verbosity: verbosity, LogTimestamp: true}).WithName("orgauthz")
}

func Execute() error {
	return rootCmd.Execute()
}
