package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lexbox/ledger/internal/config"
)

var version = "0.1.0"

var (
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "lexledger",
	Short: "Case billing ledger and encrypted document vault",
	Long: `lexledger runs maintenance tasks against a case billing ledger.

Configuration is read from the file named by --config, from a .env file
in the working directory and from LEDGER_* environment variables, for
example LEDGER_STORE_DSN or LEDGER_VAULT_KEY.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		path, err := cmd.Flags().GetString("config")
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
		logger = cfg.Logger(os.Stderr).With("component", "lexledger")
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.Error("command failed", "command", os.Args[1:], "error", err)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (yaml, toml or json)")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(activityCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(serveCmd)
}
