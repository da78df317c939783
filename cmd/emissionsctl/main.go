// Package main provides emissionsctl, the operator CLI for schema migrations,
// batch runs and ledger checks against the emissions database.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"example.com/emissions/internal/config"
)

var (
	databaseURL string
	logLevel    string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Load()

	root := &cobra.Command{
		Use:           "emissionsctl",
		Short:         "Operate the emissions calculation service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&databaseURL, "database-url", cfg.PostgresURL, "Postgres connection string (env POSTGRES_URL)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", cfg.LogLevel, "Log level")

	root.AddCommand(newMigrateCmd())
	root.AddCommand(newCalculateCmd(cfg.ReferenceDataPath))
	root.AddCommand(newVerifyLedgerCmd())
	root.AddCommand(newRefdataCmd(cfg.ReferenceDataPath))
	return root
}

func cliLogger(cmd *cobra.Command) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(logLevel)
	if err != nil || logLevel == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), NoColor: true}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
