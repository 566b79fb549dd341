// Package cli implements ledgerctl, the operator command line for the ledger
// engine.
package cli

import (
	"context"

	"ledger-engine/config"
	"ledger-engine/internal/app"
	"ledger-engine/pkg/logger"

	"github.com/spf13/cobra"
)

// RootConfig carries flags shared by every subcommand.
type RootConfig struct {
	ConfigPath string
}

// NewRootCmd builds the ledgerctl command tree.
func NewRootCmd() *cobra.Command {
	rc := &RootConfig{}

	cmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the ledger engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&rc.ConfigPath, "config", "c", "", "path to config file (defaults to ./config.yaml)")

	cmd.AddCommand(
		newAmortizeCmd(),
		newPayoutsCmd(rc),
		newExportCmd(rc),
		newTokenCmd(rc),
	)
	return cmd
}

// openApp loads configuration and wires the engine. Callers must Close it.
func openApp(ctx context.Context, rc *RootConfig) (*app.App, error) {
	cfg, err := config.Load(rc.ConfigPath)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logger.New(cfg.Log.Level, cfg.Log.Pretty))
}
