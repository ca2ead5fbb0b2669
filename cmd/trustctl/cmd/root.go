// Package cmd provides the trustctl commands.
package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"trustkit/internal/app"
	"trustkit/internal/platform/config"
)

var (
	cfgFile    string
	jsonOutput bool
)

// rootCmd represents the base command.
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "trustctl",
		Short: "Operate a trustkit vault, audit log and pin table",
		Long: `trustctl inspects and maintains the stores a trustd daemon uses.

Examples:
  trustctl pin server.pem
  trustctl hash-password
  trustctl vault report --config /etc/trustkit/trustkit.yaml
  trustctl audit --operation pinningFailure --since 24h`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and TRUSTKIT_* env apply without one)")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	root.AddCommand(
		newPinCmd(),
		newHashPasswordCmd(),
		newVaultCmd(),
		newAuditCmd(),
		newMaintenanceCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		Error("%v", err)
		return err
	}
	return nil
}

// openApp loads the config and builds the service graph. The caller closes it.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, slog.New(slog.DiscardHandler))
}
