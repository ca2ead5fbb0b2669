package cmd

import (
	"github.com/spf13/cobra"
)

func newMaintenanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Run scheduled maintenance jobs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run every configured job once: vault sweep, rotation prune, audit prune",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Maintenance.RunOnce(cmd.Context())
			if jsonOutput {
				if werr := writeJSON(cmd.OutOrStdout(), res); werr != nil {
					return werr
				}
				return err
			}
			w := cmd.OutOrStdout()
			Success(w, "expired vault items removed: %d", res.ExpiredItems)
			Success(w, "pin rotations pruned: %d", res.PrunedRotations)
			Success(w, "audit entries pruned: %d", res.PrunedAuditEntries)
			return err
		},
	})
	return cmd
}
