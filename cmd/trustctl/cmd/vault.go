package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newVaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Inspect and maintain the configured vault",
		Long: `Reports never print item values, only keys, tiers and fingerprints.

The vault backend comes from the config; a bolt file is locked while trustd
holds it open.`,
	}
	cmd.AddCommand(newVaultReportCmd(), newVaultDuplicatesCmd(), newVaultSweepCmd())
	return cmd
}

func newVaultReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Summarise item protection and expiry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Vault.PerformSecurityAudit(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s %d\n", Bold("items:"), report.TotalItems)
			fmt.Fprintf(w, "  protected    %d\n", len(report.ProtectedItems))
			fmt.Fprintf(w, "  unprotected  %d %s\n", len(report.UnprotectedItems), Dim("%s", strings.Join(report.UnprotectedItems, ", ")))
			fmt.Fprintf(w, "  expired      %d %s\n", len(report.ExpiredItems), Dim("%s", strings.Join(report.ExpiredItems, ", ")))
			for _, r := range report.Recommendations {
				Warning(w, "%s", r)
			}
			return nil
		},
	}
}

func newVaultDuplicatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "duplicates",
		Short: "List keys that hold the same value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			groups, err := a.Vault.FindDuplicateValues(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), groups)
			}
			w := cmd.OutOrStdout()
			if len(groups) == 0 {
				Success(w, "no duplicate values")
				return nil
			}
			for _, g := range groups {
				fmt.Fprintf(w, "%s %s\n", Dim("%s", g.Fingerprint), strings.Join(g.Keys, ", "))
			}
			return nil
		},
	}
}

func newVaultSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Vault.RemoveExpiredItems(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]int{"removed": n})
			}
			Success(cmd.OutOrStdout(), "removed %d expired items", n)
			return nil
		},
	}
}
