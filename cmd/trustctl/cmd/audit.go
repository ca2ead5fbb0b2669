package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	audit "trustkit/pkg/platform/audit"
	"trustkit/pkg/requestcontext"
)

func newAuditCmd() *cobra.Command {
	var (
		operations []string
		subject    string
		outcome    string
		since      time.Duration
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recent audit entries, newest first",
		Long: `Lists entries from the configured audit store. With the memory store only
entries written by this invocation are visible, so point --config at the
Postgres store trustd uses.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			filter := audit.Filter{
				Subject: subject,
				Outcome: audit.Outcome(outcome),
				Limit:   limit,
			}
			for _, op := range operations {
				filter.Operations = append(filter.Operations, audit.Operation(op))
			}
			if since > 0 {
				filter.Since = requestcontext.Now(ctx).Add(-since)
			}
			entries, err := a.Audit.Query(ctx, filter)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "No audit entries found.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tOPERATION\tSUBJECT\tREASON\tOUTCOME")
			for _, e := range entries {
				// Outcome is last: color escapes would skew tabwriter's column widths.
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					e.Timestamp.UTC().Format(time.RFC3339),
					e.Operation,
					e.Subject,
					e.Reason,
					colorOutcome(e.Outcome),
				)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringSliceVar(&operations, "operation", nil, "only these operations (repeatable)")
	cmd.Flags().StringVar(&subject, "subject", "", "only this subject")
	cmd.Flags().StringVar(&outcome, "outcome", "", "only this outcome")
	cmd.Flags().DurationVar(&since, "since", 0, "only entries newer than this, e.g. 24h")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to print")
	return cmd
}

func colorOutcome(o audit.Outcome) string {
	switch o {
	case audit.OutcomeSuccess:
		return successColor.Sprint(o)
	case audit.OutcomeFailure, audit.OutcomeDenied:
		return errorColor.Sprint(o)
	case audit.OutcomeReported:
		return warningColor.Sprint(o)
	default:
		return string(o)
	}
}
