package audit

import (
	"context"
	"log/slog"

	"trustkit/pkg/requestcontext"
)

// Emit logs an audit entry and forwards it to the recorder.
// Recorder failures are logged, never returned: audit is observability, not
// a gate on the calling operation.
func Emit(ctx context.Context, logger *slog.Logger, recorder Recorder, entry Entry) {
	if entry.RequestID == "" {
		entry.RequestID = requestcontext.RequestID(ctx)
	}
	if entry.Actor == "" {
		entry.Actor = requestcontext.Actor(ctx)
	}
	if logger != nil {
		logger.InfoContext(ctx, string(entry.Operation),
			"subject", entry.Subject,
			"outcome", entry.Outcome,
			"reason", entry.Reason,
			"category", entry.Category(),
			"log_type", "audit",
		)
	}
	if recorder == nil {
		return
	}
	if err := recorder.Record(ctx, entry); err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to record audit entry",
			"operation", entry.Operation,
			"error", err,
		)
	}
}
