// Package audit is the append-only audit log shared by the gate, vault and
// trust validator. Entries are persisted synchronously to the store and then
// handed to the optional publisher for secondary sinks.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	audit "trustkit/pkg/platform/audit"
	"trustkit/pkg/requestcontext"

	"github.com/google/uuid"
)

// Publisher forwards persisted entries to secondary sinks.
type Publisher interface {
	Publish(ctx context.Context, entry audit.Entry) error
	Close() error
}

// Log implements audit.Recorder.
type Log struct {
	store     audit.Store
	publisher Publisher
	logger    *slog.Logger
	metrics   *Metrics
}

type Option func(*Log)

func WithPublisher(p Publisher) Option {
	return func(l *Log) {
		l.publisher = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		l.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(l *Log) {
		l.metrics = m
	}
}

func New(store audit.Store, opts ...Option) (*Log, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	l := &Log{store: store, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Record appends entry. ID and timestamp are assigned when missing. A store
// failure is returned; a publisher failure is only logged.
func (l *Log) Record(ctx context.Context, entry audit.Entry) error {
	if entry.Operation == "" {
		return fmt.Errorf("audit entry requires an operation")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = requestcontext.Now(ctx)
	}
	if entry.RequestID == "" {
		entry.RequestID = requestcontext.RequestID(ctx)
	}
	entry = entry.Normalize()

	if err := l.store.Append(ctx, entry); err != nil {
		if l.metrics != nil {
			l.metrics.IncPersistFailures()
		}
		l.logger.ErrorContext(ctx, "audit persistence failed",
			"operation", entry.Operation,
			"error", err,
		)
		return fmt.Errorf("append audit entry: %w", err)
	}
	if l.metrics != nil {
		l.metrics.IncRecorded(entry.Operation, entry.Outcome)
	}

	if l.publisher != nil {
		if err := l.publisher.Publish(ctx, entry); err != nil {
			l.logger.WarnContext(ctx, "audit publish failed",
				"operation", entry.Operation,
				"error", err,
			)
		}
	}
	return nil
}

// Query returns entries matching filter, newest first.
func (l *Log) Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	entries, err := l.store.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	return entries, nil
}

// Prune removes entries older than retention, measured from now.
func (l *Log) Prune(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := requestcontext.Now(ctx).Add(-retention)
	n, err := l.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune audit entries: %w", err)
	}
	if n > 0 {
		l.logger.InfoContext(ctx, "audit entries pruned", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// Close flushes and closes the publisher.
func (l *Log) Close() error {
	if l.publisher == nil {
		return nil
	}
	return l.publisher.Close()
}
