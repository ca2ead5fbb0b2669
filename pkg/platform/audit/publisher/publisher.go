// Package publisher forwards persisted audit entries to secondary sinks
// (rotating files, Kafka) either inline or through a bounded buffer.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	audit "trustkit/pkg/platform/audit"
)

var (
	// ErrBufferFull is returned in async mode when the buffer cannot take another entry.
	ErrBufferFull = errors.New("audit buffer full")
	// ErrClosed is returned by Publish once Close has been called.
	ErrClosed = errors.New("audit publisher closed")
)

// Publisher delivers entries to a sink. In async mode delivery happens on a
// single background goroutine; Close drains whatever is buffered.
type Publisher struct {
	sink    audit.Sink
	logger  *slog.Logger
	metrics *Metrics

	buffer int
	queue  chan audit.Entry
	wg     sync.WaitGroup

	// mu guards closed. Publish holds the read lock across its send so Close
	// cannot close the queue or the sink underneath it.
	mu     sync.RWMutex
	closed bool
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithAsyncBuffer switches the publisher to async mode with a buffer of size n.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		p.buffer = n
	}
}

// WithLogger sets a logger for delivery failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// NewPublisher creates a publisher for sink.
func NewPublisher(sink audit.Sink, opts ...Option) *Publisher {
	p := &Publisher{sink: sink}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer > 0 {
		p.queue = make(chan audit.Entry, p.buffer)
		p.wg.Add(1)
		go p.run()
	}
	return p
}

// Publish delivers entry. In async mode it never blocks: a full buffer
// returns ErrBufferFull and a cancelled context returns ctx.Err(). After
// Close it returns ErrClosed.
func (p *Publisher) Publish(ctx context.Context, entry audit.Entry) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if p.queue == nil {
		return p.deliver(ctx, entry)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.queue <- entry:
		return nil
	default:
		if p.metrics != nil {
			p.metrics.IncDropped()
		}
		return ErrBufferFull
	}
}

// Close stops accepting entries, drains the buffer and closes the sink.
// Later calls are no-ops.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.queue != nil {
		close(p.queue)
	}
	p.mu.Unlock()

	p.wg.Wait()
	return p.sink.Close()
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for entry := range p.queue {
		_ = p.deliver(context.Background(), entry)
	}
}

func (p *Publisher) deliver(ctx context.Context, entry audit.Entry) error {
	if err := p.sink.Publish(ctx, entry); err != nil {
		if p.metrics != nil {
			p.metrics.IncFailures()
		}
		if p.logger != nil {
			p.logger.WarnContext(ctx, "audit sink delivery failed",
				"operation", entry.Operation,
				"error", err,
			)
		}
		return err
	}
	if p.metrics != nil {
		p.metrics.IncDelivered()
	}
	return nil
}

// Multi fans an entry out to several sinks. Every sink is attempted; the
// errors are joined.
type Multi []audit.Sink

func (m Multi) Publish(ctx context.Context, entry audit.Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
