// Package service implements the authentication gate: it decides whether a
// caller may proceed with a sensitive operation, using the platform's
// biometric or passcode capability while enforcing attempt limits and
// short-lived trust caching.
//
// Session counters are guarded by a mutex. The sensor itself is guarded by a
// weighted semaphore of size one, so at most one prompt is ever on screen and
// queued callers give up when their context is done.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"

	"trustkit/internal/authgate/metrics"
	"trustkit/internal/authgate/models"
	"trustkit/internal/authgate/ports"
	dErrors "trustkit/pkg/domain-errors"
	audit "trustkit/pkg/platform/audit"
	"trustkit/pkg/requestcontext"
)

type Service struct {
	provider ports.BiometricProvider
	prompt   *semaphore.Weighted

	mu         sync.Mutex
	policy     models.Policy
	session    models.Session
	lastResult models.State
	prompting  bool
	password   []byte
	subs       map[int]chan bool
	nextSub    int

	bcryptCost int
	auditor    audit.Recorder
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

type Option func(*Service)

// WithPolicy replaces DefaultPolicy. The policy is validated by New.
func WithPolicy(p models.Policy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

func WithAudit(recorder audit.Recorder) Option {
	return func(s *Service) {
		s.auditor = recorder
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithBcryptCost sets the work factor for the fallback password hash.
func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		s.bcryptCost = cost
	}
}

func New(provider ports.BiometricProvider, opts ...Option) (*Service, error) {
	if provider == nil {
		return nil, errors.New("biometric provider is required")
	}
	s := &Service{
		provider:   provider,
		prompt:     semaphore.NewWeighted(1),
		policy:     models.DefaultPolicy(),
		lastResult: models.StateIdle,
		subs:       make(map[int]chan bool),
		bcryptCost: bcrypt.DefaultCost,
		logger:     slog.New(slog.DiscardHandler),
		tracer:     otel.Tracer("trustkit/authgate"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.policy.Validate(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid authentication policy")
	}
	if s.bcryptCost < bcrypt.MinCost || s.bcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", s.bcryptCost)
	}
	return s, nil
}

// Configure replaces the active policy. Session counters are kept.
func (s *Service) Configure(policy models.Policy) error {
	if err := policy.Validate(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid authentication policy")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if policy.AllowPasscodeFallback && s.password != nil {
		return dErrors.New(dErrors.CodeConflict, "device passcode fallback cannot be enabled while a fallback password is set")
	}
	s.policy = policy
	s.logger.Info("authentication policy configured",
		"max_failed_attempts", policy.MaxFailedAttempts,
		"lockout_duration", policy.LockoutDuration,
		"validity_duration", policy.ValidityDuration,
	)
	return nil
}

func (s *Service) Policy() models.Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// Session returns a copy of the current session.
func (s *Service) Session() models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// State reports where the attempt machine is at the context's time.
func (s *Service) State(ctx context.Context) models.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked(requestcontext.Now(ctx))
}

// IsAuthenticationRequired is true when no success falls inside the validity
// window, the session is locked, or the host stayed in the background past
// the policy's limit.
func (s *Service) IsAuthenticationRequired(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := requestcontext.Now(ctx)
	s.releaseExpiredLockLocked(now)
	return s.requiredLocked(now)
}

// Status is the operator view of the gate. It holds no secrets.
func (s *Service) Status(ctx context.Context) models.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := requestcontext.Now(ctx)
	s.releaseExpiredLockLocked(now)
	return models.Status{
		State:                  s.stateLocked(now),
		AuthenticationRequired: s.requiredLocked(now),
		Session:                s.session,
		Policy:                 s.policy,
		BiometricType:          s.provider.BiometricType(),
		FallbackPasswordSet:    s.password != nil,
	}
}

// Subscribe delivers authentication-required changes: true when the session
// is re-locked, false after a success. Only the latest value is buffered.
// The returned func unsubscribes and closes the channel.
func (s *Service) Subscribe() (<-chan bool, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan bool, 1)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

func (s *Service) stateLocked(now time.Time) models.State {
	switch {
	case s.session.IsLockedAt(now):
		return models.StateLocked
	case s.prompting:
		return models.StateAuthenticating
	case s.lastResult == models.StateAuthenticated && !s.requiredLocked(now):
		return models.StateAuthenticated
	case s.lastResult == models.StateFailed:
		return models.StateFailed
	default:
		return models.StateIdle
	}
}

func (s *Service) requiredLocked(now time.Time) bool {
	if s.session.IsLockedAt(now) || s.session.LastSuccessAt.IsZero() {
		return true
	}
	if now.Sub(s.session.LastSuccessAt) >= s.policy.ValidityDuration {
		return true
	}
	return s.backgroundExpiredLocked(now) || s.inactiveLocked(now)
}

// inactiveLocked reports whether the inactivity timer has run out. Activity
// is counted from the later of the last success and the last RecordActivity.
func (s *Service) inactiveLocked(now time.Time) bool {
	if s.policy.InactivityTimeout <= 0 {
		return false
	}
	last := s.session.LastSuccessAt
	if s.session.LastActivityAt.After(last) {
		last = s.session.LastActivityAt
	}
	return now.Sub(last) >= s.policy.InactivityTimeout
}

func (s *Service) backgroundExpiredLocked(now time.Time) bool {
	bg := s.session.BackgroundedAt
	return !bg.IsZero() && now.Sub(bg) >= s.policy.LockAfterBackground
}

// releaseExpiredLockLocked ends an elapsed lockout; the attempt counter
// starts again from zero.
func (s *Service) releaseExpiredLockLocked(now time.Time) {
	if s.session.LockedUntil.IsZero() || now.Before(s.session.LockedUntil) {
		return
	}
	s.session.LockedUntil = time.Time{}
	s.session.FailedAttempts = 0
	if s.lastResult == models.StateFailed {
		s.lastResult = models.StateIdle
	}
	if s.metrics != nil {
		s.metrics.SetFailedAttempts(0)
	}
}

// relockLocked drops the trusted session and tells subscribers.
func (s *Service) relockLocked(reason models.LockReason) {
	s.session.LastSuccessAt = time.Time{}
	s.session.LastActivityAt = time.Time{}
	if s.lastResult == models.StateAuthenticated {
		s.lastResult = models.StateIdle
	}
	if s.metrics != nil {
		s.metrics.IncRelock(string(reason))
	}
	s.notifyLocked(true)
}

func (s *Service) notifyLocked(required bool) {
	for _, ch := range s.subs {
		select {
		case ch <- required:
		default:
			// Replace the stale value.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- required:
			default:
			}
		}
	}
}

func (s *Service) emit(ctx context.Context, op audit.Operation, method models.Method, outcome audit.Outcome, reason string) {
	subject := "session"
	if method != models.MethodNone {
		subject = "session/" + string(method)
	}
	audit.Emit(context.WithoutCancel(ctx), s.logger, s.auditor, audit.Entry{
		Operation: op,
		Subject:   subject,
		Outcome:   outcome,
		Reason:    reason,
	})
}

func (s *Service) countAttempt(method models.Method, result string) {
	if s.metrics != nil {
		s.metrics.IncAttempt(string(method), result)
	}
}

func (s *Service) startSpan(ctx context.Context, name string, method models.Method) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("authgate.method", string(method)),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "authentication failed")
	}
	span.End()
}
