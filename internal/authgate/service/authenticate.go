package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trustkit/internal/authgate/models"
	"trustkit/internal/authgate/ports"
	audit "trustkit/pkg/platform/audit"
	"trustkit/pkg/requestcontext"
)

// Authenticate prompts for biometrics unless a recent success still covers
// the caller. While locked out it fails with ErrLockout without touching the
// sensor.
func (s *Service) Authenticate(ctx context.Context, reason string) (err error) {
	ctx, span := s.startSpan(ctx, "authgate.Authenticate", models.MethodBiometric)
	defer func() { endSpan(span, err) }()

	return s.authenticate(ctx, reason, models.MethodBiometric)
}

// AuthenticateWithFallback tries biometrics first. When they fail or are
// unavailable it falls back to the device passcode if the policy allows it;
// otherwise it returns OutcomeRequiresPassword so the caller can ask for the
// application password and check it with VerifyFallbackPassword.
func (s *Service) AuthenticateWithFallback(ctx context.Context, reason string) (outcome models.Outcome, err error) {
	ctx, span := s.startSpan(ctx, "authgate.AuthenticateWithFallback", models.MethodBiometric)
	defer func() { endSpan(span, err) }()

	err = s.authenticate(ctx, reason, models.MethodBiometric)
	if err == nil {
		return models.OutcomeSuccess, nil
	}
	if errors.Is(err, models.ErrUserCancelled) {
		return "", err
	}
	if s.Policy().AllowPasscodeFallback {
		if err := s.authenticate(ctx, reason, models.MethodDevicePasscode); err != nil {
			return "", err
		}
		return models.OutcomeSuccess, nil
	}
	if errors.Is(err, models.ErrLockout) {
		return "", err
	}
	return models.OutcomeRequiresPassword, nil
}

func (s *Service) authenticate(ctx context.Context, reason string, method models.Method) error {
	if done, err := s.admit(ctx, method); done {
		return err
	}

	queued := time.Now()
	if err := s.prompt.Acquire(ctx, 1); err != nil {
		return s.cancelled(ctx, method)
	}
	defer s.prompt.Release(1)
	if s.metrics != nil {
		s.metrics.ObservePromptWait(time.Since(queued).Seconds())
	}

	// The session may have been settled by the caller ahead in the queue.
	if done, err := s.admit(ctx, method); done {
		return err
	}

	if method == models.MethodBiometric {
		switch s.provider.CheckAvailability(ctx) {
		case models.NotAvailable:
			return s.unusable(ctx, method, models.ErrBiometryNotAvailable)
		case models.NotEnrolled:
			return s.unusable(ctx, method, models.ErrBiometryNotEnrolled)
		}
	}

	s.mu.Lock()
	s.prompting = true
	s.mu.Unlock()

	evalErr := s.provider.Evaluate(ctx, ports.EvaluationRequest{Reason: reason, Method: method})

	s.mu.Lock()
	s.prompting = false
	s.mu.Unlock()

	return s.settle(ctx, method, evalErr)
}

// admit answers without prompting when it can: lockout for biometrics, or
// success from cache. done is false when a prompt is needed.
func (s *Service) admit(ctx context.Context, method models.Method) (done bool, err error) {
	if ctx.Err() != nil {
		return true, s.cancelled(ctx, method)
	}

	s.mu.Lock()
	now := requestcontext.Now(ctx)
	s.releaseExpiredLockLocked(now)

	if method == models.MethodBiometric && s.session.IsLockedAt(now) {
		retry := s.session.LockedUntil.Sub(now)
		s.mu.Unlock()
		s.emit(ctx, audit.OperationAuthenticate, method, audit.OutcomeDenied, "locked out")
		s.countAttempt(method, "lockout")
		return true, &models.Failure{Kind: models.ErrLockout, RetryAfter: retry}
	}
	cached := s.policy.RequireRecentAuthentication && !s.requiredLocked(now)
	s.mu.Unlock()

	if cached {
		if s.metrics != nil {
			s.metrics.IncCacheHit()
		}
		return true, nil
	}
	return false, nil
}

func (s *Service) settle(ctx context.Context, method models.Method, evalErr error) error {
	switch {
	case evalErr == nil:
		s.succeed(ctx, method)
		return nil
	case ctx.Err() != nil, errors.Is(evalErr, ports.ErrUserCancel), errors.Is(evalErr, context.Canceled):
		return s.cancelled(ctx, method)
	case method == models.MethodDevicePasscode:
		// The platform enforces its own passcode attempt limits.
		detail := "device passcode not accepted"
		if errors.Is(evalErr, ports.ErrNotAvailable) {
			detail = "device passcode not set"
		}
		s.mu.Lock()
		s.lastResult = models.StateFailed
		s.mu.Unlock()
		s.emit(ctx, audit.OperationAuthenticate, method, audit.OutcomeFailure, detail)
		s.countAttempt(method, "failed")
		return models.NewFailure(models.ErrFailed, detail)
	case errors.Is(evalErr, ports.ErrNotAvailable):
		return s.unusable(ctx, method, models.ErrBiometryNotAvailable)
	case errors.Is(evalErr, ports.ErrNotEnrolled):
		return s.unusable(ctx, method, models.ErrBiometryNotEnrolled)
	default:
		return s.recordFailure(ctx, method, "biometric not recognized")
	}
}

func (s *Service) succeed(ctx context.Context, method models.Method) {
	s.mu.Lock()
	s.session.LastSuccessAt = requestcontext.Now(ctx)
	s.session.LastActivityAt = s.session.LastSuccessAt
	s.session.FailedAttempts = 0
	s.session.LockedUntil = time.Time{}
	s.session.BackgroundedAt = time.Time{}
	s.session.LastMethod = method
	s.lastResult = models.StateAuthenticated
	s.notifyLocked(false)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SetFailedAttempts(0)
	}
	s.emit(ctx, audit.OperationAuthenticate, method, audit.OutcomeSuccess, "authenticated")
	s.countAttempt(method, "success")
}

// recordFailure counts one failed match. The call that reaches the limit
// still reports ErrFailed; it arms the lockout that the next call sees.
func (s *Service) recordFailure(ctx context.Context, method models.Method, detail string) error {
	s.mu.Lock()
	now := requestcontext.Now(ctx)
	s.session.FailedAttempts++
	n, limit := s.session.FailedAttempts, s.policy.MaxFailedAttempts
	s.lastResult = models.StateFailed
	locked := n >= limit
	if locked {
		s.session.LockedUntil = now.Add(s.policy.LockoutDuration)
		s.relockLocked(models.LockFailedAuthentication)
	}
	until := s.session.LockedUntil
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SetFailedAttempts(n)
	}
	s.countAttempt(method, "failed")
	detail = fmt.Sprintf("%s (%d of %d attempts)", detail, n, limit)
	s.emit(ctx, audit.OperationAuthenticate, method, audit.OutcomeFailure, detail)
	if locked {
		if s.metrics != nil {
			s.metrics.IncLockout()
		}
		s.logger.WarnContext(ctx, "authentication locked out",
			"failed_attempts", n,
			"locked_until", until,
		)
		s.emit(ctx, audit.OperationLockout, method, audit.OutcomeSuccess,
			fmt.Sprintf("locked after %d failed attempts", n))
	}
	return models.NewFailure(models.ErrFailed, detail)
}

// cancelled leaves every counter untouched.
func (s *Service) cancelled(ctx context.Context, method models.Method) error {
	s.emit(ctx, audit.OperationAuthenticate, method, audit.OutcomeCancelled, "cancelled")
	s.countAttempt(method, "cancelled")
	return models.NewFailure(models.ErrUserCancelled, "")
}

func (s *Service) unusable(ctx context.Context, method models.Method, kind error) error {
	s.emit(ctx, audit.OperationAuthenticate, method, audit.OutcomeFailure, kind.Error())
	s.countAttempt(method, "unavailable")
	return models.NewFailure(kind, "")
}
