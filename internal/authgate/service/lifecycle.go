package service

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"trustkit/internal/authgate/models"
	dErrors "trustkit/pkg/domain-errors"
	audit "trustkit/pkg/platform/audit"
	"trustkit/pkg/requestcontext"
)

const (
	minPasswordLength = 8
	// bcrypt ignores input past 72 bytes.
	maxPasswordLength = 72
)

// ApplicationDidEnterBackground starts the background timer. With a zero
// LockAfterBackground the session is dropped immediately.
func (s *Service) ApplicationDidEnterBackground(ctx context.Context) {
	s.mu.Lock()
	now := requestcontext.Now(ctx)
	if s.session.BackgroundedAt.IsZero() {
		s.session.BackgroundedAt = now
	}
	relock := s.policy.LockAfterBackground == 0 && !s.session.LastSuccessAt.IsZero()
	if relock {
		s.relockLocked(models.LockBackground)
	}
	s.mu.Unlock()

	if relock {
		s.emit(ctx, audit.OperationLockout, models.MethodNone, audit.OutcomeSuccess, "session locked: background")
	}
}

// ApplicationWillEnterForeground stops the background timer and drops the
// session if the host was away longer than the policy allows.
func (s *Service) ApplicationWillEnterForeground(ctx context.Context) {
	s.mu.Lock()
	now := requestcontext.Now(ctx)
	if s.session.BackgroundedAt.IsZero() {
		s.mu.Unlock()
		return
	}
	relock := s.backgroundExpiredLocked(now) && !s.session.LastSuccessAt.IsZero()
	s.session.BackgroundedAt = time.Time{}
	if relock {
		s.relockLocked(models.LockBackground)
	}
	s.mu.Unlock()

	if relock {
		s.emit(ctx, audit.OperationLockout, models.MethodNone, audit.OutcomeSuccess, "session locked: background timeout")
	}
}

// RecordActivity restarts the inactivity timer of a trusted session. A session
// whose timer already ran out is dropped instead and subscribers are told.
func (s *Service) RecordActivity(ctx context.Context) {
	s.mu.Lock()
	now := requestcontext.Now(ctx)
	if s.session.LastSuccessAt.IsZero() {
		s.mu.Unlock()
		return
	}
	relock := s.inactiveLocked(now)
	if relock {
		s.relockLocked(models.LockTimeout)
	} else {
		s.session.LastActivityAt = now
	}
	s.mu.Unlock()

	if relock {
		s.emit(ctx, audit.OperationLockout, models.MethodNone, audit.OutcomeSuccess, "session locked: inactivity")
	}
}

// Invalidate locks the session on request. Counters and lockout are kept.
func (s *Service) Invalidate(ctx context.Context) {
	s.mu.Lock()
	s.relockLocked(models.LockManual)
	s.mu.Unlock()
	s.emit(ctx, audit.OperationLockout, models.MethodNone, audit.OutcomeSuccess, "session locked: manual")
}

// SetFallbackPassword stores a bcrypt hash of an application password used
// when biometrics fail and the device passcode is not allowed.
func (s *Service) SetFallbackPassword(ctx context.Context, password string) error {
	if len(password) < minPasswordLength {
		return dErrors.New(dErrors.CodeInvalidInput, "fallback password must be at least 8 characters")
	}
	if len(password) > maxPasswordLength {
		return dErrors.New(dErrors.CodeInvalidInput, "fallback password must be at most 72 bytes")
	}
	if s.Policy().AllowPasscodeFallback {
		return errPasscodeConflict
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash fallback password")
	}

	s.mu.Lock()
	if s.policy.AllowPasscodeFallback {
		s.mu.Unlock()
		return errPasscodeConflict
	}
	s.password = hash
	s.mu.Unlock()

	s.emit(ctx, audit.OperationWrite, models.MethodPassword, audit.OutcomeSuccess, "fallback password set")
	return nil
}

// VerifyFallbackPassword checks the application password. Wrong passwords
// count toward the same lockout as failed biometric matches.
func (s *Service) VerifyFallbackPassword(ctx context.Context, password string) (err error) {
	ctx, span := s.startSpan(ctx, "authgate.VerifyFallbackPassword", models.MethodPassword)
	defer func() { endSpan(span, err) }()

	s.mu.Lock()
	now := requestcontext.Now(ctx)
	s.releaseExpiredLockLocked(now)
	hash := s.password
	locked := s.session.IsLockedAt(now)
	retry := s.session.LockedUntil.Sub(now)
	s.mu.Unlock()

	if hash == nil {
		return models.NewFailure(models.ErrPasswordNotConfigured, "")
	}
	if locked {
		s.emit(ctx, audit.OperationAuthenticate, models.MethodPassword, audit.OutcomeDenied, "locked out")
		s.countAttempt(models.MethodPassword, "lockout")
		return &models.Failure{Kind: models.ErrLockout, RetryAfter: retry}
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			s.logger.ErrorContext(ctx, "fallback password hash unreadable", "error", err)
		}
		return s.recordFailure(ctx, models.MethodPassword, "password did not match")
	}
	s.succeed(ctx, models.MethodPassword)
	return nil
}

func (s *Service) ClearFallbackPassword(ctx context.Context) {
	s.mu.Lock()
	had := s.password != nil
	s.password = nil
	s.mu.Unlock()
	if had {
		s.emit(ctx, audit.OperationDelete, models.MethodPassword, audit.OutcomeSuccess, "fallback password cleared")
	}
}

var errPasscodeConflict = dErrors.New(dErrors.CodeConflict, "fallback password cannot be set while device passcode fallback is allowed")
