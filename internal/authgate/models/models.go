package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Policy controls attempt limits and how long a success is trusted.
type Policy struct {
	// RequireRecentAuthentication lets Authenticate succeed from cache while
	// the last success is younger than ValidityDuration.
	RequireRecentAuthentication bool          `mapstructure:"require_recent_authentication"`
	ValidityDuration            time.Duration `mapstructure:"validity_duration" validate:"gte=0"`
	MaxFailedAttempts           int           `mapstructure:"max_failed_attempts" validate:"gte=1,lte=100"`
	LockoutDuration             time.Duration `mapstructure:"lockout_duration" validate:"gte=0"`
	AllowPasscodeFallback       bool          `mapstructure:"allow_passcode_fallback"`
	// LockAfterBackground is how long the host may stay in the background
	// before a new authentication is required. Zero re-locks on any
	// background period.
	LockAfterBackground time.Duration `mapstructure:"lock_after_background" validate:"gte=0"`
	// InactivityTimeout drops a trusted session once this long has passed
	// without RecordActivity. Zero disables the timer.
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout" validate:"gte=0"`
}

func DefaultPolicy() Policy {
	return Policy{
		RequireRecentAuthentication: true,
		ValidityDuration:            5 * time.Minute,
		MaxFailedAttempts:           3,
		LockoutDuration:             5 * time.Minute,
		AllowPasscodeFallback:       true,
		LockAfterBackground:         0,
		InactivityTimeout:           0,
	}
}

// Validate checks the policy's field constraints.
func (p Policy) Validate() error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s must be %s %s", fe.Field(), fe.Tag(), fe.Param()))
	}
	return fmt.Errorf("invalid policy: %s", strings.Join(msgs, "; "))
}

// Method is the way a user proved presence.
type Method string

const (
	MethodNone           Method = ""
	MethodBiometric      Method = "biometric"
	MethodDevicePasscode Method = "devicePasscode"
	MethodPassword       Method = "password"
)

// Availability is what the biometric hardware reports.
type Availability string

const (
	Available    Availability = "available"
	NotAvailable Availability = "notAvailable"
	NotEnrolled  Availability = "notEnrolled"
)

type BiometricType string

const (
	BiometricNone    BiometricType = "none"
	BiometricTouchID BiometricType = "touchID"
	BiometricFaceID  BiometricType = "faceID"
	BiometricOpticID BiometricType = "opticID"
)

// State of the gate's attempt machine.
type State string

const (
	StateIdle           State = "idle"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated"
	StateFailed         State = "failed"
	StateLocked         State = "locked"
)

// Outcome of AuthenticateWithFallback.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeRequiresPassword Outcome = "requiresPassword"
)

// LockReason explains why a session stopped being trusted.
type LockReason string

const (
	LockManual               LockReason = "manual"
	LockBackground           LockReason = "background"
	LockFailedAuthentication LockReason = "failedAuthentication"
	LockTimeout              LockReason = "timeout"
)

// Session is the gate's ephemeral state. It is never persisted.
type Session struct {
	LastSuccessAt  time.Time `json:"last_success_at,omitzero"`
	FailedAttempts int       `json:"failed_attempts"`
	LockedUntil    time.Time `json:"locked_until,omitzero"`
	LastMethod     Method    `json:"last_method,omitempty"`
	BackgroundedAt time.Time `json:"backgrounded_at,omitzero"`
	LastActivityAt time.Time `json:"last_activity_at,omitzero"`
}

// IsLockedAt reports whether the lockout is still running at now.
func (s Session) IsLockedAt(now time.Time) bool {
	return !s.LockedUntil.IsZero() && now.Before(s.LockedUntil)
}

// Status is the read-only view served to operators.
type Status struct {
	State                  State         `json:"state"`
	AuthenticationRequired bool          `json:"authentication_required"`
	Session                Session       `json:"session"`
	Policy                 Policy        `json:"policy"`
	BiometricType          BiometricType `json:"biometric_type"`
	FallbackPasswordSet    bool          `json:"fallback_password_set"`
}
