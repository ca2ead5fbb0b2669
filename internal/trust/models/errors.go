package models

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"
)

// Kind classifies a TrustError.
type Kind string

const (
	KindPinningFailed      Kind = "pinning_failed"
	KindExpired            Kind = "expired"
	KindNotYetValid        Kind = "not_yet_valid"
	KindRevoked            Kind = "revoked"
	KindRevocationUnknown  Kind = "revocation_unknown"
	KindInsufficientSCTs   Kind = "insufficient_scts"
	KindInvalidChain       Kind = "invalid_chain"
	KindInsecureConnection Kind = "insecure_connection"
	KindTLSVersionTooLow   Kind = "tls_version_too_low"
)

// Sentinels for errors.Is against a *TrustError.
var (
	ErrPinningFailed      = errors.New("certificate pinning failed")
	ErrExpired            = errors.New("certificate expired")
	ErrNotYetValid        = errors.New("certificate not yet valid")
	ErrRevoked            = errors.New("certificate revoked")
	ErrRevocationUnknown  = errors.New("certificate revocation status unknown")
	ErrInsufficientSCTs   = errors.New("insufficient signed certificate timestamps")
	ErrInvalidChain       = errors.New("invalid certificate chain")
	ErrInsecureConnection = errors.New("insecure connection")
	ErrTLSVersionTooLow   = errors.New("TLS version too low")
)

var kindErrors = map[Kind]error{
	KindPinningFailed:      ErrPinningFailed,
	KindExpired:            ErrExpired,
	KindNotYetValid:        ErrNotYetValid,
	KindRevoked:            ErrRevoked,
	KindRevocationUnknown:  ErrRevocationUnknown,
	KindInsufficientSCTs:   ErrInsufficientSCTs,
	KindInvalidChain:       ErrInvalidChain,
	KindInsecureConnection: ErrInsecureConnection,
	KindTLSVersionTooLow:   ErrTLSVersionTooLow,
}

// TrustError describes why a connection was not trusted. Only the fields
// relevant to Kind are set.
type TrustError struct {
	Kind   Kind
	Host   string
	Reason string
	// At is the expiry, start of validity or revocation time.
	At       time.Time
	Required int
	Found    int
	// RequiredVersion and FoundVersion are TLS protocol versions.
	RequiredVersion uint16
	FoundVersion    uint16
	Err             error
}

func (e *TrustError) Error() string {
	msg := kindErrors[e.Kind].Error()
	if e.Host != "" {
		msg += " for " + e.Host
	}
	switch e.Kind {
	case KindExpired:
		msg += " at " + e.At.UTC().Format(time.RFC3339)
	case KindNotYetValid:
		msg += " until " + e.At.UTC().Format(time.RFC3339)
	case KindRevoked:
		msg += " at " + e.At.UTC().Format(time.RFC3339)
	case KindInsufficientSCTs:
		msg += fmt.Sprintf(": required %d, found %d", e.Required, e.Found)
	case KindTLSVersionTooLow:
		msg += fmt.Sprintf(": required %s, found %s", tls.VersionName(e.RequiredVersion), tls.VersionName(e.FoundVersion))
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TrustError) Is(target error) bool {
	return kindErrors[e.Kind] == target
}

func (e *TrustError) Unwrap() error {
	return e.Err
}

// Reportable reports whether report-only mode may let the connection through
// despite this failure. TLS version, scheme and structural chain failures
// never qualify.
func (e *TrustError) Reportable() bool {
	switch e.Kind {
	case KindPinningFailed, KindExpired, KindNotYetValid, KindRevoked, KindRevocationUnknown, KindInsufficientSCTs:
		return true
	default:
		return false
	}
}
