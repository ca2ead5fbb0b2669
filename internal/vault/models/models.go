package models

import (
	"fmt"
	"time"
)

// AccessControl is the gate a stored item sits behind.
type AccessControl string

const (
	AccessNone               AccessControl = "none"
	AccessDevicePasscode     AccessControl = "devicePasscode"
	AccessBiometryCurrentSet AccessControl = "biometryCurrentSet"
)

// ParseAccessControl accepts the wire names above; empty means AccessNone.
func ParseAccessControl(s string) (AccessControl, error) {
	switch AccessControl(s) {
	case "", AccessNone:
		return AccessNone, nil
	case AccessDevicePasscode, AccessBiometryCurrentSet:
		return AccessControl(s), nil
	default:
		return "", fmt.Errorf("unknown access control %q", s)
	}
}

// RequiresAuthentication reports whether reads must pass the gate.
func (a AccessControl) RequiresAuthentication() bool {
	return a == AccessDevicePasscode || a == AccessBiometryCurrentSet
}

// AllAccessControls lists every tier, weakest first.
func AllAccessControls() []AccessControl {
	return []AccessControl{AccessNone, AccessDevicePasscode, AccessBiometryCurrentSet}
}

// Item is a stored secret with its policy. Scope is fixed when the item is
// first written; moving an item between scopes means delete and recreate.
type Item struct {
	Key           string        `cbor:"1,keyasint"`
	Value         []byte        `cbor:"2,keyasint"`
	AccessControl AccessControl `cbor:"3,keyasint"`
	ExpiresAt     time.Time     `cbor:"4,keyasint,omitempty"`
	Persistent    bool          `cbor:"5,keyasint"`
	Scope         string        `cbor:"6,keyasint,omitempty"`
	Version       int           `cbor:"7,keyasint"`
	CreatedAt     time.Time     `cbor:"8,keyasint"`
	UpdatedAt     time.Time     `cbor:"9,keyasint"`
}

// IsExpiredAt reports whether the item has an expiry at or before now.
func (i *Item) IsExpiredAt(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// Attributes returns the item's metadata without its value.
func (i *Item) Attributes() ItemAttributes {
	return ItemAttributes{
		Key:           i.Key,
		AccessControl: i.AccessControl,
		ExpiresAt:     i.ExpiresAt,
		Persistent:    i.Persistent,
		Scope:         i.Scope,
		Version:       i.Version,
		CreatedAt:     i.CreatedAt,
		UpdatedAt:     i.UpdatedAt,
	}
}

// ItemAttributes is everything about an item except its value.
type ItemAttributes struct {
	Key           string        `json:"key"`
	AccessControl AccessControl `json:"access_control"`
	ExpiresAt     time.Time     `json:"expires_at,omitzero"`
	Persistent    bool          `json:"persistent"`
	Scope         string        `json:"scope,omitempty"`
	Version       int           `json:"version"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// StoreOptions controls how Store writes an item. The zero value stores a
// durable item with no access control and no expiry.
type StoreOptions struct {
	AccessControl AccessControl
	ExpiresAt     time.Time
	// MemoryOnly keeps the item in the volatile store; it is lost on restart.
	MemoryOnly bool
}

// Report is the result of a security audit over the vault's scope.
type Report struct {
	TotalItems       int       `json:"total_items"`
	ProtectedItems   []string  `json:"protected_items"`
	UnprotectedItems []string  `json:"unprotected_items"`
	ExpiredItems     []string  `json:"expired_items"`
	Recommendations  []string  `json:"recommendations"`
	GeneratedAt      time.Time `json:"generated_at"`
}

// DuplicateGroup lists keys that hold the same value. Fingerprint is keyed and
// cannot be reversed to the value.
type DuplicateGroup struct {
	Fingerprint string   `json:"fingerprint"`
	Keys        []string `json:"keys"`
}

// MigrationResult summarises a Migrate run.
type MigrationResult struct {
	Migrated []string           `json:"migrated"`
	Skipped  int                `json:"skipped"`
	Failures []MigrationFailure `json:"failures,omitempty"`
}

type MigrationFailure struct {
	From string `json:"from"`
	To   string `json:"to"`
	Err  error  `json:"-"`
}

// Credentials is an account login bundle stored as one item.
type Credentials struct {
	Username     string `cbor:"1,keyasint"`
	Password     string `cbor:"2,keyasint"`
	APIKey       string `cbor:"3,keyasint,omitempty"`
	RefreshToken string `cbor:"4,keyasint,omitempty"`
}

// OAuthToken is a bearer token pair with its lifetime.
type OAuthToken struct {
	AccessToken  string    `cbor:"1,keyasint"`
	RefreshToken string    `cbor:"2,keyasint,omitempty"`
	TokenType    string    `cbor:"3,keyasint"`
	ExpiresIn    int       `cbor:"4,keyasint"`
	IssuedAt     time.Time `cbor:"5,keyasint"`
}

// ExpiresAt is IssuedAt plus ExpiresIn; zero when the token has no lifetime.
func (t *OAuthToken) ExpiresAt() time.Time {
	if t.ExpiresIn <= 0 || t.IssuedAt.IsZero() {
		return time.Time{}
	}
	return t.IssuedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}
