package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no live item exists under the key in this scope.
	// Expired items read as not found.
	ErrNotFound = errors.New("vault: item not found")

	// ErrAuthenticationRequired means the item exists but its access control
	// needs a recent successful authentication.
	ErrAuthenticationRequired = errors.New("vault: authentication required")

	// ErrTokenExpired is returned by RetrieveToken for a token past its lifetime.
	ErrTokenExpired = errors.New("vault: token expired")
)

// StorageErrorKind classifies a StorageError.
type StorageErrorKind string

const (
	KindNotFound                 StorageErrorKind = "not_found"
	KindAccessControlUnsupported StorageErrorKind = "access_control_unsupported"
	KindWriteFailed              StorageErrorKind = "write_failed"
	KindReadFailed               StorageErrorKind = "read_failed"
	// KindKeyConflict means a rename target is occupied by an item that is
	// not itself moving away.
	KindKeyConflict StorageErrorKind = "key_conflict"
)

// StorageError reports a failure of the underlying secure store.
type StorageError struct {
	Op   string
	Key  string
	Kind StorageErrorKind
	Err  error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vault %s %q: %s: %v", e.Op, e.Key, e.Kind, e.Err)
	}
	return fmt.Sprintf("vault %s %q: %s", e.Op, e.Key, e.Kind)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNotFound) match not-found storage errors.
func (e *StorageError) Is(target error) bool {
	return target == ErrNotFound && e.Kind == KindNotFound
}

// IsStorageKind reports whether err is a StorageError of the given kind.
func IsStorageKind(err error, kind StorageErrorKind) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Kind == kind
}
