// Package sentinel names the storage facts that SecureStore backends report.
// Backends wrap them with context; services match them with errors.Is and
// translate them into their own error types.
package sentinel

import "errors"

var (
	// ErrNotFound means the scope holds no item under the key.
	ErrNotFound = errors.New("not found")
	// ErrExpired means the item exists but its expiry has passed. Callers
	// observe it as not found.
	ErrExpired = errors.New("expired")
)
