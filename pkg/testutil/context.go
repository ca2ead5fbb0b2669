package testutil

import (
	"context"
	"time"

	"trustkit/pkg/requestcontext"
)

// At returns a background context whose request time is base+offset. Service
// suites keep a fixed base and move through time by offset, which is how
// lockout windows, grace periods and expiries are exercised.
func At(base time.Time, offset time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), base.Add(offset))
}
