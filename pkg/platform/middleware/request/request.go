// Package request stamps every HTTP request with the values services read
// through requestcontext: one "now" for the whole request, a request ID and
// the calling actor.
package request

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"trustkit/pkg/requestcontext"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderActor     = "X-Actor"
)

// maxRequestIDLength bounds client-supplied IDs before they reach logs.
const maxRequestIDLength = 64

// Context captures the request time, adopts or generates a request ID and
// echoes the ID back in the response.
func Context(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		ctx = requestcontext.WithRequestID(ctx, id)
		if actor := r.Header.Get(HeaderActor); actor != "" {
			ctx = requestcontext.WithActor(ctx, actor)
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
