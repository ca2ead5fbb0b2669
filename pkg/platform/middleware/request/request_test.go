package request

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustkit/pkg/requestcontext"
)

func serve(r *http.Request) (*httptest.ResponseRecorder, *http.Request) {
	var seen *http.Request
	h := Context(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, r)
	return rr, seen
}

func TestContext(t *testing.T) {
	t.Run("client request id is adopted", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(HeaderRequestID, "abc-123")
		r.Header.Set(HeaderActor, "ops")

		rr, seen := serve(r)
		require.NotNil(t, seen)
		assert.Equal(t, "abc-123", rr.Header().Get(HeaderRequestID))
		assert.Equal(t, "abc-123", requestcontext.RequestID(seen.Context()))
		assert.Equal(t, "ops", requestcontext.Actor(seen.Context()))
	})

	t.Run("missing or oversized id is replaced", func(t *testing.T) {
		for _, id := range []string{"", strings.Repeat("x", maxRequestIDLength+1)} {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.Header.Set(HeaderRequestID, id)
			rr, _ := serve(r)
			_, err := uuid.Parse(rr.Header().Get(HeaderRequestID))
			assert.NoError(t, err)
		}
	})

	t.Run("request time is fixed for the request", func(t *testing.T) {
		_, seen := serve(httptest.NewRequest(http.MethodGet, "/", nil))
		now := requestcontext.Now(seen.Context())
		assert.Equal(t, now, requestcontext.Now(seen.Context()))
	})
}
