package file

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	audit "trustkit/pkg/platform/audit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func TestSink_WritesJSONLines(t *testing.T) {
	buf := &bytes.Buffer{}
	sink := NewWriter(nopCloser{buf})

	ts := time.Date(2025, 5, 4, 10, 0, 0, 0, time.UTC)
	require.NoError(t, sink.Publish(context.Background(), audit.Entry{
		ID:        "e-1",
		Timestamp: ts,
		Operation: audit.OperationPinningFailure,
		Subject:   "api.example.com",
		Outcome:   audit.OutcomeReported,
		Reason:    "pin mismatch",
	}))
	require.NoError(t, sink.Publish(context.Background(), audit.Entry{ID: "e-2", Operation: audit.OperationRead}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var rec map[string]string
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "e-1", rec["id"])
	assert.Equal(t, "security", rec["category"])
	assert.Equal(t, "pinningFailure", rec["operation"])
	assert.Equal(t, "2025-05-04T10:00:00Z", rec["timestamp"])
	assert.Equal(t, "pin mismatch", rec["reason"])
}

func TestNew(t *testing.T) {
	t.Run("empty path is rejected", func(t *testing.T) {
		_, err := New(Config{})
		assert.Error(t, err)
	})

	t.Run("opens rotating file under directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "audit", "audit.log")
		sink, err := New(Config{Path: path})
		require.NoError(t, err)
		require.NoError(t, sink.Publish(context.Background(), audit.Entry{ID: "x", Operation: audit.OperationWrite}))
		require.NoError(t, sink.Close())

		matches, err := filepath.Glob(path + ".*")
		require.NoError(t, err)
		assert.NotEmpty(t, matches)
	})
}
