// Package file writes audit entries as JSON lines to a rotating log file.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	audit "trustkit/pkg/platform/audit"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

// Config controls rotation.
type Config struct {
	Path         string
	RotationTime time.Duration
	MaxAge       time.Duration
	MaxSizeMB    int64
}

// record is the on-disk shape. Field names are part of the file format.
type record struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Category  string `json:"category"`
	Operation string `json:"operation"`
	Subject   string `json:"subject"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Actor     string `json:"actor,omitempty"`
}

// Sink implements audit.Sink over a rotating file.
type Sink struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// New opens a rotating writer at cfg.Path (a dated suffix is appended per rotation,
// cfg.Path itself is kept as a symlink to the current file).
func New(cfg Config) (*Sink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return nil, fmt.Errorf("create audit log dir: %w", err)
	}
	if cfg.RotationTime <= 0 {
		cfg.RotationTime = 24 * time.Hour
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * 24 * time.Hour
	}

	opts := []rotatelogs.Option{
		rotatelogs.WithLinkName(cfg.Path),
		rotatelogs.WithRotationTime(cfg.RotationTime),
		rotatelogs.WithMaxAge(cfg.MaxAge),
	}
	if cfg.MaxSizeMB > 0 {
		opts = append(opts, rotatelogs.WithRotationSize(cfg.MaxSizeMB*1024*1024))
	}

	w, err := rotatelogs.New(cfg.Path+".%Y%m%d", opts...)
	if err != nil {
		return nil, fmt.Errorf("open rotating audit log: %w", err)
	}
	return &Sink{w: w}, nil
}

// NewWriter wraps an arbitrary writer; used by tests and stdout mode.
func NewWriter(w io.WriteCloser) *Sink {
	return &Sink{w: w}
}

func (s *Sink) Publish(_ context.Context, entry audit.Entry) error {
	line, err := json.Marshal(record{
		ID:        entry.ID,
		Timestamp: entry.Timestamp.UTC().Format(time.RFC3339Nano),
		Category:  string(entry.Category()),
		Operation: string(entry.Operation),
		Subject:   entry.Subject,
		Outcome:   string(entry.Outcome),
		Reason:    entry.Reason,
		RequestID: entry.RequestID,
		Actor:     entry.Actor,
	})
	if err != nil {
		return fmt.Errorf("marshal audit line: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("write audit line: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}
