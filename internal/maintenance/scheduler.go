// Package maintenance runs the periodic sweeps that keep stores bounded:
// expired vault items, ended pin rotations and audit entries past retention.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
)

const (
	JobVaultSweep    = "vault_sweep"
	JobRotationPrune = "rotation_prune"
	JobAuditPrune    = "audit_prune"
)

type vaultSweeper interface {
	RemoveExpiredItems(ctx context.Context) (int, error)
}

type rotationPruner interface {
	PruneRotations(ctx context.Context) int
}

type auditPruner interface {
	Prune(ctx context.Context, retention time.Duration) (int, error)
}

// Schedule holds cron specs for each job. An empty spec disables the job.
type Schedule struct {
	VaultSweep     string        `mapstructure:"vault_sweep"`
	RotationPrune  string        `mapstructure:"rotation_prune"`
	AuditPrune     string        `mapstructure:"audit_prune"`
	AuditRetention time.Duration `mapstructure:"audit_retention"`
}

func DefaultSchedule() Schedule {
	return Schedule{
		VaultSweep:     "@every 5m",
		RotationPrune:  "@hourly",
		AuditPrune:     "@daily",
		AuditRetention: 90 * 24 * time.Hour,
	}
}

// Result counts what one pass removed.
type Result struct {
	ExpiredItems       int `json:"expired_items"`
	PrunedRotations    int `json:"pruned_rotations"`
	PrunedAuditEntries int `json:"pruned_audit_entries"`
}

type Scheduler struct {
	schedule Schedule
	vault    vaultSweeper
	trust    rotationPruner
	audit    auditPruner
	cron     *cron.Cron
	logger   *slog.Logger
	runs     *prometheus.CounterVec
}

type Option func(*Scheduler)

func WithVault(v vaultSweeper) Option {
	return func(s *Scheduler) { s.vault = v }
}

func WithTrust(t rotationPruner) Option {
	return func(s *Scheduler) { s.trust = t }
}

func WithAuditLog(a auditPruner) Option {
	return func(s *Scheduler) { s.audit = a }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithRegisterer exports trustkit_maintenance_runs_total{job,result}.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Scheduler) {
		s.runs = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "trustkit_maintenance_runs_total",
			Help: "Maintenance job runs by job and result",
		}, []string{"job", "result"})
	}
}

func New(schedule Schedule, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		schedule: schedule,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	if schedule.AuditRetention < 0 {
		return nil, errors.New("audit retention must not be negative")
	}

	cl := cronLogger{s.logger}
	s.cron = cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl))
	jobs := []struct {
		name string
		spec string
		on   bool
		run  func(context.Context) error
	}{
		{JobVaultSweep, schedule.VaultSweep, s.vault != nil, func(ctx context.Context) error { _, err := s.sweepVault(ctx); return err }},
		{JobRotationPrune, schedule.RotationPrune, s.trust != nil, func(ctx context.Context) error { s.pruneRotations(ctx); return nil }},
		{JobAuditPrune, schedule.AuditPrune, s.audit != nil, func(ctx context.Context) error { _, err := s.pruneAudit(ctx); return err }},
	}
	for _, job := range jobs {
		if job.spec == "" || !job.on {
			continue
		}
		if _, err := s.cron.AddFunc(job.spec, func() {
			if err := job.run(context.Background()); err != nil {
				s.logger.Error("maintenance job failed", "job", job.name, "error", err)
			}
		}); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", job.name, job.spec, err)
		}
	}
	return s, nil
}

// Start runs the scheduled jobs until ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	s.logger.InfoContext(ctx, "maintenance scheduler started", "jobs", len(s.cron.Entries()))
	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
	}()
}

// Stop halts scheduling and returns a context that ends when running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce runs every configured job now, in order, and reports what each
// removed. A failing job does not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	var errs []error
	if s.vault != nil {
		n, err := s.sweepVault(ctx)
		res.ExpiredItems = n
		errs = append(errs, err)
	}
	if s.trust != nil {
		res.PrunedRotations = s.pruneRotations(ctx)
	}
	if s.audit != nil {
		n, err := s.pruneAudit(ctx)
		res.PrunedAuditEntries = n
		errs = append(errs, err)
	}
	return res, errors.Join(errs...)
}

func (s *Scheduler) sweepVault(ctx context.Context) (int, error) {
	n, err := s.vault.RemoveExpiredItems(ctx)
	s.finish(ctx, JobVaultSweep, n, err)
	if err != nil {
		return n, fmt.Errorf("sweep vault: %w", err)
	}
	return n, nil
}

func (s *Scheduler) pruneRotations(ctx context.Context) int {
	n := s.trust.PruneRotations(ctx)
	s.finish(ctx, JobRotationPrune, n, nil)
	return n
}

func (s *Scheduler) pruneAudit(ctx context.Context) (int, error) {
	n, err := s.audit.Prune(ctx, s.schedule.AuditRetention)
	s.finish(ctx, JobAuditPrune, n, err)
	if err != nil {
		return n, fmt.Errorf("prune audit log: %w", err)
	}
	return n, nil
}

func (s *Scheduler) finish(ctx context.Context, job string, removed int, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	if s.runs != nil {
		s.runs.WithLabelValues(job, result).Inc()
	}
	if err == nil && removed > 0 {
		s.logger.InfoContext(ctx, "maintenance job removed entries", "job", job, "removed", removed)
	}
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
