package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
)

type fakeVault struct {
	calls atomic.Int32
	n     int
	err   error
}

func (f *fakeVault) RemoveExpiredItems(context.Context) (int, error) {
	f.calls.Add(1)
	return f.n, f.err
}

type fakeTrust struct{ n int }

func (f *fakeTrust) PruneRotations(context.Context) int { return f.n }

type fakeAudit struct {
	retention time.Duration
	n         int
}

func (f *fakeAudit) Prune(_ context.Context, retention time.Duration) (int, error) {
	f.retention = retention
	return f.n, nil
}

type SchedulerSuite struct {
	suite.Suite
	vault *fakeVault
	trust *fakeTrust
	audit *fakeAudit
	reg   *prometheus.Registry
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.vault = &fakeVault{n: 3}
	s.trust = &fakeTrust{n: 1}
	s.audit = &fakeAudit{n: 7}
	s.reg = prometheus.NewRegistry()
}

func (s *SchedulerSuite) newScheduler(schedule Schedule) *Scheduler {
	sched, err := New(schedule,
		WithVault(s.vault),
		WithTrust(s.trust),
		WithAuditLog(s.audit),
		WithRegisterer(s.reg),
	)
	s.Require().NoError(err)
	return sched
}

func (s *SchedulerSuite) TestNew() {
	s.Run("invalid cron spec is rejected", func() {
		_, err := New(Schedule{VaultSweep: "every now and then"}, WithVault(s.vault))
		s.Error(err)
		s.Contains(err.Error(), JobVaultSweep)
	})

	s.Run("negative retention is rejected", func() {
		_, err := New(Schedule{AuditRetention: -time.Hour})
		s.Error(err)
	})

	s.Run("jobs without a target are not scheduled", func() {
		sched, err := New(DefaultSchedule())
		s.Require().NoError(err)
		s.Empty(sched.cron.Entries())
	})

	s.Run("default schedule registers every job", func() {
		sched := s.newScheduler(DefaultSchedule())
		s.Len(sched.cron.Entries(), 3)
	})
}

func (s *SchedulerSuite) TestRunOnce() {
	s.Run("runs every job and reports counts", func() {
		sched := s.newScheduler(DefaultSchedule())
		res, err := sched.RunOnce(context.Background())
		s.Require().NoError(err)
		s.Equal(Result{ExpiredItems: 3, PrunedRotations: 1, PrunedAuditEntries: 7}, res)
		s.Equal(DefaultSchedule().AuditRetention, s.audit.retention)
		s.Equal(1.0, testutil.ToFloat64(sched.runs.WithLabelValues(JobVaultSweep, "success")))
	})

	s.Run("a failing job does not stop the others", func() {
		s.vault.err = errors.New("bolt closed")
		defer func() { s.vault.err = nil }()
		sched, err := New(DefaultSchedule(), WithVault(s.vault), WithTrust(s.trust), WithAuditLog(s.audit))
		s.Require().NoError(err)

		res, err := sched.RunOnce(context.Background())
		s.Require().Error(err)
		s.Contains(err.Error(), "sweep vault")
		s.Equal(1, res.PrunedRotations)
		s.Equal(7, res.PrunedAuditEntries)
	})
}

func (s *SchedulerSuite) TestStart() {
	s.Run("scheduled job runs until the context ends", func() {
		sched := s.newScheduler(Schedule{VaultSweep: "@every 1s"})
		ctx, cancel := context.WithCancel(context.Background())
		sched.Start(ctx)

		s.Eventually(func() bool { return s.vault.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
		cancel()
		<-sched.Stop().Done()
	})
}
