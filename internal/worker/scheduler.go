package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/maintenance-service/internal/config"
	"github.com/spec-kit/maintenance-service/internal/persistence"
	"github.com/spec-kit/maintenance-service/internal/service"
)

const jobLockTTL = 10 * time.Minute

// Job is a named housekeeping task run on a cron schedule.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler runs housekeeping jobs. When a locker is set, each run takes
// a lease so only one replica executes it.
type Scheduler struct {
	cron   *cron.Cron
	locker service.Locker
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler builds an idle scheduler. locker may be nil.
func NewScheduler(locker service.Locker, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		locker: locker,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers job. An unparsable schedule is rejected.
func (s *Scheduler) Add(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %q has no body", job.Name)
	}
	if _, err := s.cron.AddFunc(job.Spec, func() { s.run(s.ctx, job) }); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Spec, err)
	}
	s.logger.Info("job scheduled", zap.String("job", job.Name), zap.String("schedule", job.Spec))
	return nil
}

// Start begins firing jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs or ctx expiry.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	if s.locker != nil {
		release, err := s.locker.TryLock(ctx, "cron:"+job.Name, jobLockTTL)
		switch {
		case errors.Is(err, persistence.ErrLockHeld):
			s.logger.Debug("job skipped; another replica holds the lease", zap.String("job", job.Name))
			return
		case err != nil:
			s.logger.Warn("job lease unavailable; running unlocked", zap.String("job", job.Name), zap.Error(err))
		default:
			defer release(context.WithoutCancel(ctx))
		}
	}

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		s.logger.Error("job failed", zap.String("job", job.Name), zap.Duration("took", time.Since(start)), zap.Error(err))
		return
	}
	s.logger.Info("job finished", zap.String("job", job.Name), zap.Duration("took", time.Since(start)))
}

// HousekeepingJobs returns the audit prune and evidence sweep jobs.
func HousekeepingJobs(cfg config.SchedulerConfig, audit *service.AuditService, sweeper *service.ExpirationSweeper) []Job {
	var jobs []Job
	if audit != nil && cfg.AuditPruneSpec != "" {
		jobs = append(jobs, Job{
			Name: "audit-prune",
			Spec: cfg.AuditPruneSpec,
			Run: func(ctx context.Context) error {
				_, err := audit.Prune(ctx, cfg.AuditRetention())
				return err
			},
		})
	}
	if sweeper != nil && cfg.EvidenceSweepSpec != "" {
		jobs = append(jobs, Job{
			Name: "evidence-sweep",
			Spec: cfg.EvidenceSweepSpec,
			Run: func(ctx context.Context) error {
				_, err := sweeper.SweepExpired(ctx)
				return err
			},
		})
	}
	return jobs
}

type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, zap.Error(err), zap.Any("details", keysAndValues))
}
