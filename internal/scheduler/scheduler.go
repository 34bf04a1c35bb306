// Package scheduler runs the engine's periodic background jobs (catalog
// re-sync, snapshot persistence, backup rotation) on cron.v3 schedules.
// It is a direct adaptation of the source's scheduler: jobs are a thin
// Name()/Run(ctx) interface so any component can be scheduled without the
// scheduler knowing what it does.
package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one schedulable unit of work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobFunc adapts a plain function into a Job, for call sites that don't
// need a dedicated type.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

func (f JobFunc) Name() string                  { return f.JobName }
func (f JobFunc) Run(ctx context.Context) error { return f.Fn(ctx) }

// Scheduler manages background jobs on cron schedules.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	log  zerolog.Logger
}

// New constructs a Scheduler. Jobs run with ctx, which callers should
// cancel on shutdown so in-flight job runs observe it.
func New(ctx context.Context, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		ctx:  ctx,
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop waits for any in-flight job run to finish, then returns.
func (s *Scheduler) Stop() {
	doneCtx := s.cron.Stop()
	<-doneCtx.Done()
	s.log.Info().Msg("scheduler stopped")
}

// AddJob registers job on spec, a standard 5-field cron expression or a
// "@every <duration>" / "@hourly" / "@daily" descriptor.
func (s *Scheduler) AddJob(spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		log := s.log.With().Str("job", job.Name()).Logger()
		log.Debug().Msg("running job")
		if err := job.Run(s.ctx); err != nil {
			log.Error().Err(err).Msg("job failed")
			return
		}
		log.Debug().Msg("job completed")
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("schedule", spec).Str("job", job.Name()).Msg("job registered")
	return nil
}

// RunNow executes job immediately, outside its schedule.
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("running job immediately")
	return job.Run(s.ctx)
}
