package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Job is one periodic sweep. RunOnce should return once its batch is done.
type Job interface {
	Name() string
	RunOnce(ctx context.Context) error
}

// Scheduler periodically runs a Job.
type Scheduler struct {
	interval time.Duration
	job      Job
	log      *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler constructs a scheduler that runs job.RunOnce every interval.
// If interval <= 0 it defaults to 1 minute.
func NewScheduler(interval time.Duration, job Job, logger *zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	l := logger.With().Str("component", "Scheduler").Str("job", job.Name()).Logger()
	return &Scheduler{
		interval: interval,
		job:      job,
		log:      &l,
		done:     make(chan struct{}),
	}
}

// Start runs the job once, then on every tick, in a background goroutine.
// Calling Start multiple times has no effect.
func (s *Scheduler) Start(parentCtx context.Context) {
	if s.ctx != nil {
		return
	}
	ctx, cancel := context.WithCancel(parentCtx)
	s.ctx = ctx
	s.cancel = cancel

	go s.loop()
}

func (s *Scheduler) loop() {
	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		close(s.done)
	}()

	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")
	s.runOnce()
	for {
		select {
		case <-s.ctx.Done():
			s.log.Info().Msg("scheduler stopping")
			return
		case <-ticker.C:
			s.runOnce()
		}
	}
}

// runOnce bounds a run by the interval so a stuck sweep cannot stack up behind itself.
func (s *Scheduler) runOnce() {
	runCtx, cancel := context.WithTimeout(s.ctx, s.interval)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("job panicked")
		}
	}()
	if err := s.job.RunOnce(runCtx); err != nil {
		s.log.Debug().Err(err).Msg("job run failed")
	}
}

// Stop cancels the scheduler and waits for the loop to finish. It is idempotent.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.ctx = nil
	s.cancel = nil
	s.done = make(chan struct{})
}
