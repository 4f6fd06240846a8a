package poller

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"golang.org/x/sync/semaphore"
	"gopkg.in/tomb.v2"

	"github.com/boringprotocol/boring-bird/internal/metrics"
)

// State of a Scheduler.
type State int32

const (
	Uninitialized State = iota
	Running
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// Runner is the work driven by a Scheduler; *Poller implements it.
type Runner interface {
	Seed(ctx context.Context) error
	Tick(ctx context.Context) (Report, error)
}

type SchedulerConfig struct {
	Runner   Runner
	Interval time.Duration
	Clock    clock.Clock

	// Optional.
	Metrics   *metrics.Metrics
	OnRunning func()
}

func (c SchedulerConfig) Validate() error {
	if c.Runner == nil {
		return errors.NotValidf("nil Runner")
	}
	if c.Interval <= 0 {
		return errors.NotValidf("interval %s", c.Interval)
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return nil
}

// Scheduler seeds the runner, then ticks it every interval. Ticks fire on a
// fixed cadence; a tick that comes due while the previous one is still
// running is skipped, so at most one tick runs at a time.
type Scheduler struct {
	tomb     tomb.Tomb
	cfg      SchedulerConfig
	state    atomic.Int32
	skipped  atomic.Int64
	inflight *semaphore.Weighted
}

// NewScheduler validates cfg and starts the scheduler loop.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	s := &Scheduler{cfg: cfg, inflight: semaphore.NewWeighted(1)}
	s.tomb.Go(s.loop)
	return s, nil
}

// Kill asks the scheduler to stop; the in-flight tick sees its context
// cancelled.
func (s *Scheduler) Kill() { s.tomb.Kill(nil) }

// Wait blocks until the loop and any in-flight tick have returned.
func (s *Scheduler) Wait() error { return s.tomb.Wait() }

func (s *Scheduler) State() State { return State(s.state.Load()) }

// Skipped returns how many ticks were skipped so far.
func (s *Scheduler) Skipped() int64 { return s.skipped.Load() }

func (s *Scheduler) loop() error {
	ctx := s.tomb.Context(context.Background())

	for {
		err := s.cfg.Runner.Seed(ctx)
		if err == nil {
			break
		}
		logger.Errorf("initial fetch failed, retrying in %s: %v", s.cfg.Interval, err)
		select {
		case <-s.tomb.Dying():
			return tomb.ErrDying
		case <-s.cfg.Clock.After(s.cfg.Interval):
		}
	}

	s.state.Store(int32(Running))
	logger.Infof("scheduler running, interval=%s", s.cfg.Interval)
	if s.cfg.OnRunning != nil {
		s.cfg.OnRunning()
	}

	timer := s.cfg.Clock.NewTimer(s.cfg.Interval)
	defer timer.Stop()
	for {
		select {
		case <-s.tomb.Dying():
			return tomb.ErrDying
		case <-timer.Chan():
			timer.Reset(s.cfg.Interval)
			s.fire(ctx)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	if !s.inflight.TryAcquire(1) {
		s.skipped.Add(1)
		s.cfg.Metrics.TickSkipped()
		logger.Warningf("previous cycle still running, skipping tick")
		return
	}
	s.tomb.Go(func() error {
		defer s.inflight.Release(1)
		rep, err := s.cfg.Runner.Tick(ctx)
		if err != nil {
			// The next tick retries; nothing else to do here.
			logger.Errorf("%v", err)
			return nil
		}
		if rep.Failed > 0 {
			logger.Warningf("cycle %s: %d of %d notification(s) failed", rep.CycleID, rep.Failed, rep.Changed)
		}
		return nil
	})
}
