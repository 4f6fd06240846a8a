// Package poller runs the fetch, detect, notify cycle and schedules it.
package poller

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/boringprotocol/boring-bird/internal/detect"
	"github.com/boringprotocol/boring-bird/internal/metrics"
	"github.com/boringprotocol/boring-bird/internal/model"
	"github.com/boringprotocol/boring-bird/internal/source"
	"github.com/boringprotocol/boring-bird/internal/store"
)

var logger = loggo.GetLogger("boring-bird.poller")

// Notifier publishes one detected change.
type Notifier interface {
	Notify(ctx context.Context, cycleID string, rec model.Record) []model.Result
}

// Config holds the collaborators of a Poller.
type Config struct {
	Source   source.Source
	States   *store.StatusMap
	Notifier Notifier
	Trigger  string

	// Optional.
	Metrics    *metrics.Metrics
	Clock      clock.Clock
	NewCycleID func() string
}

func (c Config) Validate() error {
	if c.Source == nil {
		return errors.NotValidf("nil Source")
	}
	if c.States == nil {
		return errors.NotValidf("nil States")
	}
	if c.Notifier == nil {
		return errors.NotValidf("nil Notifier")
	}
	if c.Trigger == "" {
		return errors.NotValidf("empty Trigger")
	}
	return nil
}

// Report summarises one cycle.
type Report struct {
	CycleID string
	Fetched int
	Changed int
	Failed  int // publish calls that failed
}

// Poller runs single poll cycles against a shared status map.
type Poller struct {
	cfg Config
}

func New(cfg Config) (*Poller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.NewCycleID == nil {
		cfg.NewCycleID = uuid.NewString
	}
	return &Poller{cfg: cfg}, nil
}

// Seed fetches the current records and stores their statuses without
// notifying, so records already in the trigger status stay quiet.
func (p *Poller) Seed(ctx context.Context) error {
	records, err := p.cfg.Source.Fetch(ctx)
	if err != nil {
		return errors.Annotatef(err, "seed from %s", p.cfg.Source.Name())
	}
	p.cfg.States.Seed(records)
	p.cfg.Metrics.Seeded(p.cfg.States.Len())
	logger.Infof("seeded %d records from %s", len(records), p.cfg.Source.Name())
	return nil
}

// Tick runs one cycle. A fetch error aborts the cycle before the status map
// is touched. Publish failures are counted in the report but do not fail the
// cycle, and the status map is never rolled back for them.
func (p *Poller) Tick(ctx context.Context) (Report, error) {
	start := p.cfg.Clock.Now()
	rep := Report{CycleID: p.cfg.NewCycleID()}

	logger.Debugf("cycle %s: fetching records from %s", rep.CycleID, p.cfg.Source.Name())
	records, err := p.cfg.Source.Fetch(ctx)
	if err != nil {
		p.cfg.Metrics.PollFailed(p.cfg.Clock.Now().Sub(start))
		return rep, errors.Annotatef(err, "cycle %s: fetch from %s", rep.CycleID, p.cfg.Source.Name())
	}
	rep.Fetched = len(records)

	changed := detect.Detect(records, p.cfg.States, p.cfg.Trigger)
	rep.Changed = len(changed)
	logger.Infof("cycle %s: %d records, %d moved to %q", rep.CycleID, rep.Fetched, rep.Changed, p.cfg.Trigger)

	for _, rec := range changed {
		for _, res := range p.cfg.Notifier.Notify(ctx, rep.CycleID, rec) {
			if !res.OK() {
				rep.Failed++
			}
		}
	}

	end := p.cfg.Clock.Now()
	p.cfg.Metrics.PollSucceeded(end, end.Sub(start), rep.Fetched, rep.Changed, p.cfg.States.Len())
	if rep.Changed > 0 {
		logger.Infof("cycle %s finished in %s, %d publish failure(s)",
			rep.CycleID, end.Sub(start).Truncate(time.Millisecond), rep.Failed)
	}
	return rep, nil
}
