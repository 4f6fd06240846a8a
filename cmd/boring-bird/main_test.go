package main

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/boringprotocol/boring-bird/internal/config"
)

func TestFlagOptions(t *testing.T) {
	c := qt.New(t)
	c.Assert(flagOptions(0, "", false), qt.HasLen, 0)

	var cfg config.Config
	cfg.Poll.Interval = 5 * time.Second
	for _, opt := range flagOptions(time.Minute, "DEBUG", true) {
		opt(&cfg)
	}
	c.Assert(cfg.Poll.Interval, qt.Equals, time.Minute)
	c.Assert(cfg.Log.Level, qt.Equals, "DEBUG")
	c.Assert(cfg.DryRun, qt.IsTrue)
}

func TestFormatLog(t *testing.T) {
	c := qt.New(t)
	line := formatLog(loggo.Entry{
		Level:     loggo.WARNING,
		Module:    "boring-bird.poller",
		Timestamp: time.Date(2024, 5, 1, 14, 0, 0, 0, time.FixedZone("CEST", 2*60*60)),
		Message:   "previous cycle still running, skipping tick",
	})
	c.Assert(line, qt.Equals, "2024-05-01 12:00:00 WARNING boring-bird.poller previous cycle still running, skipping tick")
}

func TestSetupLoggingRejectsUnknownLevel(t *testing.T) {
	c := qt.New(t)
	err := setupLogging("LOUD")
	c.Assert(err, qt.ErrorMatches, `log level "LOUD" not valid`)
	c.Assert(errors.Is(err, errors.NotValid), qt.IsTrue)
}
