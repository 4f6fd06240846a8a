package sink

import (
	"context"

	"github.com/juju/loggo"

	"github.com/boringprotocol/boring-bird/internal/model"
)

var logger = loggo.GetLogger("boring-bird.sink")

type logSink struct{}

// NewLog returns a sink that only logs what would have been published.
func NewLog() Sink { return logSink{} }

func (logSink) Name() string { return "log" }

func (logSink) Publish(_ context.Context, ch model.Change) (string, error) {
	logger.Infof("dry run: would publish %q for %s (%s)", ch.Text, ch.ID, ch.Status)
	return "", nil
}
