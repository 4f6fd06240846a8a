// Package notify turns detected transitions into publish calls.
package notify

import (
	"bytes"
	"context"
	"text/template"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/boringprotocol/boring-bird/internal/model"
	"github.com/boringprotocol/boring-bird/internal/sink"
)

var logger = loggo.GetLogger("boring-bird.notify")

// Observer is told about every publish attempt.
type Observer interface {
	Published(res model.Result)
}

// Notifier publishes each change once to every configured sink.
type Notifier struct {
	sinks    []sink.Sink
	tmpl     *template.Template
	clock    clock.Clock
	observer Observer
}

// New returns a notifier rendering messages with messageTemplate. A nil clock
// means the wall clock; observer may be nil.
func New(sinks []sink.Sink, messageTemplate string, clk clock.Clock, observer Observer) (*Notifier, error) {
	tmpl, err := template.New("message").Option("missingkey=error").Parse(messageTemplate)
	if err != nil {
		return nil, errors.NewNotValid(err, "message template")
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Notifier{sinks: sinks, tmpl: tmpl, clock: clk, observer: observer}, nil
}

// Message renders the human readable message for rec.
func (n *Notifier) Message(rec model.Record) (string, error) {
	var buf bytes.Buffer
	if err := n.tmpl.Execute(&buf, rec); err != nil {
		return "", errors.Annotate(err, "render message")
	}
	return buf.String(), nil
}

// Notify publishes rec to every sink, one call each, and returns one result
// per sink. Failures are logged and reported, never retried.
func (n *Notifier) Notify(ctx context.Context, cycleID string, rec model.Record) []model.Result {
	msg, err := n.Message(rec)
	if err != nil {
		logger.Warningf("%v; using plain message for %s", err, rec.ID)
		msg = rec.Text
	}
	logger.Infof("%s", msg)

	ch := model.Change{Record: rec, Message: msg, CycleID: cycleID, DetectedAt: n.clock.Now()}
	results := make([]model.Result, 0, len(n.sinks))
	for _, s := range n.sinks {
		start := n.clock.Now()
		remoteID, err := s.Publish(ctx, ch)
		res := model.Result{Sink: s.Name(), RecordID: rec.ID, RemoteID: remoteID, Err: err}
		if err != nil {
			logger.Errorf("publish %s to %s failed: %v", rec.ID, s.Name(), err)
		} else {
			logger.Debugf("published %s to %s (remote id %q) in %s",
				rec.ID, s.Name(), remoteID, n.clock.Now().Sub(start).Truncate(time.Millisecond))
		}
		if n.observer != nil {
			n.observer.Published(res)
		}
		results = append(results, res)
	}
	return results
}
