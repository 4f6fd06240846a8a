package sink

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/juju/errors"

	"github.com/boringprotocol/boring-bird/internal/config"
	"github.com/boringprotocol/boring-bird/internal/model"
)

// Sink publishes a single change. The returned id is whatever the remote
// service assigned to the published item; it may be empty.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ch model.Change) (string, error)
}

// NewFromConfig builds every configured sink, in the order twitter, loki,
// victoria, amqp. In dry-run mode only the log sink is returned.
func NewFromConfig(cfg *config.Config) ([]Sink, error) {
	if cfg.DryRun {
		return []Sink{NewLog()}, nil
	}
	var sinks []Sink
	if cfg.Twitter.Enabled() {
		sinks = append(sinks, NewTwitter(cfg.Twitter))
	}
	if strings.TrimSpace(cfg.Loki.URL) != "" {
		sinks = append(sinks, NewLoki(cfg.Loki))
	}
	if strings.TrimSpace(cfg.Victoria.URL) != "" {
		s, err := NewVictoria(cfg.Victoria)
		if err != nil {
			return nil, errors.Annotate(err, "init victoria sink")
		}
		sinks = append(sinks, s)
	}
	if strings.TrimSpace(cfg.AMQP.URL) != "" {
		s, err := NewAMQP(cfg.AMQP)
		if err != nil {
			Close(sinks)
			return nil, errors.Annotate(err, "init amqp sink")
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		return nil, errors.NewNotValid(nil, "no sinks configured")
	}
	return sinks, nil
}

// Close closes every sink holding a connection.
func Close(sinks []Sink) {
	for _, s := range sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logger.Warningf("close %s sink: %v", s.Name(), err)
			}
		}
	}
}

type changeDoc struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Text       string `json:"text"`
	Message    string `json:"message"`
	CycleID    string `json:"cycle_id,omitempty"`
	DetectedAt string `json:"detected_at"`
}

func encodeChange(ch model.Change) ([]byte, error) {
	return json.Marshal(changeDoc{
		ID:         ch.ID,
		Status:     ch.Status,
		Text:       ch.Text,
		Message:    ch.Message,
		CycleID:    ch.CycleID,
		DetectedAt: ch.DetectedAt.UTC().Format(time.RFC3339),
	})
}
