package source

import (
	"context"

	"github.com/juju/errors"

	"github.com/boringprotocol/boring-bird/internal/config"
	"github.com/boringprotocol/boring-bird/internal/model"
)

// Source produces a full snapshot of the polled records.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]model.Record, error)
}

func NewFromConfig(c config.SourceConfig) (Source, error) {
	switch c.Type {
	case "notion", "":
		return NewNotion(c.Notion), nil
	default:
		return nil, errors.NotSupportedf("source type %q", c.Type)
	}
}
