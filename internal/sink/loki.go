package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/juju/errors"

	"github.com/boringprotocol/boring-bird/internal/config"
	"github.com/boringprotocol/boring-bird/internal/model"
	"github.com/boringprotocol/boring-bird/internal/util"
)

type lokiSink struct {
	cfg    config.LokiConfig
	client *http.Client
}

func NewLoki(cfg config.LokiConfig) Sink {
	if cfg.Job == "" {
		cfg.Job = "boring-bird"
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &lokiSink{cfg: cfg, client: util.NewHTTPClient(util.DefaultDur(cfg.Timeout, 10*time.Second))}
}

func (l *lokiSink) Name() string { return "loki" }

func (l *lokiSink) Publish(ctx context.Context, ch model.Change) (string, error) {
	type stream struct {
		Stream map[string]string `json:"stream"`
		Values [][2]string       `json:"values"`
	}
	line, err := encodeChange(ch)
	if err != nil {
		return "", errors.Trace(err)
	}
	payload := struct {
		Streams []stream `json:"streams"`
	}{
		Streams: []stream{{
			Stream: map[string]string{"job": l.cfg.Job, "source": "notion", "status": ch.Status},
			// Loki expects ns timestamp as a decimal string
			Values: [][2]string{{fmt.Sprintf("%d", ch.DetectedAt.UnixNano()), string(line)}},
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Trace(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.cfg.URL+"/loki/api/v1/push", bytes.NewReader(body))
	if err != nil {
		return "", errors.Trace(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if l.cfg.TenantID != "" {
		req.Header.Set("X-Scope-OrgID", l.cfg.TenantID)
	}
	if ua := l.cfg.UserAgent; ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return "", errors.Trace(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", errors.Errorf("loki push failed http %d", resp.StatusCode)
	}
	return "", nil
}
