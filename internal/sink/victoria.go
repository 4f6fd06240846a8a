package sink

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/juju/errors"

	"github.com/boringprotocol/boring-bird/internal/config"
	"github.com/boringprotocol/boring-bird/internal/model"
	"github.com/boringprotocol/boring-bird/internal/util"
)

const transitionMetric = "boring_bird_transition"

// victoriaSink records each change as a single sample through the
// VictoriaMetrics Prometheus import endpoint.
type victoriaSink struct {
	cfg    config.VictoriaConfig
	client *http.Client
}

func NewVictoria(cfg config.VictoriaConfig) (Sink, error) {
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if !strings.HasPrefix(cfg.URL, "http") {
		return nil, errors.NotValidf("victoria url %q", cfg.URL)
	}
	return &victoriaSink{
		cfg:    cfg,
		client: util.NewHTTPClient(util.DefaultDur(cfg.Timeout, 10*time.Second)),
	}, nil
}

func (v *victoriaSink) Name() string { return "victoria" }

func (v *victoriaSink) Publish(ctx context.Context, ch model.Change) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(sampleLine(ch))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.URL+"/api/v1/import/prometheus", &buf)
	if err != nil {
		return "", errors.Trace(err)
	}
	req.Header.Set("Content-Type", "text/plain")
	if ua := v.cfg.UserAgent; ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return "", errors.Trace(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", errors.Errorf("victoria push failed: %s", resp.Status)
	}
	return "", nil
}

func sampleLine(ch model.Change) string {
	return fmt.Sprintf("%s{status=\"%s\",record=\"%s\"} 1 %d\n",
		transitionMetric, escape(ch.Status), escape(ch.ID), ch.DetectedAt.UnixMilli())
}

// escape quotes a Prometheus label value.
func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return r.Replace(s)
}
