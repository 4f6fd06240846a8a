package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dghubble/oauth1"
	"github.com/juju/errors"

	"github.com/boringprotocol/boring-bird/internal/config"
	"github.com/boringprotocol/boring-bird/internal/model"
	"github.com/boringprotocol/boring-bird/internal/util"
)

// twitterSink posts the record text as a tweet through the v2 API, signed
// with OAuth 1.0a user context.
type twitterSink struct {
	cfg    config.TwitterConfig
	base   string
	client *http.Client
}

type tweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
	// problem details, returned on failure
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func NewTwitter(cfg config.TwitterConfig) Sink {
	timeout := util.DefaultDur(cfg.Timeout, 10*time.Second)
	ctx := context.WithValue(context.Background(), oauth1.HTTPClient, util.NewHTTPClient(timeout))
	client := oauth1.NewConfig(cfg.ConsumerKey, cfg.ConsumerSecret).
		Client(ctx, oauth1.NewToken(cfg.AccessToken, cfg.AccessSecret))
	client.Timeout = timeout

	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.twitter.com"
	}
	return &twitterSink{cfg: cfg, base: base, client: client}
}

func (t *twitterSink) Name() string { return "twitter" }

func (t *twitterSink) Publish(ctx context.Context, ch model.Change) (string, error) {
	if strings.TrimSpace(ch.Text) == "" {
		return "", errors.NewNotValid(nil, fmt.Sprintf("record %s has no text to tweet", ch.ID))
	}
	body, err := json.Marshal(map[string]string{"text": ch.Text})
	if err != nil {
		return "", errors.Trace(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.base+"/2/tweets", bytes.NewReader(body))
	if err != nil {
		return "", errors.Trace(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ua := t.cfg.UserAgent; ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", errors.Trace(err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", errors.Annotate(err, "read twitter response")
	}

	var tr tweetResponse
	decodeErr := json.Unmarshal(raw, &tr)
	if resp.StatusCode/100 != 2 {
		msg := strings.TrimSpace(util.Head(raw, 512))
		switch {
		case tr.Detail != "":
			msg = tr.Title + ": " + tr.Detail
		case len(tr.Errors) > 0:
			msg = tr.Errors[0].Message
		}
		err := fmt.Errorf("twitter %d: %s", resp.StatusCode, msg)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return "", errors.NewUnauthorized(err, "post tweet")
		}
		return "", errors.Annotate(err, "post tweet")
	}
	if decodeErr != nil {
		return "", errors.Annotate(decodeErr, "decode twitter response")
	}
	return tr.Data.ID, nil
}
