package sink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/juju/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/boringprotocol/boring-bird/internal/config"
	"github.com/boringprotocol/boring-bird/internal/model"
)

var detectedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func change() model.Change {
	return model.Change{
		Record:     model.Record{ID: "page-1", Status: "Ready", Text: "hello world"},
		Message:    `Status of Notion Entry ("hello world") has been updated to "Ready".`,
		CycleID:    "cycle-1",
		DetectedAt: detectedAt,
	}
}

func twitterConfig(url string) config.TwitterConfig {
	return config.TwitterConfig{
		BaseURL:        url,
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
		AccessToken:    "at",
		AccessSecret:   "as",
	}
}

func TestTwitterPublish(t *testing.T) {
	c := qt.New(t)
	var (
		gotAuth string
		gotBody map[string]string
		gotPath string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"data":{"id":"1790000000000000000","text":"hello world"}}`)
	}))
	defer srv.Close()

	id, err := NewTwitter(twitterConfig(srv.URL)).Publish(context.Background(), change())
	c.Assert(err, qt.IsNil)
	c.Assert(id, qt.Equals, "1790000000000000000")
	c.Assert(gotPath, qt.Equals, "/2/tweets")
	c.Assert(gotBody, qt.DeepEquals, map[string]string{"text": "hello world"})
	c.Assert(strings.HasPrefix(gotAuth, "OAuth "), qt.IsTrue, qt.Commentf("%s", gotAuth))
	c.Assert(gotAuth, qt.Contains, `oauth_consumer_key="ck"`)
	c.Assert(gotAuth, qt.Contains, `oauth_token="at"`)
	c.Assert(gotAuth, qt.Contains, `oauth_signature_method="HMAC-SHA1"`)
}

func TestTwitterPublishProblem(t *testing.T) {
	c := qt.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"title":"Forbidden","detail":"You are not allowed to create a Tweet with duplicate content.","status":403}`)
	}))
	defer srv.Close()

	_, err := NewTwitter(twitterConfig(srv.URL)).Publish(context.Background(), change())
	c.Assert(err, qt.ErrorMatches, `post tweet: twitter 403: Forbidden: You are not allowed .*`)
	c.Assert(errors.Is(err, errors.Unauthorized), qt.IsTrue)
}

func TestTwitterPublishServerError(t *testing.T) {
	c := qt.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `over capacity`)
	}))
	defer srv.Close()

	_, err := NewTwitter(twitterConfig(srv.URL)).Publish(context.Background(), change())
	c.Assert(err, qt.ErrorMatches, `post tweet: twitter 503: over capacity`)
}

func TestTwitterRejectsEmptyText(t *testing.T) {
	c := qt.New(t)
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	ch := change()
	ch.Text = "  "
	_, err := NewTwitter(twitterConfig(srv.URL)).Publish(context.Background(), ch)
	c.Assert(errors.Is(err, errors.NotValid), qt.IsTrue)
	c.Assert(called, qt.IsFalse)
}

func TestLokiPublish(t *testing.T) {
	c := qt.New(t)
	var (
		gotTenant string
		payload   struct {
			Streams []struct {
				Stream map[string]string `json:"stream"`
				Values [][2]string       `json:"values"`
			} `json:"streams"`
		}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.Check(r.URL.Path, qt.Equals, "/loki/api/v1/push")
		gotTenant = r.Header.Get("X-Scope-OrgID")
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewLoki(config.LokiConfig{URL: srv.URL + "/", TenantID: "team-a"})
	_, err := s.Publish(context.Background(), change())
	c.Assert(err, qt.IsNil)
	c.Assert(gotTenant, qt.Equals, "team-a")
	c.Assert(payload.Streams, qt.HasLen, 1)
	c.Assert(payload.Streams[0].Stream, qt.DeepEquals, map[string]string{"job": "boring-bird", "source": "notion", "status": "Ready"})
	c.Assert(payload.Streams[0].Values[0][0], qt.Equals, "1714564800000000000")

	var line changeDoc
	c.Assert(json.Unmarshal([]byte(payload.Streams[0].Values[0][1]), &line), qt.IsNil)
	c.Assert(line, qt.DeepEquals, changeDoc{
		ID:         "page-1",
		Status:     "Ready",
		Text:       "hello world",
		Message:    change().Message,
		CycleID:    "cycle-1",
		DetectedAt: "2024-05-01T12:00:00Z",
	})
}

func TestLokiPublishFailure(t *testing.T) {
	c := qt.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewLoki(config.LokiConfig{URL: srv.URL}).Publish(context.Background(), change())
	c.Assert(err, qt.ErrorMatches, `loki push failed http 429`)
}

func TestVictoriaPublish(t *testing.T) {
	c := qt.New(t)
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.Check(r.URL.Path, qt.Equals, "/api/v1/import/prometheus")
		b, _ := io.ReadAll(r.Body)
		got = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s, err := NewVictoria(config.VictoriaConfig{URL: srv.URL})
	c.Assert(err, qt.IsNil)
	_, err = s.Publish(context.Background(), change())
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, "boring_bird_transition{status=\"Ready\",record=\"page-1\"} 1 1714564800000\n")
}

func TestVictoriaRejectsBadURL(t *testing.T) {
	c := qt.New(t)
	_, err := NewVictoria(config.VictoriaConfig{URL: "victoria:8428"})
	c.Assert(errors.Is(err, errors.NotValid), qt.IsTrue)
}

func TestEscapeLabelValue(t *testing.T) {
	c := qt.New(t)
	c.Assert(escape(`say "hi"\now`+"\n"), qt.Equals, `say \"hi\"\\now\n`)
}

func TestAMQPPublishing(t *testing.T) {
	c := qt.New(t)
	msg, err := publishing(change())
	c.Assert(err, qt.IsNil)
	c.Assert(msg.ContentType, qt.Equals, "application/json")
	c.Assert(msg.DeliveryMode, qt.Equals, amqp091.Persistent)
	c.Assert(msg.MessageId, qt.Equals, "page-1")
	c.Assert(msg.CorrelationId, qt.Equals, "cycle-1")
	c.Assert(msg.Timestamp.Equal(detectedAt), qt.IsTrue)

	var doc changeDoc
	c.Assert(json.Unmarshal(msg.Body, &doc), qt.IsNil)
	c.Assert(doc.Text, qt.Equals, "hello world")
	c.Assert(doc.Status, qt.Equals, "Ready")
}

func TestLogSink(t *testing.T) {
	c := qt.New(t)
	s := NewLog()
	id, err := s.Publish(context.Background(), change())
	c.Assert(err, qt.IsNil)
	c.Assert(id, qt.Equals, "")
	c.Assert(s.Name(), qt.Equals, "log")
}

func TestNewFromConfig(t *testing.T) {
	c := qt.New(t)

	sinks, err := NewFromConfig(&config.Config{DryRun: true, Twitter: twitterConfig("http://x")})
	c.Assert(err, qt.IsNil)
	c.Assert(names(sinks), qt.DeepEquals, []string{"log"})

	sinks, err = NewFromConfig(&config.Config{
		Twitter:  twitterConfig("http://x"),
		Loki:     config.LokiConfig{URL: "http://loki:3100"},
		Victoria: config.VictoriaConfig{URL: "http://vm:8428"},
	})
	c.Assert(err, qt.IsNil)
	c.Assert(names(sinks), qt.DeepEquals, []string{"twitter", "loki", "victoria"})

	_, err = NewFromConfig(&config.Config{})
	c.Assert(errors.Is(err, errors.NotValid), qt.IsTrue)
}

func names(sinks []Sink) []string {
	out := make([]string, 0, len(sinks))
	for _, s := range sinks {
		out = append(out, s.Name())
	}
	return out
}
