package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"golang.org/x/time/rate"

	"github.com/boringprotocol/boring-bird/internal/config"
	"github.com/boringprotocol/boring-bird/internal/model"
	"github.com/boringprotocol/boring-bird/internal/util"
)

var logger = loggo.GetLogger("boring-bird.source")

// maxResponseBytes bounds one Notion response. A full 100-row query page with
// every property included stays well below it.
const maxResponseBytes = 8 << 20

// Notion reads a Notion database through the public REST API.
type Notion struct {
	cfg     config.NotionConfig
	base    string
	client  *http.Client
	limiter *rate.Limiter
	maxBody int64
}

// APIError is the error object returned by Notion on non-2xx responses.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("notion %d %s: %s", e.Status, e.Code, e.Message)
}

type page struct {
	ID         string                  `json:"id"`
	Properties map[string]pageProperty `json:"properties"`
}

type pageProperty struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type queryResponse struct {
	Results    []page  `json:"results"`
	NextCursor *string `json:"next_cursor"`
	HasMore    bool    `json:"has_more"`
}

type namedOption struct {
	Name string `json:"name"`
}

type richText struct {
	PlainText string `json:"plain_text"`
}

// propertyItem is either a single property_item or, for title and rich_text
// properties, a paginated list of them.
type propertyItem struct {
	Object   string       `json:"object"`
	Type     string       `json:"type"`
	Select   *namedOption `json:"select"`
	Status   *namedOption `json:"status"`
	Title    *richText    `json:"title"`
	RichText *richText    `json:"rich_text"`

	Results    []propertyItem `json:"results"`
	NextCursor *string        `json:"next_cursor"`
	HasMore    bool           `json:"has_more"`
}

func NewNotion(cfg config.NotionConfig) *Notion {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.notion.com"
	}
	if cfg.Version == "" {
		cfg.Version = "2022-06-28"
	}
	if cfg.PageSize <= 0 || cfg.PageSize > 100 {
		cfg.PageSize = 100
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Notion{
		cfg:     cfg,
		base:    base,
		client:  util.NewHTTPClient(util.DefaultDur(cfg.HTTP.Timeout, 15*time.Second)),
		limiter: rate.NewLimiter(limit, max(1, cfg.Burst)),
		maxBody: maxResponseBytes,
	}
}

func (n *Notion) Name() string { return "notion" }

// Fetch returns every row of the database as a Record. Any failed request
// aborts the whole fetch.
func (n *Notion) Fetch(ctx context.Context) ([]model.Record, error) {
	pages, err := n.queryAll(ctx)
	if err != nil {
		return nil, errors.Annotate(err, "query database")
	}
	logger.Debugf("%d pages fetched from database %s", len(pages), n.cfg.DatabaseID)

	records := make([]model.Record, 0, len(pages))
	for _, p := range pages {
		rec := model.Record{ID: p.ID, Status: model.NoStatus}

		if prop, ok := p.Properties[n.cfg.StatusProperty]; ok {
			items, err := n.retrieveProperty(ctx, p.ID, prop.ID)
			if err != nil {
				return nil, errors.Annotatef(err, "page %s property %q", p.ID, n.cfg.StatusProperty)
			}
			rec.Status = statusOf(items)
		} else {
			logger.Debugf("page %s has no %q property", p.ID, n.cfg.StatusProperty)
		}

		if prop, ok := p.Properties[n.cfg.TextProperty]; ok {
			items, err := n.retrieveProperty(ctx, p.ID, prop.ID)
			if err != nil {
				return nil, errors.Annotatef(err, "page %s property %q", p.ID, n.cfg.TextProperty)
			}
			rec.Text = textOf(items)
		} else {
			logger.Debugf("page %s has no %q property", p.ID, n.cfg.TextProperty)
		}

		records = append(records, rec)
	}
	return records, nil
}

func (n *Notion) queryAll(ctx context.Context) ([]page, error) {
	endpoint := fmt.Sprintf("/v1/databases/%s/query", url.PathEscape(n.cfg.DatabaseID))
	var (
		all    []page
		cursor string
	)
	for {
		body := map[string]any{"page_size": n.cfg.PageSize}
		if cursor != "" {
			body["start_cursor"] = cursor
		}
		var resp queryResponse
		if err := n.do(ctx, http.MethodPost, endpoint, nil, body, &resp); err != nil {
			return nil, errors.Trace(err)
		}
		all = append(all, resp.Results...)
		cursor = cursorOf(resp.NextCursor)
		if cursor == "" {
			return all, nil
		}
	}
}

// retrieveProperty returns the property items for one page property,
// following the continuation cursor for paginated values.
func (n *Notion) retrieveProperty(ctx context.Context, pageID, propertyID string) ([]propertyItem, error) {
	// Property ids arrive percent-encoded; normalise before escaping again.
	if raw, err := url.PathUnescape(propertyID); err == nil {
		propertyID = raw
	}
	endpoint := fmt.Sprintf("/v1/pages/%s/properties/%s", url.PathEscape(pageID), url.PathEscape(propertyID))
	var (
		items  []propertyItem
		cursor string
	)
	for {
		q := url.Values{}
		if cursor != "" {
			q.Set("start_cursor", cursor)
		}
		var resp propertyItem
		if err := n.do(ctx, http.MethodGet, endpoint, q, nil, &resp); err != nil {
			return nil, errors.Trace(err)
		}
		if resp.Object != "list" {
			return append(items, resp), nil
		}
		items = append(items, resp.Results...)
		cursor = cursorOf(resp.NextCursor)
		if !resp.HasMore || cursor == "" {
			return items, nil
		}
	}
}

func (n *Notion) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return errors.Trace(err)
	}

	u := n.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.Trace(err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return errors.Trace(err)
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(n.cfg.APIKey))
	req.Header.Set("Notion-Version", n.cfg.Version)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ua := n.cfg.HTTP.UserAgent; ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	logger.Tracef("notion: %s %s", method, u)
	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Trace(err)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, n.maxBody+1))
	resp.Body.Close()
	if err != nil {
		return errors.Annotate(err, "read response")
	}
	if int64(len(raw)) > n.maxBody {
		return errors.Errorf("%s %s: response exceeds %d bytes", method, path, n.maxBody)
	}

	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(util.Head(raw, 512))
		}
		apiErr.Status = resp.StatusCode
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return errors.NewUnauthorized(apiErr, method+" "+path)
		case http.StatusNotFound:
			return errors.NewNotFound(apiErr, method+" "+path)
		default:
			return errors.Annotate(apiErr, method+" "+path)
		}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Annotatef(err, "decode %s %s (body %q)", method, path, util.Head(raw, 200))
	}
	return nil
}
