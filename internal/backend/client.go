// Package backend is the REST client for the transcription and enrichment API.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/scribehub/recordcache/internal/errors"
	"github.com/scribehub/recordcache/internal/export"
	"github.com/scribehub/recordcache/internal/httpclient"
	"github.com/scribehub/recordcache/internal/model"
	"resty.dev/v3"
)

// Config holds the backend connection settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
	APIKey  string
}

// Client calls the backend API.
type Client struct {
	rc     *resty.Client
	logger *slog.Logger
}

// apiError is the error body returned by the backend.
type apiError struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// New creates a client for cfg.BaseURL.
func New(cfg Config, logger *slog.Logger, opts ...httpclient.Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = httpclient.DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	hc := httpclient.New(append([]httpclient.Option{httpclient.WithTimeout(cfg.Timeout)}, opts...)...)
	rc := resty.NewWithClient(hc).
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		rc.SetAuthToken(cfg.APIKey)
	}

	return &Client{
		rc:     rc,
		logger: logger.With("component", "backend-client"),
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.rc.Close()
}

// List fetches one page of records.
func (c *Client) List(ctx context.Context, f model.ListFilters) (*model.ListResult, error) {
	var out model.ListResult
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParams(listParams(f)).
		SetResult(&out).
		SetError(&apiError{}).
		Get("/records")
	if err := c.check("list records", "records", "", resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Detail fetches one record with its enrichments.
func (c *Client) Detail(ctx context.Context, id string) (*model.RecordDetail, error) {
	var out model.RecordDetail
	resp, err := c.rc.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&out).
		SetError(&apiError{}).
		Get("/records/{id}")
	if err := c.check("get record", "record", id, resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Search runs a full text search.
func (c *Client) Search(ctx context.Context, q string) (*model.SearchResult, error) {
	var out model.SearchResult
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("q", q).
		SetResult(&out).
		SetError(&apiError{}).
		Get("/search")
	if err := c.check("search records", "search", "", resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats fetches aggregate statistics.
func (c *Client) Stats(ctx context.Context) (*model.Stats, error) {
	var out model.Stats
	resp, err := c.rc.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiError{}).
		Get("/stats")
	if err := c.check("get stats", "stats", "", resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Create creates a record.
func (c *Client) Create(ctx context.Context, in model.NewRecord) (model.Record, error) {
	var out model.Record
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(in).
		SetResult(&out).
		SetError(&apiError{}).
		Post("/records")
	if err := c.check("create record", "record", "", resp, err); err != nil {
		return model.Record{}, err
	}
	return out, nil
}

// Update applies a partial update and returns the stored record.
func (c *Client) Update(ctx context.Context, id string, patch model.RecordPatch) (model.Record, error) {
	var out model.Record
	resp, err := c.rc.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetBody(patch).
		SetResult(&out).
		SetError(&apiError{}).
		Patch("/records/{id}")
	if err := c.check("update record", "record", id, resp, err); err != nil {
		return model.Record{}, err
	}
	return out, nil
}

// Delete removes a record.
func (c *Client) Delete(ctx context.Context, id string) error {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetError(&apiError{}).
		Delete("/records/{id}")
	return c.check("delete record", "record", id, resp, err)
}

// Export downloads the rendered document.
func (c *Client) Export(ctx context.Context, id string, opts export.Options) ([]byte, error) {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetQueryParams(exportParams(opts)).
		SetHeader("Accept", "*/*").
		SetDoNotParseResponse(true).
		Get("/records/{id}/export")
	if err != nil {
		return nil, c.transportError("export record", err)
	}
	body := resp.RawResponse.Body
	defer body.Close()

	if resp.StatusCode() >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(body, 4096))
		return nil, statusError(resp.StatusCode(), "record", id, strings.TrimSpace(string(msg)), "")
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, apperrors.NewNetworkError("read export", err)
	}
	return data, nil
}

func (c *Client) check(op, resource, id string, resp *resty.Response, err error) error {
	if err != nil {
		return c.transportError(op, err)
	}
	if !resp.IsError() {
		return nil
	}

	var msg, field string
	if e, ok := resp.Error().(*apiError); ok && e != nil {
		msg, field = e.Message, e.Field
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode())
	}

	c.logger.Debug("Backend request failed",
		"op", op,
		"status", resp.StatusCode(),
		"message", msg)
	return statusError(resp.StatusCode(), resource, id, msg, field)
}

func (c *Client) transportError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return apperrors.NewNetworkError(op, err)
}

func statusError(code int, resource, id, msg, field string) error {
	switch {
	case code == http.StatusNotFound:
		return apperrors.NewNotFoundError(resource, id)
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return apperrors.NewValidationError(field, msg)
	default:
		return apperrors.NewServerError(code, msg)
	}
}

func listParams(f model.ListFilters) map[string]string {
	f = f.Normalize()
	params := map[string]string{
		"page":     strconv.Itoa(f.Page),
		"pageSize": strconv.Itoa(f.PageSize),
	}
	set := func(k, v string) {
		if v != "" {
			params[k] = v
		}
	}
	set("kind", string(f.Kind))
	set("status", string(f.Status))
	set("search", f.Search)
	set("language", f.Language)
	set("sortBy", f.SortBy)
	set("sortOrder", f.SortOrder)
	return params
}

func exportParams(o export.Options) map[string]string {
	params := map[string]string{
		"format":            string(o.Format),
		"includeSummary":    strconv.FormatBool(o.IncludeSummary),
		"includeTranscript": strconv.FormatBool(o.IncludeTranscript),
		"includeSentiment":  strconv.FormatBool(o.IncludeSentiment),
		"includeTopics":     strconv.FormatBool(o.IncludeTopics),
	}
	if o.Language != "" {
		params["language"] = o.Language
	}
	return params
}
