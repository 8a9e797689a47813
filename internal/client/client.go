// Package client talks to a taskrelay server: it triggers automations and
// follows their session logs over the SSE endpoint.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/google/uuid"

	"github.com/gosuda/taskrelay/internal/automation"
	"github.com/gosuda/taskrelay/internal/domain"
)

var (
	// ErrNoTerminal is returned when a stream ends before the session's
	// terminal record. The outcome of the session is unknown.
	ErrNoTerminal = errors.New("client: stream ended without a terminal record") //nolint:gochecknoglobals // sentinel error
	// ErrSessionFailed is returned by Follow when the terminal record is an error.
	ErrSessionFailed = errors.New("client: session failed") //nolint:gochecknoglobals // sentinel error
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status int
	Title  string
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Title, e.Detail)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Title)
}

// Client is a taskrelay API client.
type Client struct {
	base   string
	http   *http.Client
	token  string
	apiKey string
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends a bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithAPIKey sends an X-API-Key header on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces http.DefaultClient. Streams are long lived, so the
// client should not set a Timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type triggerResponse struct {
	Success   bool      `json:"success"`
	SessionID uuid.UUID `json:"sessionId"`
	Message   string    `json:"message"`
}

// Trigger starts taskType and returns the new session id.
func (c *Client) Trigger(ctx context.Context, taskType string, params automation.Params) (uuid.UUID, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return uuid.Nil, fmt.Errorf("client.Client.Trigger: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/automations/"+url.PathEscape(taskType), bytes.NewReader(body))
	if err != nil {
		return uuid.Nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return uuid.Nil, fmt.Errorf("client.Client.Trigger: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return uuid.Nil, fmt.Errorf("client.Client.Trigger: %w", decodeAPIError(resp))
	}

	var out triggerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return uuid.Nil, fmt.Errorf("client.Client.Trigger: decode: %w", err)
	}
	return out.SessionID, nil
}

// Stream calls fn for every record of session id until the server ends the
// stream, ctx is done or fn returns an error. It returns the terminal record.
// A stream that closes without one yields ErrNoTerminal.
func (c *Client) Stream(ctx context.Context, id uuid.UUID, fn func(domain.LogRecord) error) (domain.LogRecord, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/stream-logs?sessionId="+url.QueryEscape(id.String()), nil)
	if err != nil {
		return domain.LogRecord{}, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.LogRecord{}, fmt.Errorf("client.Client.Stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return domain.LogRecord{}, fmt.Errorf("client.Client.Stream: %w", decodeAPIError(resp))
	}

	dec := ssestream.NewDecoder(resp)
	defer dec.Close()

	for dec.Next() {
		data := bytes.TrimSpace(dec.Event().Data)
		if len(data) == 0 {
			continue
		}

		var rec domain.LogRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return domain.LogRecord{}, fmt.Errorf("client.Client.Stream: decode event: %w", err)
		}
		if err := fn(rec); err != nil {
			return domain.LogRecord{}, err
		}
		if rec.Terminal() {
			return rec, nil
		}
	}

	if err := dec.Err(); err != nil && ctx.Err() == nil {
		return domain.LogRecord{}, fmt.Errorf("client.Client.Stream: %w", err)
	}
	if ctx.Err() != nil {
		return domain.LogRecord{}, fmt.Errorf("client.Client.Stream: %w", ctx.Err())
	}
	return domain.LogRecord{}, ErrNoTerminal
}

// Follow is Stream that also turns an error terminal record into ErrSessionFailed.
func (c *Client) Follow(ctx context.Context, id uuid.UUID, fn func(domain.LogRecord) error) error {
	last, err := c.Stream(ctx, id, fn)
	if err != nil {
		return err
	}
	if last.Kind == domain.KindError {
		return fmt.Errorf("%w: %s", ErrSessionFailed, last.Message)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	return req, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Title: http.StatusText(resp.StatusCode)}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var problem struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &problem) == nil {
		if problem.Title != "" {
			apiErr.Title = problem.Title
		}
		apiErr.Detail = problem.Detail
	} else {
		apiErr.Detail = strings.TrimSpace(string(raw))
	}
	return apiErr
}
