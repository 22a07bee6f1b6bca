package backend

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
	"time"

	"github.com/google/uuid"
)

const (
	defaultTimeout = 30 * time.Second
	apiPrefix      = "/api/v1"
	maxErrorBody   = 4 << 10
)

var (
	// ErrUnauthorized matches 401 and 403 responses: the token is absent,
	// expired or lacks access. Callers show a signed-out state.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound matches 404 responses.
	ErrNotFound = errors.New("not found")
)

// APIError is returned for any non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client used for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithStreamClient sets the client used for long-lived stream requests.
// It should not carry an overall timeout.
func WithStreamClient(hc *http.Client) Option {
	return func(c *Client) { c.streamClient = hc }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// Client communicates with the mission control backend API.
type Client struct {
	baseURL      string
	token        string
	userAgent    string
	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a Client for baseURL authenticating with token.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		userAgent:    "missionctl",
		httpClient:   &http.Client{Timeout: defaultTimeout},
		streamClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured backend URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	u := c.baseURL + apiPrefix + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", uuid.New().String())
}

// do issues a REST call and decodes a JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// openStream issues a streaming GET and returns the event-stream body.
// The caller must close it; closing also releases the request context.
func (c *Client) openStream(ctx context.Context, path string, query url.Values) (io.ReadCloser, error) {
	reqCtx, cancel := context.WithCancel(ctx)

	req, err := c.newRequest(reqCtx, http.MethodGet, path, query, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("opening stream: %w", err)
	}

	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		cancel()
		return nil, err
	}

	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{Status: resp.StatusCode, Message: errorMessage(body)}
}

// errorMessage extracts "detail" or "message" from a JSON error body and
// falls back to the raw text.
func errorMessage(body []byte) string {
	var envelope struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if len(envelope.Detail) > 0 {
			var s string
			if json.Unmarshal(envelope.Detail, &s) == nil {
				return s
			}
			return string(envelope.Detail)
		}
		if envelope.Message != "" {
			return envelope.Message
		}
		if envelope.Error != nil && envelope.Error.Message != "" {
			return envelope.Error.Message
		}
	}
	return strings.TrimSpace(string(body))
}

// cancelOnClose wraps a ReadCloser and cancels a context on Close.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func sinceQuery(since time.Time) url.Values {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	return q
}

func pageQuery(limit, offset int) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if offset > 0 {
		q.Set("offset", fmt.Sprint(offset))
	}
	return q
}
