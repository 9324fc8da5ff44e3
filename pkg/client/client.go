// Package client is the Go SDK for the ensemble storage REST API.  It issues
// single-shot GET requests against URLs taken from previously fetched
// schemas and parses the result either as a JSON schema or as a raw numeric
// payload.  There is no retry, backoff or caching: any transport error,
// non-200 status or malformed payload is returned to the caller at once.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/ertviz/pkg/errors"
	"github.com/turtacn/ertviz/pkg/types/schema"
)

const Version = "0.1.0"

// Logger defines the logging interface used by the Client.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Debugf(format string, args ...interface{}) {}
func (noopLogger) Infof(format string, args ...interface{})  {}
func (noopLogger) Errorf(format string, args ...interface{}) {}

// FetchKind labels a request for observers.
type FetchKind string

const (
	KindSchema FetchKind = "schema"
	KindSeries FetchKind = "series"
	KindTokens FetchKind = "tokens"
	KindRaw    FetchKind = "raw"
)

// Observer is notified once per completed request.  status is 0 when the
// request failed before a response arrived.
type Observer func(kind FetchKind, status int, elapsed time.Duration)

// Client reads resources from the ensemble storage API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	userAgent  string
	logger     Logger
	observer   Observer
	maxBody    int64
}

// APIError is a non-200 answer from the backend.
type APIError struct {
	StatusCode int    `json:"status_code"`
	URL        string `json:"url"`
	Body       string `json:"body,omitempty"`
	RequestID  string `json:"request_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ertviz: GET %s returned HTTP %d [request_id=%s]", e.URL, e.StatusCode, e.RequestID)
}

// IsNotFound reports whether the backend answered 404.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsServerError reports whether the backend answered 5xx.
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// ErrInvalidConfig is returned by NewClient for an unusable base URL.
var ErrInvalidConfig = errors.New(errors.CodeInvalidParam, "invalid client configuration")

// NewClient creates a Client rooted at baseURL (e.g. http://127.0.0.1:5000).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, ErrInvalidConfig.WithDetail("base URL is empty")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, ErrInvalidConfig.WithDetail("invalid base URL").WithCause(err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, ErrInvalidConfig.WithDetail("base URL scheme must be http or https")
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userAgent:  fmt.Sprintf("ertviz-go-sdk/%s", Version),
		logger:     noopLogger{},
		maxBody:    64 << 20,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the API root the client was built with.
func (c *Client) BaseURL() string { return c.baseURL }

// EnsembleURL returns the resource URL of the ensemble with the given id.
func (c *Client) EnsembleURL(id string) string {
	return c.baseURL + "/ensembles/" + url.PathEscape(id)
}

// Ensembles lists the ensembles known to the backend.
func (c *Client) Ensembles(ctx context.Context) ([]schema.EnsembleSummary, error) {
	var list schema.EnsembleList
	if err := c.FetchSchema(ctx, c.baseURL+"/ensembles", &list); err != nil {
		return nil, err
	}
	return list.Ensembles, nil
}

// FetchSchema GETs rawURL and decodes its JSON body into out.
func (c *Client) FetchSchema(ctx context.Context, rawURL string, out interface{}) error {
	body, err := c.get(ctx, KindSchema, rawURL, "application/json")
	if err != nil {
		return err
	}
	if err := decodeJSON(body, out); err != nil {
		return errors.Wrap(err, errors.CodePayloadMalformed, "schema is not valid JSON").WithDetail(rawURL)
	}
	return nil
}

// FetchSeries GETs rawURL and parses its body as a numeric series.
func (c *Client) FetchSeries(ctx context.Context, rawURL string) ([]float64, error) {
	body, err := c.get(ctx, KindSeries, rawURL, "")
	if err != nil {
		return nil, err
	}
	values, err := ParseSeries(body)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodePayloadMalformed, "series payload malformed").WithDetail(rawURL)
	}
	return values, nil
}

// FetchTokens GETs rawURL and splits its body into trimmed tokens.  Axis
// payloads use this since their entries may be dates rather than numbers.
func (c *Client) FetchTokens(ctx context.Context, rawURL string) ([]string, error) {
	body, err := c.get(ctx, KindTokens, rawURL, "")
	if err != nil {
		return nil, err
	}
	tokens, err := ParseTokens(body)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodePayloadMalformed, "token payload malformed").WithDetail(rawURL)
	}
	return tokens, nil
}

// FetchRaw GETs rawURL and returns the body unparsed.
func (c *Client) FetchRaw(ctx context.Context, rawURL string) ([]byte, error) {
	return c.get(ctx, KindRaw, rawURL, "")
}

// Ping checks that the backend answers on its ensemble listing.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(ctx, KindSchema, c.baseURL+"/ensembles", "application/json")
	return err
}

func (c *Client) get(ctx context.Context, kind FetchKind, rawURL, accept string) ([]byte, error) {
	if rawURL == "" {
		return nil, errors.New(errors.CodePayloadMalformed, "empty resource URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeFetchFailed, "failed to create request").WithDetail(rawURL)
	}

	requestID := uuid.New().String()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.observe(kind, 0, elapsed)
		c.logger.Errorf("GET %s failed: %v", rawURL, err)
		return nil, errors.Wrap(err, errors.CodeFetchFailed, "request failed").WithDetail(rawURL)
	}
	defer resp.Body.Close()

	c.observe(kind, resp.StatusCode, elapsed)
	c.logger.Debugf("GET %s %d (%v)", rawURL, resp.StatusCode, elapsed)

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeFetchFailed, "failed to read response body").WithDetail(rawURL)
	}
	if int64(len(body)) > c.maxBody {
		return nil, errors.Newf(errors.CodePayloadMalformed, "payload exceeds %d bytes", c.maxBody).WithDetail(rawURL)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			URL:        rawURL,
			Body:       truncate(string(body), 256),
			RequestID:  requestID,
		}
		return nil, errors.Wrap(apiErr, errors.CodeFetchFailed, "unexpected status").WithDetail(rawURL)
	}
	return body, nil
}

func (c *Client) observe(kind FetchKind, status int, elapsed time.Duration) {
	if c.observer != nil {
		c.observer(kind, status, elapsed)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
