package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/foomo/storysync/pkg/metrics"
	"github.com/foomo/storysync/pkg/story"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultRetries    = 3
	DefaultRetryDelay = time.Second
)

type (
	// Client performs HTTP calls with a flat retry interval and bearer token attachment.
	Client struct {
		l          *zap.Logger
		httpClient *http.Client
		tokens     TokenSource
		retries    int
		retryDelay time.Duration
		tracer     trace.Tracer
	}
	Option func(*Client)

	TokenSource interface {
		Token(ctx context.Context) (string, error)
	}
	// TokenFunc adapts a function to TokenSource
	TokenFunc func(ctx context.Context) (string, error)
	// StaticToken is a TokenSource that never changes
	StaticToken string

	Request struct {
		Method string
		URL    string
		Header http.Header
		Body   []byte
		// NoAuth skips the token source, e.g. for guest uploads and login
		NoAuth bool
	}
	Response struct {
		StatusCode int
		Header     http.Header
		Body       []byte
	}
)

func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

func New(l *zap.Logger, opts ...Option) *Client {
	inst := &Client{
		l:          l.Named("fetch"),
		httpClient: http.DefaultClient,
		retries:    DefaultRetries,
		retryDelay: DefaultRetryDelay,
		tracer:     otel.Tracer("github.com/foomo/storysync/pkg/fetch"),
	}

	for _, opt := range opts {
		opt(inst)
	}

	return inst
}

// ------------------------------------------------------------------------------------------------
// ~ Options
// ------------------------------------------------------------------------------------------------

func WithHTTPClient(v *http.Client) Option {
	return func(o *Client) {
		o.httpClient = v
	}
}

func WithTokenSource(v TokenSource) Option {
	return func(o *Client) {
		o.tokens = v
	}
}

func WithRetries(v int) Option {
	return func(o *Client) {
		o.retries = v
	}
}

func WithRetryDelay(v time.Duration) Option {
	return func(o *Client) {
		o.retryDelay = v
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

// Do performs req with the client's default retry count.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	return c.DoWithRetries(ctx, req, c.retries)
}

// DoWithRetries performs req and repeats it up to retries more times on transport failure
// or non-2xx status, waiting a flat retry delay in between. Attempts never overlap.
func (c *Client) DoWithRetries(ctx context.Context, req Request, retries int) (*Response, error) {
	if retries < 0 {
		retries = 0
	}
	var (
		lastErr    error
		lastStatus int
		attempts   int
	)
	for attempts < retries+1 {
		if attempts > 0 {
			c.l.Debug("retrying request",
				zap.String("url", req.URL),
				zap.Int("attempt", attempts+1),
				zap.Int("left", retries+1-attempts),
			)
			select {
			case <-ctx.Done():
				return nil, &story.NetworkError{URL: req.URL, Attempts: attempts, Status: lastStatus, Err: ctx.Err()}
			case <-time.After(c.retryDelay):
			}
		}
		attempts++

		resp, err := c.attempt(ctx, req)
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			metrics.FetchAttemptsCounter.WithLabelValues("success").Inc()
			return resp, nil
		}
		metrics.FetchAttemptsCounter.WithLabelValues("failure").Inc()
		if err != nil {
			lastErr, lastStatus = err, 0
		} else {
			lastErr = errors.Errorf("http error, status: %d", resp.StatusCode)
			lastStatus = resp.StatusCode
		}
	}

	c.l.Warn("request failed", zap.String("url", req.URL), zap.Int("attempts", attempts), zap.Error(lastErr))
	return nil, &story.NetworkError{URL: req.URL, Attempts: attempts, Status: lastStatus, Err: lastErr}
}

// Get is a shortcut for a GET request.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: url})
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

func (c *Client) attempt(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("fetch %s", method), trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", req.URL),
	))
	defer span.End()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	for k, v := range req.Header {
		httpReq.Header[k] = v
	}
	if c.tokens != nil && !req.NoAuth && httpReq.Header.Get("Authorization") == "" {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "failed to get token")
		}
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "failed to read response body")
	}
	span.SetAttributes(attribute.Int("http.status_code", httpResp.StatusCode))
	if httpResp.StatusCode >= 400 {
		span.SetStatus(codes.Error, httpResp.Status)
	}
	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}
