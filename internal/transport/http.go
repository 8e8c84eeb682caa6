package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"uploadflow/internal/upload"

	"golang.org/x/time/rate"
)

// maxResponseBody bounds how much of a response is buffered
const maxResponseBody = 4 << 20

// HTTP sends engine requests over net/http
type HTTP struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Option configures an HTTP transport
type Option func(*HTTP)

// WithClient replaces the default client
func WithClient(c *http.Client) Option {
	return func(t *HTTP) {
		if c != nil {
			t.client = c
		}
	}
}

// WithRateLimit paces requests to limit per second. A limit <= 0 disables
// pacing; a burst below 1 is raised to 1.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(t *HTTP) {
		if limit <= 0 {
			t.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithLogger sets the logger for per-request debug logs. Nil keeps the discarding default.
func WithLogger(l *slog.Logger) Option {
	return func(t *HTTP) {
		if l != nil {
			t.logger = l
		}
	}
}

// New creates an HTTP transport. The default client has no overall timeout
// since part bodies can be large; cancellation goes through the context.
func New(opts ...Option) *HTTP {
	t := &HTTP{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConnsPerHost:   32,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: 60 * time.Second,
			},
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send performs req and buffers the response body. progress, when set,
// receives the cumulative number of body bytes handed to the connection.
func (t *HTTP) Send(ctx context.Context, req *upload.Request, progress upload.ProgressFunc) (*upload.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	var body io.Reader = http.NoBody
	if req.Body != nil && req.Size > 0 {
		body = &progressReader{r: req.Body, progress: progress}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != http.NoBody {
		httpReq.ContentLength = req.Size
	}
	for _, h := range req.Headers {
		httpReq.Header.Add(h.Name, h.Value)
	}

	start := time.Now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	t.logger.Debug("request finished", "method", req.Method, "url", req.URL,
		"status", resp.StatusCode, "bytes", req.Size, "duration", time.Since(start))

	return &upload.Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// progressReader reports the cumulative bytes read from r
type progressReader struct {
	r        io.Reader
	progress upload.ProgressFunc
	read     int64
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.read += int64(n)
		if pr.progress != nil {
			pr.progress(pr.read)
		}
	}
	return n, err
}
