package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"path"
	"strings"
	"sync/atomic"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/publicsuffix"
)

var tracer = otel.Tracer("github.com/ligustah/parfetch/internal/http")

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 100
	MaxIdleConnsPerHost int

	// Timeout bounds connection setup and response headers. It does not
	// bound reading a response body, which may legitimately take long.
	// Default: 30s
	Timeout time.Duration

	// RetryAttempts is the maximum number of probe retry attempts.
	// Range requests are never retried.
	// Default: 5
	RetryAttempts int

	// RetryBackoff is the initial backoff duration.
	// Default: 1s
	RetryBackoff time.Duration

	// RetryMaxBackoff is the maximum backoff duration.
	// Default: 30s
	RetryMaxBackoff time.Duration

	// Username and Password enable basic auth when Username is set.
	Username string
	Password string

	// Insecure disables TLS certificate verification.
	Insecure bool

	// UserAgent is sent on every request when set.
	UserAgent string

	// RequestsPerSecond limits outgoing requests when positive.
	RequestsPerSecond int

	// Logger receives client diagnostics. Default: slog.Default()
	Logger *slog.Logger
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 100,
		Timeout:             30 * time.Second,
		RetryAttempts:       5,
		RetryBackoff:        time.Second,
		RetryMaxBackoff:     30 * time.Second,
	}
}

// Resource describes a remote file resolved by Probe.
type Resource struct {
	// URL is the final URL after redirects. Range requests go here.
	URL           string
	Size          int64
	Filename      string
	AcceptsRanges bool
	ETag          string
	ContentType   string
	LastModified  time.Time
}

// RangeResponse represents a response from a range request.
type RangeResponse struct {
	Body          io.ReadCloser
	ContentLength int64
	ETag          string

	// Start, End and Total come from Content-Range. HasRange is false when
	// the server sent no Content-Range header; a 200 then describes the
	// whole body starting at byte 0.
	Start, End, Total int64
	HasRange          bool
}

// Client is an HTTP client for chunked range downloads.
type Client struct {
	client *http.Client
	opts   Options
	logger *slog.Logger

	// preemptive is set once a plain-http server has challenged us, so
	// later requests carry credentials immediately.
	preemptive atomic.Bool
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	defaults := DefaultOptions()
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = defaults.MaxIdleConnsPerHost
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaults.RetryBackoff
	}
	if opts.RetryMaxBackoff <= 0 {
		opts.RetryMaxBackoff = defaults.RetryMaxBackoff
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	transport := cleanhttp.DefaultPooledTransport()
	transport.MaxIdleConnsPerHost = opts.MaxIdleConnsPerHost
	transport.MaxIdleConns = opts.MaxIdleConnsPerHost * 2
	transport.ResponseHeaderTimeout = opts.Timeout
	transport.TLSHandshakeTimeout = opts.Timeout
	transport.DisableCompression = true // We want raw bytes for range requests
	if opts.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	var rt http.RoundTripper = transport
	if opts.RequestsPerSecond > 0 {
		rt = newThrottle(opts.RequestsPerSecond, opts.RequestsPerSecond, logger, rt)
	}

	// All users of cookiejar should import "golang.org/x/net/publicsuffix"
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})

	return &Client{
		client: &http.Client{
			Transport: rt,
			Jar:       jar,
		},
		opts:   opts,
		logger: logger,
	}
}

// Probe resolves the resource at url and verifies the server can serve it
// in ranges. It fails with ErrRangeNotSupported when the server does not
// advertise byte ranges or does not report a length.
func (c *Client) Probe(ctx context.Context, url string) (*Resource, error) {
	ctx, span := tracer.Start(ctx, "http.Probe", trace.WithAttributes(attribute.String("url", url)))
	defer span.End()

	res, err := c.Head(ctx, url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if !res.AcceptsRanges {
		return nil, ErrRangeNotSupported
	}
	if res.Size < 0 {
		return nil, fmt.Errorf("%w: unknown content length", ErrRangeNotSupported)
	}

	span.SetAttributes(attribute.Int64("size", res.Size), attribute.String("filename", res.Filename))
	c.logger.Debug("probed resource", "url", res.URL, "size", res.Size, "filename", res.Filename, "etag", res.ETag)

	return res, nil
}

// Head performs a HEAD request to get file metadata.
func (c *Client) Head(ctx context.Context, url string) (*Resource, error) {
	var lastErr error

	for attempt := 0; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying probe", "attempt", attempt, "error", lastErr)
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		req, err := c.newRequest(ctx, http.MethodHead, url)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		resp, err := c.do(req)
		if err != nil {
			if ctx.Err() != nil || !retryable(err) {
				return nil, err
			}
			lastErr = err
			continue
		}
		resp.Body.Close()

		if err := checkStatusCode(resp.StatusCode); err != nil {
			if !retryable(err) {
				return nil, err
			}
			lastErr = err
			continue
		}

		res := &Resource{
			URL:           resp.Request.URL.String(),
			Size:          resp.ContentLength,
			Filename:      filename(resp),
			AcceptsRanges: acceptsRanges(resp.Header.Get("Accept-Ranges")),
			ETag:          cleanETag(resp.Header.Get("ETag")),
			ContentType:   resp.Header.Get("Content-Type"),
		}

		if lm := resp.Header.Get("Last-Modified"); lm != "" {
			if t, err := http.ParseTime(lm); err == nil {
				res.LastModified = t
			}
		}

		return res, nil
	}

	return nil, fmt.Errorf("head request failed after %d attempts: %w", c.opts.RetryAttempts+1, lastErr)
}

// GetRange performs a range request to download a portion of the file.
// startByte and endByte are inclusive (like HTTP Range header).
func (c *Client) GetRange(ctx context.Context, url string, startByte, endByte int64) (*RangeResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", startByte, endByte))

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}

	// Check for successful range response
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
			return nil, ErrRangeNotSupported
		}
		return nil, checkStatusCode(resp.StatusCode)
	}

	out := &RangeResponse{
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		ETag:          cleanETag(resp.Header.Get("ETag")),
	}

	if cr := resp.Header.Get("Content-Range"); cr != "" {
		start, end, total, err := ParseContentRange(cr)
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("range response: %w", err)
		}
		out.Start, out.End, out.Total, out.HasRange = start, end, total, true
	} else if resp.StatusCode == http.StatusOK {
		// The server ignored Range and sent the whole body. Callers compare
		// Start and ContentLength against what they asked for.
		out.Start, out.End, out.Total = 0, resp.ContentLength-1, resp.ContentLength
	}

	return out, nil
}

// newRequest builds a request carrying the configured headers and, where
// appropriate, credentials.
func (c *Client) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}

	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	if c.hasCredentials() && (req.URL.Scheme == "https" || c.preemptive.Load()) {
		req.SetBasicAuth(c.opts.Username, c.opts.Password)
	}

	return req, nil
}

// do sends req. A 401 challenge on a request sent without credentials is
// answered once with basic auth.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	if resp.StatusCode != http.StatusUnauthorized ||
		!c.hasCredentials() ||
		req.Header.Get("Authorization") != "" ||
		resp.Header.Get("WWW-Authenticate") == "" {
		return resp, nil
	}

	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	c.logger.Debug("server requested credentials", "url", req.URL.Redacted())
	c.preemptive.Store(true)

	retry := req.Clone(req.Context())
	retry.SetBasicAuth(c.opts.Username, c.opts.Password)

	resp, err = c.client.Do(retry)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	return resp, nil
}

func (c *Client) hasCredentials() bool {
	return c.opts.Username != ""
}

// backoff waits for an exponentially increasing duration with jitter.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	backoff := c.opts.RetryBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > c.opts.RetryMaxBackoff {
		backoff = c.opts.RetryMaxBackoff
	}

	// Add jitter: 0.5 to 1.5 of backoff
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jitter):
		return nil
	}
}

// acceptsRanges reports whether an Accept-Ranges value advertises bytes.
func acceptsRanges(header string) bool {
	for _, unit := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(unit), "bytes") {
			return true
		}
	}
	return false
}

// filename picks a local name for the resource: the Content-Disposition
// filename if any, otherwise the last segment of the final URL path.
func filename(resp *http.Response) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := safeBase(params["filename"]); name != "" {
				return name
			}
		}
	}

	if resp.Request != nil && resp.Request.URL != nil {
		if name := safeBase(resp.Request.URL.Path); name != "" {
			return name
		}
	}

	return "index.html"
}

func safeBase(p string) string {
	name := path.Base(strings.ReplaceAll(p, "\\", "/"))
	switch name {
	case "", ".", "..", "/":
		return ""
	}
	return name
}

// cleanETag removes quotes from an ETag value.
func cleanETag(etag string) string {
	etag = strings.TrimPrefix(etag, "W/")
	etag = strings.Trim(etag, `"`)
	return etag
}
