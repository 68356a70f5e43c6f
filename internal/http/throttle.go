package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// throttle is an http.RoundTripper that spaces outbound requests with a
// token bucket. Each chunk claim issues one request, so this bounds how
// quickly connections open against the origin.
type throttle struct {
	limiter *rate.Limiter
	rps     int
	burst   int
	logger  *slog.Logger
	next    http.RoundTripper
}

func newThrottle(rps, burst int, logger *slog.Logger, next http.RoundTripper) *throttle {
	if burst < 1 {
		burst = 1
	}
	return &throttle{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		rps:     rps,
		burst:   burst,
		logger:  logger,
		next:    next,
	}
}

func (t *throttle) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()

	if !t.limiter.Allow() {
		start := time.Now()
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("throttle wait: %w", err)
		}
		t.logger.Debug("request throttled", "waited", time.Since(start), "rate", t.rps, "burst", t.burst, "path", r.URL.Path)
	}

	return t.next.RoundTrip(r)
}
