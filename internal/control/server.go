// Package control exposes a running download over HTTP so its connection
// count can be inspected and changed while it runs.
//
//	GET /status        current downloader.Status as JSON
//	PUT /connections   {"connections": n} sets the target, replies with the stored value
package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/ligustah/parfetch/internal/downloader"
)

// Controller is the part of a downloader the API drives.
type Controller interface {
	Status() downloader.Status
	SetConnections(n int) int
}

// ConnectionsRequest is the body of PUT /connections.
type ConnectionsRequest struct {
	Connections *int `json:"connections"`
}

// ConnectionsResponse reports the stored connection target.
type ConnectionsResponse struct {
	Connections int `json:"connections"`
}

// Server serves the control API.
type Server struct {
	e      *echo.Echo
	ctl    Controller
	logger *slog.Logger
}

// New builds the control API for ctl.
func New(ctl Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{e: echo.New(), ctl: ctl, logger: logger}

	s.e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("control request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))

	s.e.GET("/status", s.handleStatus)
	s.e.PUT("/connections", s.handleSetConnections)

	return s
}

// Handler returns the API as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.e
}

// Serve accepts connections on l until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.e,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(l) }()

	s.logger.Info("control API listening", "addr", l.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

func (s *Server) handleStatus(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.ctl.Status())
}

func (s *Server) handleSetConnections(c *echo.Context) error {
	n, err := requestedConnections(c)
	if err != nil {
		return err
	}

	stored := s.ctl.SetConnections(n)
	s.logger.Info("connections changed via control API", "requested", n, "target", stored)

	return c.JSON(http.StatusOK, ConnectionsResponse{Connections: stored})
}

// requestedConnections reads the target from ?n= or the JSON body. The body
// is decoded whatever its Content-Type, so `curl -d` works unchanged.
func requestedConnections(c *echo.Context) (int, error) {
	if q := c.QueryParam("n"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil {
			return 0, echo.NewHTTPError(http.StatusBadRequest, "n must be an integer")
		}
		return n, nil
	}

	var req ConnectionsRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if req.Connections == nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "connections is required")
	}
	return *req.Connections, nil
}
