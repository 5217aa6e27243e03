// Package server exposes retrieval, ticker matching and answering over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"finrag/internal/answer"
	"finrag/internal/domain"
	"finrag/internal/metrics"
)

// Retriever is the document side of the server.
type Retriever interface {
	Ready() bool
	RetrieveContext(ctx context.Context, query string, topK int) ([]domain.RetrievalResult, error)
}

// Matcher is the ticker side of the server.
type Matcher interface {
	Ready() bool
	Match(ctx context.Context, query string, topN int) ([]domain.TickerMatch, error)
}

type Answerer interface {
	Answer(ctx context.Context, req answer.Request) (*answer.Outcome, error)
}

// Config holds listener settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server routes requests to the services. It holds no index state of its own,
// so a service swapping its snapshot is picked up by the next request.
type Server struct {
	echo      *echo.Echo
	cfg       Config
	retriever Retriever
	matcher   Matcher
	answerer  Answerer
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Server)

func WithLogger(log zerolog.Logger) Option { return func(s *Server) { s.log = log } }

// WithMetrics records request latency and serves the registry on /metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Server) { s.metrics = m } }

func New(cfg Config, r Retriever, m Matcher, a Answerer, opts ...Option) *Server {
	s := &Server{cfg: cfg, retriever: r, matcher: m, answerer: a, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(s.observe)
	// inside observe, so a recovered panic is still logged and measured
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		DisableErrorHandler: true,
		LogErrorFunc:        s.logPanic,
	}))

	e.GET("/healthz", s.healthz)
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
	v1 := e.Group("/v1")
	v1.POST("/retrieve", s.retrieve)
	v1.POST("/match", s.match)
	v1.POST("/ask", s.ask)

	s.echo = e
	return s
}

// Handler returns the router, for tests and embedding into another server.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on the configured address until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
	if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server")
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// observe logs every request with its id and records its latency.
func (s *Server) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			// render now so the logged status is the one sent
			c.Error(err)
		}
		took := time.Since(start)
		status := c.Response().Status
		s.metrics.ObserveHTTP(c.Path(), c.Request().Method, status, took)

		ev := s.log.Debug()
		if status >= http.StatusInternalServerError {
			ev = s.log.Warn().Err(err)
		}
		ev.Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
			Str("method", c.Request().Method).
			Str("path", c.Request().URL.Path).
			Int("status", status).
			Dur("took", took).
			Msg("request served")
		return nil
	}
}

func (s *Server) logPanic(c echo.Context, err error, stack []byte) error {
	s.log.Error().Err(err).
		Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
		Bytes("stack", stack).
		Msg("handler panicked")
	return echo.NewHTTPError(http.StatusInternalServerError).SetInternal(err)
}

// statusFor maps service errors to HTTP status codes. Anything not
// recognised is treated as a failing upstream provider.
func statusFor(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, domain.ErrQueryTooShort):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := statusFor(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(he.Code)
		}
	}
	resp := errorResponse{Error: msg, RequestID: c.Response().Header().Get(echo.HeaderXRequestID)}
	if werr := c.JSON(code, resp); werr != nil {
		s.log.Error().Err(werr).Msg("write error response")
	}
}
