// Package server exposes report runs over HTTP for the browser dashboard.
package server

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dhcgn/mail-digest/config"
	"github.com/dhcgn/mail-digest/model"
	"github.com/dhcgn/mail-digest/stats"
)

// MaxLimit caps how many emails one dashboard request may ask for.
const MaxLimit = 200

//go:embed static/index.html
var indexPage []byte

// ReportFunc runs one report with cfg, writes it to out and returns the
// run's counters.
type ReportFunc func(ctx context.Context, cfg config.Config, out io.Writer) (stats.Summary, error)

// Server runs at most one report at a time; concurrent requests wait.
type Server struct {
	echo   *echo.Echo
	base   config.Config
	report ReportFunc
	logger *slog.Logger
	mu     sync.Mutex
}

type reportResponse struct {
	OK      bool   `json:"ok"`
	Outcome string `json:"outcome,omitempty"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// New builds the server. Request parameters override base per run.
func New(base config.Config, report ReportFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Server{
		echo:   echo.New(),
		base:   base,
		report: report,
		logger: logger,
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.errorHandler

	s.echo.Use(s.slogMiddleware())
	s.echo.Use(middleware.Recover())

	s.echo.GET("/", s.index)
	s.echo.GET("/healthz", healthz)
	s.echo.POST("/api/report", s.handleReport)

	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("dashboard listening", "address", addr)
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) slogMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			s.logger.Info("HTTP request",
				"method", req.Method,
				"uri", req.RequestURI,
				"remoteIP", c.RealIP(),
				"status", c.Response().Status,
				"latency", time.Since(start),
			)
			return err
		}
	}
}

func (s *Server) index(c echo.Context) error {
	return c.HTMLBlob(http.StatusOK, indexPage)
}

func healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReport(c echo.Context) error {
	cfg, err := s.requestConfig(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, reportResponse{Error: err.Error()})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out bytes.Buffer
	summary, err := s.report(c.Request().Context(), cfg, &out)
	if err != nil {
		s.logger.Error("report failed", "err", err)
		return c.JSON(http.StatusInternalServerError, reportResponse{Output: out.String(), Error: err.Error()})
	}

	return c.JSON(http.StatusOK, reportResponse{
		OK:      true,
		Outcome: string(summary.Outcome),
		Output:  out.String(),
	})
}

// requestConfig applies the limit, model, filter and no_ai form values to the
// base configuration. Missing values keep the base setting.
func (s *Server) requestConfig(c echo.Context) (config.Config, error) {
	cfg := s.base

	if v := strings.TrimSpace(c.FormValue("limit")); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > MaxLimit {
			return config.Config{}, fmt.Errorf("limit must be an integer between 1 and %d", MaxLimit)
		}
		cfg.Limit = limit
	}

	if v := strings.TrimSpace(c.FormValue("model")); v != "" {
		cfg.Model = v
	}

	if v := strings.TrimSpace(c.FormValue("filter")); v != "" {
		filter, err := model.ParseFilter(v)
		if err != nil {
			return config.Config{}, err
		}
		cfg.Filter = filter
	}

	if v := strings.TrimSpace(c.FormValue("no_ai")); v != "" {
		noAI, err := strconv.ParseBool(v)
		if err != nil {
			return config.Config{}, fmt.Errorf("no_ai must be a boolean")
		}
		cfg.NoAI = noAI
	}

	return cfg, nil
}

// errorHandler keeps the JSON shape of report responses for routing errors.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	}

	if err := c.JSON(code, reportResponse{Error: msg}); err != nil {
		s.logger.Error("writing error response", "err", err)
	}
}
