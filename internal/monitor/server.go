// Package monitor exposes a small read-only HTTP status surface over the
// running session, per the specification's §6 `monitor` configuration
// block. Grounded on the teacher's internal/api/server.go (echo.Echo
// setup, Recover/Logger middleware, Start/Shutdown lifecycle), trimmed
// from the teacher's full authenticated REST+WebSocket dashboard down to
// three unauthenticated read-only endpoints (/health, /status,
// /portfolio) behind panic-recovery middleware only — this system has no
// externally-visible control surface (spec §6: "No other externally-
// visible surface"), only observability.
package monitor

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/sessiontrader/earnings-session-trader/internal/model"
)

// StatusSource is the subset of session.Orchestrator the monitor reports
// on. Kept narrow so the monitor package never needs to import session.
type StatusSource interface {
	State() string
}

// PortfolioSource is the subset of gateway.OrderGateway the monitor
// reports on.
type PortfolioSource interface {
	GetPortfolio(ctx context.Context) (model.Portfolio, error)
}

// Config controls the monitor's bind address and whether it runs at all.
type Config struct {
	Addr    string
	Enabled bool
}

// Server is the monitor's HTTP surface.
type Server struct {
	echo      *echo.Echo
	addr      string
	status    StatusSource
	portfolio PortfolioSource
}

// New builds a monitor Server. status and portfolio may be nil; their
// endpoints then report a 503 rather than panicking.
func New(cfg Config, status StatusSource, portfolio PortfolioSource) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echoMiddleware.Recover())

	s := &Server{echo: e, addr: cfg.Addr, status: status, portfolio: portfolio}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	s.echo.GET("/status", func(c echo.Context) error {
		if s.status == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "orchestrator not attached"})
		}
		return c.JSON(http.StatusOK, map[string]string{"state": s.status.State()})
	})

	s.echo.GET("/portfolio", func(c echo.Context) error {
		if s.portfolio == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "gateway not attached"})
		}
		p, err := s.portfolio.GetPortfolio(c.Request().Context())
		if err != nil {
			return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, p)
	})
}

// Start runs the HTTP server, blocking until it stops or errors.
func (s *Server) Start() error {
	log.Info().Str("addr", s.addr).Msg("monitor: starting status server")
	return s.echo.Start(s.addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	log.Info().Msg("monitor: shutting down status server")
	return s.echo.Shutdown(ctx)
}
