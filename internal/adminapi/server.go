// Package adminapi is the operator-facing HTTP/WebSocket side-channel
// described in spec.md SPEC_FULL.md §4.K: health, metrics, and a live
// connection-count feed, bound to a separate listener address and never on
// the TCP wire protocol's data path. Grounded on the teacher's
// internal/httpapi (Echo app, requestLogger middleware, Run/shutdown) and
// internal/ws (gorilla/websocket upgrade, per-connection writer goroutine).
package adminapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/kramQAQ/inksprint/internal/metrics"
	"github.com/kramQAQ/inksprint/internal/registry"
	"github.com/kramQAQ/inksprint/internal/store"
)

// Server is the admin Echo application.
type Server struct {
	echo      *echo.Echo
	reg       *registry.Registry
	store     *store.Store
	metrics   *metrics.Counters
	secret    []byte
	startedAt time.Time
	upgrader  websocket.Upgrader
}

// New constructs the admin app. secret is the HMAC key used to mint and
// verify the bearer token; callers typically generate it once from
// crypto/rand at startup, mint a token from it with MintToken, and print
// that token to the log.
func New(reg *registry.Registry, st *store.Store, counters *metrics.Counters, secret []byte) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{
		echo:      e,
		reg:       reg,
		store:     st,
		metrics:   counters,
		secret:    secret,
		startedAt: time.Now(),
		upgrader:  websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }},
	}
	s.registerRoutes()
	return s
}

// requestLogger logs each admin HTTP request via slog, at debug level for
// the high-frequency health check and info for everything else.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			level := slog.LevelInfo
			if req.URL.Path == "/health" {
				level = slog.LevelDebug
			}
			slog.Log(context.Background(), level, "admin request",
				"method", req.Method, "path", req.URL.Path,
				"status", c.Response().Status, "duration_ms", time.Since(start).Milliseconds())
			return nil
		}
	}
}

// bearerAuth rejects requests that don't carry a valid operator token,
// either as an Authorization: Bearer header or, for the websocket upgrade
// (browsers can't set arbitrary headers on the handshake), a "token" query
// parameter.
func (s *Server) bearerAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tok := c.QueryParam("token")
		if tok == "" {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			tok = strings.TrimPrefix(auth, "Bearer ")
		}
		if tok == "" || verifyToken(tok, s.secret) != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing admin token")
		}
		return next(c)
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", s.handleMetrics, s.bearerAuth)
	s.echo.GET("/live", s.handleLive, s.bearerAuth)
}

// Echo exposes the underlying app for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Run starts the admin listener and blocks until ctx cancellation or
// startup failure, mirroring the teacher's httpapi.Server.Run.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("admin: shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		slog.Info("admin: stopped")
		return nil
	}
}

type healthResponse struct {
	Status        string `json:"status"`
	Sessions      int    `json:"sessions"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:        "ok",
		Sessions:      s.reg.Count(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

type metricsResponse struct {
	SessionsOnline int              `json:"sessions_online"`
	RoomsActive    int              `json:"rooms_active"`
	SprintsActive  int              `json:"sprints_active"`
	MessagesRouted int64            `json:"messages_routed"`
	RequestsByType map[string]int64 `json:"requests_by_type"`
}

func (s *Server) handleMetrics(c echo.Context) error {
	roomsActive, err := s.store.CountGroups()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "count rooms: "+err.Error())
	}
	sprintsActive, err := s.store.CountActiveSprintGroups()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "count sprints: "+err.Error())
	}
	snap := s.metrics.Snapshot()
	return c.JSON(http.StatusOK, metricsResponse{
		SessionsOnline: s.reg.Count(),
		RoomsActive:    roomsActive,
		SprintsActive:  sprintsActive,
		MessagesRouted: snap.MessagesRouted,
		RequestsByType: snap.RequestsByType,
	})
}

// livePush is the shape of every frame the /live socket writes.
type livePush struct {
	Event     string `json:"event"`
	UserCount int    `json:"user_count"`
}

// handleLive upgrades the request and streams an event on every registry
// attach/detach until the client disconnects. This is a push-only feed:
// the socket is read only to notice the client closing, and any frames the
// client sends are discarded.
func (s *Server) handleLive(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	events := make(chan livePush, 16)
	unsubscribe := s.reg.Watch(func(event string, userCount int) {
		select {
		case events <- livePush{Event: event, UserCount: userCount}:
		default:
			slog.Debug("admin: live feed backpressure, dropping event")
		}
	})
	defer unsubscribe()

	_ = conn.WriteJSON(livePush{Event: "snapshot", UserCount: s.reg.Count()})

	// Detect client-initiated close without blocking the event loop.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return nil
		case ev := <-events:
			if err := conn.WriteJSON(ev); err != nil {
				return nil
			}
		}
	}
}
