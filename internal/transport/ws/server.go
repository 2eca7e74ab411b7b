package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/samber/lo"

	"livescribe/internal/domain"
)

// SessionReader serves the read and delete endpoints.
type SessionReader interface {
	ReadSession(ctx context.Context, sessionID string) (*domain.Session, error)
	ListSessions(ctx context.Context, userID string) ([]domain.Session, error)
	ListChunks(ctx context.Context, sessionID string) ([]domain.TranscriptChunk, error)
	DeleteSession(ctx context.Context, sessionID string, userID string) error
}

// ActiveSessions reports sessions still owned by the live controller.
type ActiveSessions interface {
	Status(sessionID string) (domain.SessionStatus, bool)
}

type ServerConfig struct {
	AllowedOrigins []string
}

// Server exposes the websocket protocol and the session REST endpoints.
type Server struct {
	echo       *echo.Echo
	hub        *Hub
	dispatcher *dispatcher
	reader     SessionReader
	active     ActiveSessions
	upgrader   websocket.Upgrader
	logger     *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewServer(
	cfg ServerConfig,
	sessions SessionService,
	active ActiveSessions,
	reader SessionReader,
	hub *Hub,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	baseCtx, cancel := context.WithCancel(context.Background())

	s := &Server{
		echo:       echo.New(),
		hub:        hub,
		dispatcher: &dispatcher{sessions: sessions, hub: hub, logger: logger},
		reader:     reader,
		active:     active,
		logger:     logger,
		baseCtx:    baseCtx,
		cancel:     cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  32 << 10,
		WriteBufferSize: 32 << 10,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.HTTPErrorHandler = s.handleError

	s.echo.GET("/healthz", s.healthz)
	s.echo.GET("/ws", s.serveWS)
	api := s.echo.Group("/api")
	api.GET("/sessions", s.listSessions)
	api.GET("/sessions/:id", s.getSession)
	api.GET("/sessions/:id/chunks", s.listChunks)
	api.DELETE("/sessions/:id", s.deleteSession)
	return s
}

// Handler exposes the routes for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("http server listening", slog.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and cancels in-flight websocket
// handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.echo.Shutdown(ctx)
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.hub.Clients(),
	})
}

func (s *Server) serveWS(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader already wrote the HTTP error.
		s.logger.Debug("websocket upgrade failed", slog.Any("error", err))
		return nil
	}

	client := newClient(uuid.NewString(), conn, s.hub, s.logger)
	client.logger.Debug("websocket client connected")
	client.run(s.baseCtx, s.dispatcher.dispatch)
	client.logger.Debug("websocket client disconnected")
	return nil
}

func (s *Server) getSession(c echo.Context) error {
	session, err := s.reader.ReadSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, session)
}

func (s *Server) listSessions(c echo.Context) error {
	userID := requestUser(c)
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "userId is required")
	}
	sessions, err := s.reader.ListSessions(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sessions)
}

func (s *Server) listChunks(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if _, err := s.reader.ReadSession(ctx, id); err != nil {
		return err
	}
	chunks, err := s.reader.ListChunks(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, chunks)
}

func (s *Server) deleteSession(c echo.Context) error {
	id := c.Param("id")
	userID := requestUser(c)
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "userId is required")
	}
	if status, ok := s.active.Status(id); ok {
		return echo.NewHTTPError(http.StatusConflict, "session is "+string(status)+"; stop it before deleting")
	}
	if err := s.reader.DeleteSession(c.Request().Context(), id, userID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		_ = c.JSON(httpErr.Code, map[string]any{"error": httpErr.Message})
		return
	}

	status := http.StatusInternalServerError
	code := domain.ErrorCodeFor(err)
	switch code {
	case domain.ErrorCodeSessionNotFound:
		status = http.StatusNotFound
	case domain.ErrorCodeInvalidRequest:
		status = http.StatusBadRequest
	case domain.ErrorCodeInvalidTransition:
		status = http.StatusConflict
	default:
		s.logger.Error("request failed",
			slog.String("path", c.Path()),
			slog.Any("error", err),
		)
	}
	_ = c.JSON(status, map[string]any{"error": err.Error(), "code": code})
}

func requestUser(c echo.Context) string {
	if user := strings.TrimSpace(c.Request().Header.Get("X-User-ID")); user != "" {
		return user
	}
	return strings.TrimSpace(c.QueryParam("userId"))
}

// originChecker allows every origin when none is configured.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || lo.Contains(allowed, origin)
	}
}
