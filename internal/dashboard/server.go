package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/gitcentral/gitcentral/internal/provider"
	"github.com/gitcentral/gitcentral/internal/state"
)

// Engine is what the API needs from the daemon.
type Engine interface {
	Submit(ctx context.Context, req provider.Request) (uint64, error)
	States(ctx context.Context, paths []string) ([]state.FileStatus, error)
}

// Config holds server configuration.
type Config struct {
	// Host defaults to 127.0.0.1.
	Host string
	// Port 0 picks a free port.
	Port   int
	Logger *zap.Logger
}

// Server is the HTTP surface.
type Server struct {
	echo     *echo.Echo
	engine   Engine
	hub      *Hub
	addr     string
	listener net.Listener
	server   *http.Server
	logger   *zap.Logger
}

func NewServer(engine Engine, hub *Hub, config Config) *Server {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Host == "" {
		config.Host = "127.0.0.1"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:   e,
		engine: engine,
		hub:    hub,
		addr:   net.JoinHostPort(config.Host, fmt.Sprint(config.Port)),
		logger: config.Logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/status", s.handleStatus)
	s.echo.POST("/ops/:kind", s.handleSubmit)
	s.echo.GET("/ws", s.handleWebSocket)
}

// ServeHTTP lets the server be mounted on any listener, httptest included.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Listen binds the configured address. Run calls it when needed.
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the listening address once bound.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Run serves the API and the feed until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.server = &http.Server{
		Handler:     s.echo,
		ReadTimeout: 10 * time.Second,
	}

	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		s.hub.Run(ctx)
	}()

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", zap.String("addr", s.Addr()))
		errc <- s.server.Serve(s.listener)
	}()

	var err error
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = s.server.Shutdown(shutdownCtx)
	case err = <-errc:
	}
	<-hubDone
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard server: %w", err)
	}
	s.logger.Info("dashboard stopped")
	return nil
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}

// handleStatus answers GET /status?path=a&path=b from the cache. Without
// paths every cached state is returned.
func (s *Server) handleStatus(c echo.Context) error {
	states, err := s.engine.States(c.Request().Context(), c.QueryParams()["path"])
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	}
	if states == nil {
		states = []state.FileStatus{}
	}
	return c.JSON(http.StatusOK, map[string]any{"states": states})
}

type submitRequest struct {
	Files         []string `json:"files"`
	Description   string   `json:"description"`
	UpdateHistory bool     `json:"update_history"`
	CheckAllFiles bool     `json:"check_all_files"`
	OpenedOnly    bool     `json:"opened_only"`
	Destination   string   `json:"destination"`
}

// handleSubmit queues an operation and replies 202 with its id. Results
// arrive on the feed.
func (s *Server) handleSubmit(c echo.Context) error {
	kind, err := provider.ParseKind(c.Param("kind"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	var body submitRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	id, err := s.engine.Submit(c.Request().Context(), provider.Request{
		Kind:          kind,
		Files:         body.Files,
		Description:   body.Description,
		UpdateHistory: body.UpdateHistory,
		CheckAllFiles: body.CheckAllFiles,
		OpenedOnly:    body.OpenedOnly,
		Destination:   body.Destination,
	})
	switch {
	case errors.Is(err, provider.ErrRejected), errors.Is(err, provider.ErrClosed):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case err != nil:
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	}
	s.logger.Debug("operation submitted", zap.String("kind", string(kind)), zap.Uint64("id", id))
	return c.JSON(http.StatusAccepted, map[string]any{"id": id, "kind": kind})
}

func (s *Server) handleWebSocket(c echo.Context) error {
	s.hub.ServeWS(c.Response(), c.Request())
	return nil
}
