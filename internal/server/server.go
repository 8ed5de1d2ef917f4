// Package server exposes the control API: session lifecycle, status,
// classification, source discovery, the live event stream and metrics.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"stagewhisper/internal/domain"
	"stagewhisper/internal/hub"
	"stagewhisper/internal/metrics"
	"stagewhisper/internal/ports"
	"stagewhisper/internal/usecase"
)

// upgrader accepts any origin; the API binds to loopback and serves the
// local overlay UI.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type statusResponse struct {
	domain.Status
	Current string             `json:"current,omitempty"`
	History []domain.Utterance `json:"history"`
}

type classifyRequest struct {
	Text     string `json:"text"`
	Detailed bool   `json:"detailed,omitempty"`
}

type classifyResponse struct {
	Category domain.Category         `json:"category"`
	Scores   map[domain.Category]int `json:"scores,omitempty"`
}

// Server hosts the HTTP control plane.
type Server struct {
	echo        *echo.Echo
	coordinator *usecase.Coordinator
	devices     ports.MediaDevices
	hub         *hub.Hub
	metrics     *metrics.Metrics
	log         *zap.Logger
	addr        string
}

// New builds the server and registers all routes.
func New(
	coordinator *usecase.Coordinator,
	devices ports.MediaDevices,
	h *hub.Hub,
	m *metrics.Metrics,
	logger *zap.Logger,
	addr string,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:        e,
		coordinator: coordinator,
		devices:     devices,
		hub:         h,
		metrics:     m,
		log:         logger.Named("server"),
		addr:        addr,
	}

	e.GET("/healthz", s.handleHealth)

	v1 := e.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.POST("/session/start", s.handleStart)
	v1.POST("/session/stop", s.handleStop)
	v1.POST("/classify", s.handleClassify)
	v1.GET("/sources", s.handleSources)

	e.GET("/ws", s.handleWebsocket)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(
		m.Registry(), promhttp.HandlerOpts{},
	)))

	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("control api listening", zap.String("addr", s.addr))
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "stagewhisper",
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.statusPayload())
}

func (s *Server) handleStart(c echo.Context) error {
	if err := s.coordinator.Start(c.Request().Context()); err != nil {
		if errors.Is(err, usecase.ErrAlreadyRunning) {
			return c.JSON(http.StatusConflict, errorResponse{
				Error:   "already_running",
				Message: err.Error(),
			})
		}
		s.log.Error("session start failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, errorResponse{
			Error:   "start_failed",
			Message: err.Error(),
		})
	}
	return c.JSON(http.StatusOK, s.statusPayload())
}

func (s *Server) handleStop(c echo.Context) error {
	if err := s.coordinator.Stop(); err != nil {
		if errors.Is(err, usecase.ErrNoActiveSession) {
			return c.JSON(http.StatusConflict, errorResponse{
				Error:   "no_active_session",
				Message: err.Error(),
			})
		}
		s.log.Error("session stop failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, errorResponse{
			Error:   "stop_failed",
			Message: err.Error(),
		})
	}
	return c.JSON(http.StatusOK, s.statusPayload())
}

func (s *Server) handleClassify(c echo.Context) error {
	var req classifyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Error:   "invalid_request",
			Message: "body must be JSON with a text field",
		})
	}
	if req.Text == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Error:   "missing_text",
			Message: "text is required",
		})
	}

	if req.Detailed {
		detailed, err := s.coordinator.ClassifyDetailed(c.Request().Context(), req.Text)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, errorResponse{
				Error:   "classify_failed",
				Message: err.Error(),
			})
		}
		return c.JSON(http.StatusOK, classifyResponse{
			Category: detailed.Category,
			Scores:   detailed.Scores,
		})
	}
	return c.JSON(http.StatusOK, classifyResponse{
		Category: s.coordinator.Classify(req.Text),
	})
}

func (s *Server) handleSources(c echo.Context) error {
	sources, err := s.devices.EnumerateSources(c.Request().Context())
	if err != nil {
		s.log.Error("source enumeration failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, errorResponse{
			Error:   "enumeration_failed",
			Message: err.Error(),
		})
	}
	if sources == nil {
		sources = []ports.SourceInfo{}
	}
	return c.JSON(http.StatusOK, sources)
}

func (s *Server) handleWebsocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return err
	}
	s.hub.Serve(conn)
	return nil
}

func (s *Server) statusPayload() statusResponse {
	transcriptLog := s.coordinator.Transcript()
	return statusResponse{
		Status:  s.coordinator.Status(),
		Current: transcriptLog.Current(),
		History: transcriptLog.History(),
	}
}
