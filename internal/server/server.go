package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/wefthq/weft/internal/approval"
	"github.com/wefthq/weft/internal/auth/jwt"
	"github.com/wefthq/weft/internal/catchup"
	"github.com/wefthq/weft/internal/common/cnst"
	"github.com/wefthq/weft/internal/common/config"
	"github.com/wefthq/weft/internal/common/errorx"
	"github.com/wefthq/weft/internal/realtime/bridge"
	"github.com/wefthq/weft/internal/realtime/conn"
	"github.com/wefthq/weft/internal/realtime/room"
	"github.com/wefthq/weft/pkg/metrics"
	"github.com/wefthq/weft/pkg/version"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// Deps carries the services the server exposes over the wire. Every
// field is required.
type Deps struct {
	JWT       *jwt.Service
	Registry  *conn.Registry
	Rooms     *room.Index
	Bridge    *bridge.Bridge
	Catchup   *catchup.Service
	Approvals *approval.Table
	Metrics   *metrics.Metrics
}

// Server is the HTTP and websocket front of the realtime plane
type Server struct {
	logger    *zap.Logger
	cfg       *config.Config
	jwt       *jwt.Service
	registry  *conn.Registry
	rooms     *room.Index
	bridge    *bridge.Bridge
	catchup   *catchup.Service
	approvals *approval.Table
	metrics   *metrics.Metrics
	errors    *errorx.ErrorHandler
	upgrader  websocket.Upgrader
	router    *gin.Engine
	httpSrv   *http.Server
}

// New creates the server and wires its routes
func New(logger *zap.Logger, cfg *config.Config, deps Deps) (*Server, error) {
	if err := validateOps(wsOps); err != nil {
		return nil, err
	}

	s := &Server{
		logger:    logger.Named("server"),
		cfg:       cfg,
		jwt:       deps.JWT,
		registry:  deps.Registry,
		rooms:     deps.Rooms,
		bridge:    deps.Bridge,
		catchup:   deps.Catchup,
		approvals: deps.Approvals,
		metrics:   deps.Metrics,
		errors:    errorx.NewErrorHandler(logger),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			CheckOrigin:      originChecker(cfg.Realtime.AllowedOrigins),
		},
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(s.loggerMiddleware())
	router.Use(s.recoveryMiddleware())
	router.Use(s.corsMiddleware())
	router.Use(s.metrics.Middleware())
	if cfg.Tracing.Enabled {
		router.Use(otelgin.Middleware(cnst.AppName))
	}

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	router.GET("/ws", s.handleWS)

	s.router = router
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}
	return s, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.Get(),
	})
}

// Router returns the gin engine, used by tests to dial the server
// through httptest.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start brings up the fan-out bridge and blocks serving HTTP until
// Shutdown or a listener failure.
func (s *Server) Start() error {
	s.bridge.Start()
	s.logger.Info("server listening", zap.Int("port", s.cfg.Server.Port))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops fan-out, denies everything still pending, closes every
// client connection, then drains the HTTP listener. Closing the sinks
// is what ends the connection handlers; hijacked websockets are not
// covered by http.Server.Shutdown.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	s.bridge.Stop()
	if n := s.approvals.CancelAll(ctx); n > 0 {
		s.logger.Info("cancelled pending approvals", zap.Int("count", n))
	}
	s.registry.CloseAll()
	return s.httpSrv.Shutdown(ctx)
}
