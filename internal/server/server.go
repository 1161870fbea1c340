// Package server is the HTTP and websocket surface of the engine: read-only
// slot and wallet queries, manual claims, and the realtime feed.
package server

import (
	"context"
	"errors"
	"net/http"

	"slot-ledger-go/internal/api"
	"slot-ledger-go/internal/broadcast"
	"slot-ledger-go/internal/metrics"
	"slot-ledger-go/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Server struct {
	config  models.ServerConfig
	ledger  *api.LedgerService
	hub     *broadcast.Hub
	metrics *metrics.Metrics

	engine   *gin.Engine
	http     *http.Server
	upgrader websocket.Upgrader
}

func New(config models.ServerConfig, ledger *api.LedgerService, hub *broadcast.Hub, m *metrics.Metrics) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config:  config,
		ledger:  ledger,
		hub:     hub,
		metrics: m,
		engine:  gin.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Tokens authenticate the socket, not cookies, so any origin may connect
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.routes()

	s.http = &http.Server{
		Addr:         config.Addr,
		Handler:      s.engine,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.engine.Use(RequestID(), Recovery(), Logger())

	s.engine.GET("/healthz", s.health)
	s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	claims := NewRateLimiter(s.config.ClaimRatePerMinute, s.config.ClaimBurst)

	v1 := s.engine.Group("/v1", Authentication(s.config.JWTSecret))
	v1.GET("/slots", s.listSlots)
	v1.GET("/slots/:id", s.getSlot)
	v1.POST("/slots/:id/claim", claims.PerOwner(), s.claimSlot)
	v1.GET("/wallets", s.listWallets)
	v1.GET("/transactions", s.transactionHistory)
	v1.GET("/state", s.state)
	v1.GET("/ws", s.serveWS)
}

// Handler exposes the router for httptest
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Shutdown; it returns nil after a clean shutdown
func (s *Server) Start() error {
	zap.L().Info("HTTP server listening", zap.String("addr", s.config.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.CloseAll()
	return s.http.Shutdown(ctx)
}
