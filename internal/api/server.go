package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/wolverine-quant/trinity-engine/internal/portfolio"
	"github.com/wolverine-quant/trinity-engine/pkg/types"
)

// Engine is the read surface of the decision engine the API exposes.
// Implementations must be safe for concurrent use with the feed loop.
type Engine interface {
	LastReport() *types.CycleReport
	Config() *types.EngineConfig
	Snapshot() (*portfolio.EngineState, error)
}

// Server is the HTTP/WebSocket API server.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *Hub
	engine     Engine
	registry   *prometheus.Registry
	started    time.Time
}

// NewServer creates a new API server. The registry may be nil to disable
// the metrics endpoint.
func NewServer(logger *zap.Logger, engine Engine, hub *Hub, registry *prometheus.Registry) *Server {
	server := &Server{
		logger:   logger,
		router:   mux.NewRouter(),
		hub:      hub,
		engine:   engine,
		registry: registry,
		started:  time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	server.setupRoutes()
	return server
}

// Router returns the underlying router, mainly for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/api/v1/report", s.handleReport).Methods("GET")
	s.router.HandleFunc("/api/v1/config", s.handleConfig).Methods("GET")
	s.router.HandleFunc("/api/v1/snapshot", s.handleSnapshot).Methods("GET")

	if s.registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Start starts the HTTP server on addr and blocks until it stops.
func (s *Server) Start(addr string) error {
	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	s.mu.Unlock()

	s.logger.Info("Starting API server", zap.String("addr", addr))

	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.RLock()
	srv := s.httpServer
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"ws_clients":     s.hub.ClientCount(),
	}
	if report := s.engine.LastReport(); report != nil {
		status["bar_index"] = report.BarIndex
		status["portfolio_value"] = report.PortfolioValue
		status["active_positions"] = report.ActivePositions
		status["circuit_breaker"] = report.CircuitBreaker
	}
	s.writeJSON(w, status)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report := s.engine.LastReport()
	if report == nil {
		http.Error(w, "No cycle closed yet", http.StatusNotFound)
		return
	}
	s.writeJSON(w, report)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.engine.Config())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	state, err := s.engine.Snapshot()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, state)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), s.hub, conn)
	s.hub.register <- client

	s.logger.Info("WebSocket client connected", zap.String("id", client.id))

	go client.ReadPump()
	go client.WritePump()
}

func (s *Server) writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
