// Package server exposes the pipeline over HTTP: task submission, run
// control, polling endpoints, live event streams and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aristath/blogflow/internal/events"
	"github.com/aristath/blogflow/internal/pipeline"
)

// Config configures the HTTP server.
type Config struct {
	Addr           string
	AllowedOrigins []string // Empty allows every origin
	Debug          bool
}

// Deps are the server's collaborators. Orchestrator and Repo are required.
type Deps struct {
	Orchestrator *pipeline.Orchestrator
	Repo         pipeline.Repository
	Bus          *events.EventBus
	Gatherer     prometheus.Gatherer // Defaults to prometheus.DefaultGatherer
}

// Server is the HTTP API.
type Server struct {
	orch       *pipeline.Orchestrator
	repo       pipeline.Repository
	bus        *events.EventBus
	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader

	// Runs started over HTTP outlive their request; they stop on Shutdown.
	runCtx    context.Context
	cancelRun context.CancelFunc
	runs      sync.WaitGroup
}

// New builds the server and its routes.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Orchestrator == nil || deps.Repo == nil {
		return nil, errors.New("server requires an orchestrator and a repository")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowWebSockets = true
	engine.Use(cors.New(corsConfig))

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		orch:   deps.Orchestrator,
		repo:   deps.Repo,
		bus:    deps.Bus,
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		runCtx:    runCtx,
		cancelRun: cancel,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.routes(deps.Gatherer)
	return s, nil
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	api := s.engine.Group("/api")
	api.GET("/health", s.handleHealth)

	tasks := api.Group("/tasks")
	{
		tasks.POST("", s.handleCreateTask)
		tasks.GET("", s.handleListTasks)
		tasks.GET("/:id", s.handleGetTask)
		tasks.DELETE("/:id", s.handleDeleteTask)
		tasks.GET("/:id/state", s.handleState)
		tasks.GET("/:id/progress", s.handleProgress)
		tasks.POST("/:id/run", s.handleRun)
		tasks.GET("/:id/stream", s.handleStream)
		tasks.GET("/:id/ws", s.handleWebSocket)
		tasks.GET("/:id/invocations", s.handleInvocations)
		tasks.GET("/:id/artifacts/:kind", s.handleArtifact)
	}

	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	log.Printf("Starting blogflow API on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, cancels runs started over HTTP and
// waits for them to record their final state.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Stopping blogflow API...")
	err := s.httpServer.Shutdown(ctx)
	s.cancelRun()

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Printf("WARNING: shutdown timed out waiting for runs")
		return ctx.Err()
	}

	if err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}
	return nil
}

// startRun launches taskID in the background, draining its event stream.
func (s *Server) startRun(taskID string) error {
	ch, err := s.orch.StartWorkflow(s.runCtx, taskID)
	if err != nil {
		return err
	}
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		for range ch {
		}
	}()
	return nil
}
