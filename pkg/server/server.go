package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kacperjurak/ocvcore/logger"
	"github.com/kacperjurak/ocvcore/pkg/config"
	"github.com/kacperjurak/ocvcore/pkg/handlers"
	"github.com/kacperjurak/ocvcore/pkg/models"
	"github.com/kacperjurak/ocvcore/pkg/profiling"
	"github.com/kacperjurak/ocvcore/pkg/webhook"
	"github.com/kacperjurak/ocvcore/pkg/worker"
)

// Server represents the HTTP server with all dependencies
type Server struct {
	config        *config.Config
	serverConfig  *config.ServerConfig
	processor     ProcessorFunc
	workerPool    *worker.Pool
	webhookClient *webhook.Client
	httpServer    *http.Server
	profiler      *profiling.Profiler
	middleware    *profiling.Middleware
}

// ProcessorFunc defines the signature for relaxation data processing
type ProcessorFunc func(data models.RelaxationData, config *config.Config) interface{}

// Options holds configuration for creating a new server
type Options struct {
	Config       *config.Config
	ServerConfig *config.ServerConfig
	Processor    ProcessorFunc
}

// New creates a new server instance
func New(opts Options) *Server {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.ServerConfig == nil {
		opts.ServerConfig = config.DefaultServerConfig()
	}

	// Create webhook client
	webhookClient := webhook.NewClient(opts.ServerConfig.WebhookURL, opts.Config)

	// Create worker pool delivering finished analyses to the webhook client
	workerPool := worker.New(worker.Options{
		Workers:   opts.ServerConfig.WorkerCount,
		Processor: worker.ProcessorFunc(opts.Processor),
		Sender:    webhookClient.Send,
	})

	// Create profiler and middleware
	profiler := profiling.New(opts.ServerConfig)
	middleware := profiling.NewMiddleware(opts.ServerConfig.EnableProfiling)

	server := &Server{
		config:        opts.Config,
		serverConfig:  opts.ServerConfig,
		processor:     opts.Processor,
		workerPool:    workerPool,
		webhookClient: webhookClient,
		profiler:      profiler,
		middleware:    middleware,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures HTTP routes and handlers
func (s *Server) setupRoutes() {
	mux := http.NewServeMux()

	ocvHandler := handlers.NewOCVHandler(s.config, s.workerPool, handlers.ProcessorFunc(s.processor))
	batchHandler := handlers.NewBatchHandler(s.config, s.workerPool, handlers.ProcessorFunc(s.processor))

	mux.Handle("/ocv-data", s.middleware.ProfiledHandler("ocv-single", ocvHandler))
	mux.Handle("/ocv-data/batch", s.middleware.ProfiledHandler("ocv-batch", batchHandler))
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/debug/gc", s.gcHandler)
	mux.HandleFunc("/debug/memory", s.memoryHandler)

	s.httpServer = &http.Server{
		Addr:         ":" + s.serverConfig.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// healthHandler provides a simple health check endpoint
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// gcHandler triggers garbage collection and returns stats
func (s *Server) gcHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	profiling.ForceGC()
	stats := profiling.GetGCStats()

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{
		"gc_runs": %d,
		"pause_total_ms": %.3f,
		"pause_recent_us": %.3f,
		"cpu_percent": %.2f,
		"last_gc": "%s",
		"timestamp": "%s"
	}`,
		stats.NumGC,
		float64(stats.PauseTotal.Nanoseconds())/1000000.0,
		float64(stats.PauseRecent.Nanoseconds())/1000.0,
		stats.GCCPUPercent,
		stats.LastGC.Format(time.RFC3339),
		time.Now().Format(time.RFC3339))
}

// memoryHandler provides current memory statistics
func (s *Server) memoryHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	profiling.LogGCStats()

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"message":"Memory stats logged","timestamp":"%s"}`,
		time.Now().Format(time.RFC3339))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log := logger.GetLogger().WithComponent("server")

	if err := s.profiler.Start(); err != nil {
		log.WithError(err).Error("failed to start profiler")
	}

	log.WithFields(logger.Fields{"port": s.serverConfig.Port}).Info("starting HTTP server")
	log.WithFields(logger.Fields{
		"single": "/ocv-data",
		"batch":  "/ocv-data/batch",
		"health": "/health",
	}).Info("endpoints available")

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	log := logger.GetLogger().WithComponent("server")
	log.Info("shutting down server")

	if err := s.profiler.Stop(); err != nil {
		log.WithError(err).Warn("profiler shutdown error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("http server shutdown error")
	}

	s.workerPool.Shutdown()

	log.Info("server shutdown complete")
	return nil
}
