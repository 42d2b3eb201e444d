package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/kacperjurak/ocvcore/internal/processing"
	"github.com/kacperjurak/ocvcore/logger"
	"github.com/kacperjurak/ocvcore/pkg/config"
	"github.com/kacperjurak/ocvcore/pkg/server"
)

func main() {
	log := logger.GetLogger().WithComponent("main")

	// Load .env before anything reads the environment
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("failed to load .env file")
	}

	cfg, serverConfig, loggingConfig := parseFlags()

	if loggingConfig.File != "" {
		logger.EnableFileOutput(loggingConfig.File, loggingConfig.MaxSizeMB, loggingConfig.MaxBackups, loggingConfig.MaxAgeDays)
	}

	// Create relaxation processor
	processor := processing.NewRelaxationProcessor()

	// Create and start server
	srv := server.New(server.Options{
		Config:       cfg,
		ServerConfig: serverConfig,
		Processor:    processor.ProcessorFunc(),
	})

	setupGracefulShutdown(srv)

	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("failed to start server")
	}
}

// parseFlags parses command line flags, optionally merging a YAML config
// file, and returns the effective configuration.
func parseFlags() (*config.Config, *config.ServerConfig, *config.LoggingConfig) {
	log := logger.GetLogger().WithComponent("main")

	cfg := config.DefaultConfig()
	serverConfig := config.DefaultServerConfig()
	loggingConfig := &config.LoggingConfig{}

	var configPath string
	flag.StringVar(&configPath, "config", "", "YAML configuration file path")
	flag.IntVar(&cfg.Circuits, "circuits", cfg.Circuits, "Number of RC circuits in the fit model")
	flag.Float64Var(&cfg.Contribute, "contribute", cfg.Contribute, "Default charge-transfer contribution fraction")
	flag.BoolVar(&cfg.Refine, "refine", cfg.Refine, "Refine closed-form estimate by least squares")
	flag.StringVar(&cfg.OptimMethod, "method", cfg.OptimMethod, "Optimization method")
	flag.BoolVar(&cfg.Weighted, "weighted", cfg.Weighted, "Apply power-law residual weighting")
	flag.StringVar(&cfg.File, "file", cfg.File, "Input file path")
	flag.Var(&cfg.InitValues, "init", "Initial parameter value (repeatable)")
	flag.UintVar(&cfg.Threads, "threads", cfg.Threads, "Number of worker threads")
	flag.BoolVar(&cfg.Quiet, "quiet", cfg.Quiet, "Suppress verbose output")
	flag.BoolVar(&cfg.HTTPServer, "server", cfg.HTTPServer, "Start HTTP server")
	flag.BoolVar(&cfg.Benchmark, "benchmark", cfg.Benchmark, "Enable benchmark mode")
	flag.BoolVar(&cfg.EnableProfiling, "profile", cfg.EnableProfiling, "Enable pprof profiling")
	flag.StringVar(&serverConfig.Port, "port", serverConfig.Port, "HTTP server port")
	flag.StringVar(&serverConfig.WebhookURL, "webhook", serverConfig.WebhookURL, "Webhook URL for results")

	flag.Parse()

	if configPath != "" {
		fileCfg, err := config.Load(configPath)
		if err != nil {
			log.WithError(err).Fatal("failed to load config file")
		}
		cfg = &fileCfg.Analysis
		serverConfig = &fileCfg.Server
		loggingConfig = &fileCfg.Logging
	}

	serverConfig.WorkerCount = int(cfg.Threads)
	serverConfig.EnableProfiling = cfg.EnableProfiling

	return cfg, serverConfig, loggingConfig
}

// setupGracefulShutdown sets up graceful shutdown handling
func setupGracefulShutdown(srv *server.Server) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log := logger.GetLogger().WithComponent("main")
		log.Info("received shutdown signal")
		if err := srv.Shutdown(); err != nil {
			log.WithError(err).Error("error during shutdown")
		}
		os.Exit(0)
	}()
}
