package profiling

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof" // Import pprof handlers
	"runtime"
	"time"

	"github.com/kacperjurak/ocvcore/logger"
	"github.com/kacperjurak/ocvcore/pkg/config"
)

// Profiler manages the pprof profiling server
type Profiler struct {
	config *config.ServerConfig
	server *http.Server
}

// New creates a new profiler instance
func New(cfg *config.ServerConfig) *Profiler {
	return &Profiler{
		config: cfg,
	}
}

// Start starts the profiling server on a separate port
func (p *Profiler) Start() error {
	log := logger.GetLogger().WithComponent("profiling")

	if !p.config.EnableProfiling {
		log.Debug("profiling disabled")
		return nil
	}

	runtime.SetBlockProfileRate(1)
	runtime.SetMutexProfileFraction(1)

	mux := http.NewServeMux()

	// Default pprof endpoints are registered on DefaultServeMux at import
	mux.HandleFunc("/debug/pprof/", http.DefaultServeMux.ServeHTTP)
	mux.HandleFunc("/debug/pprof/cmdline", http.DefaultServeMux.ServeHTTP)
	mux.HandleFunc("/debug/pprof/profile", http.DefaultServeMux.ServeHTTP)
	mux.HandleFunc("/debug/pprof/symbol", http.DefaultServeMux.ServeHTTP)
	mux.HandleFunc("/debug/pprof/trace", http.DefaultServeMux.ServeHTTP)

	mux.HandleFunc("/debug/info", p.infoHandler)

	p.server = &http.Server{
		Addr:    ":" + p.config.ProfilingPort,
		Handler: mux,
	}

	log.WithFields(logger.Fields{"port": p.config.ProfilingPort}).Info("starting profiling server")

	go func() {
		if err := p.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("profiling server error")
		}
	}()

	return nil
}

// Stop gracefully stops the profiling server
func (p *Profiler) Stop() error {
	if p.server == nil {
		return nil
	}

	log := logger.GetLogger().WithComponent("profiling")
	log.Info("shutting down profiling server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("profiling server shutdown error: %w", err)
	}

	log.Info("profiling server stopped")
	return nil
}

// infoHandler provides runtime information
func (p *Profiler) infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{
  "timestamp": "%s",
  "goroutines": %d,
  "gomaxprocs": %d,
  "num_cpu": %d,
  "version": "%s",
  "memory": {
    "alloc_mb": %.2f,
    "sys_mb": %.2f,
    "heap_alloc_mb": %.2f,
    "heap_objects": %d
  },
  "gc": {
    "num_gc": %d,
    "pause_total_ns": %d,
    "last_gc": "%s"
  }
}`, time.Now().Format(time.RFC3339), runtime.NumGoroutine(), runtime.GOMAXPROCS(0), runtime.NumCPU(), runtime.Version(),
		bToMb(m.Alloc), bToMb(m.Sys), bToMb(m.HeapAlloc), m.HeapObjects,
		m.NumGC, m.PauseTotalNs, time.Unix(0, int64(m.LastGC)).Format(time.RFC3339))
}

// GCStats summarizes garbage collector activity
type GCStats struct {
	NumGC        uint32
	PauseTotal   time.Duration
	PauseRecent  time.Duration
	GCCPUPercent float64
	LastGC       time.Time
}

// GetGCStats returns current garbage collector statistics
func GetGCStats() GCStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return GCStats{
		NumGC:        m.NumGC,
		PauseTotal:   time.Duration(m.PauseTotalNs),
		PauseRecent:  time.Duration(m.PauseNs[(m.NumGC+255)%256]),
		GCCPUPercent: m.GCCPUFraction * 100,
		LastGC:       time.Unix(0, int64(m.LastGC)),
	}
}

// ForceGC triggers a garbage collection run
func ForceGC() {
	runtime.GC()
}

// LogGCStats logs the current memory and GC statistics
func LogGCStats() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	logger.GetLogger().WithComponent("profiling").WithFields(logger.Fields{
		"alloc_mb":     bToMb(m.Alloc),
		"sys_mb":       bToMb(m.Sys),
		"heap_objects": m.HeapObjects,
		"num_gc":       m.NumGC,
		"goroutines":   runtime.NumGoroutine(),
	}).Info("runtime stats")
}

// bToMb converts bytes to megabytes
func bToMb(b uint64) float64 {
	return float64(b) / 1024 / 1024
}
