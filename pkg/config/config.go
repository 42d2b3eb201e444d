package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ArrayFlags collects repeated numeric flag values
type ArrayFlags []float64

func (a *ArrayFlags) String() string {
	return "ArrayFlags"
}

func (a *ArrayFlags) Set(value string) error {
	if val, err := strconv.ParseFloat(value, 64); err == nil {
		*a = append(*a, val)
		return nil
	} else {
		return err
	}
}

// Config holds all analysis settings for the OCV relaxation solver
type Config struct {
	Circuits        int        `yaml:"circuits"`
	Contribute      float64    `yaml:"contribute"`
	Refine          bool       `yaml:"refine"`
	OptimMethod     string     `yaml:"optim_method"`
	SmartMode       string     `yaml:"smart_mode"`
	Weighted        bool       `yaml:"weighted"`
	File            string     `yaml:"file"`
	InitValues      ArrayFlags `yaml:"init_values"`
	Benchmark       bool       `yaml:"benchmark"`
	Threads         uint       `yaml:"threads"`
	Quiet           bool       `yaml:"quiet"`
	HTTPServer      bool       `yaml:"http_server"`
	EnableProfiling bool       `yaml:"enable_profiling"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port            string `yaml:"port"`
	WorkerCount     int    `yaml:"worker_count"`
	WebhookURL      string `yaml:"webhook_url"`
	EnableMetrics   bool   `yaml:"enable_metrics"`
	EnableProfiling bool   `yaml:"enable_profiling"`
	ProfilingPort   string `yaml:"profiling_port"`
}

// LoggingConfig controls the optional rotating file sink
type LoggingConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// FileConfig is the on-disk YAML layout
type FileConfig struct {
	Analysis Config        `yaml:"analysis"`
	Server   ServerConfig  `yaml:"server"`
	Logging  LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Circuits:    2,
		Contribute:  0.2,
		Refine:      true,
		OptimMethod: "nelder-mead",
		SmartMode:   "nm",
		Weighted:    true,
		Threads:     5,
		Quiet:       false,
		HTTPServer:  true,
	}
}

// DefaultServerConfig returns server configuration with sensible defaults
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            "8080",
		WorkerCount:     5,
		WebhookURL:      "http://webplot:3001/webhook",
		EnableMetrics:   true,
		EnableProfiling: false,
		ProfilingPort:   "6060",
	}
}

// Load reads a YAML configuration file, applies environment overrides
// and validates the result.
func Load(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := FileConfig{
		Analysis: *DefaultConfig(),
		Server:   *DefaultServerConfig(),
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment overrides for deployment-specific settings
	if v := os.Getenv("OCV_PORT"); v != "" {
		cfg.Server.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("OCV_WEBHOOK_URL"); v != "" {
		cfg.Server.WebhookURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("OCV_PROFILING_PORT"); v != "" {
		cfg.Server.ProfilingPort = strings.TrimSpace(v)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *FileConfig) error {
	if cfg.Analysis.Circuits < 1 || cfg.Analysis.Circuits > 5 {
		return fmt.Errorf("circuits must be between 1 and 5, got %d", cfg.Analysis.Circuits)
	}
	if cfg.Server.WorkerCount < 1 {
		return fmt.Errorf("worker_count must be positive, got %d", cfg.Server.WorkerCount)
	}
	if _, err := strconv.Atoi(cfg.Server.Port); err != nil {
		return fmt.Errorf("port must be numeric, got %q", cfg.Server.Port)
	}
	switch cfg.Analysis.OptimMethod {
	case "", "all", "nelder-mead", "levenberg-marquardt", "lm", "gradient-descent", "gd", "lbfgs", "newton":
	default:
		return fmt.Errorf("unknown optim_method %q", cfg.Analysis.OptimMethod)
	}
	return nil
}
