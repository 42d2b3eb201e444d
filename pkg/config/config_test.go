package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 2, cfg.Circuits)
	assert.Equal(t, 0.2, cfg.Contribute)
	assert.True(t, cfg.Refine)
	assert.Equal(t, "nelder-mead", cfg.OptimMethod)
	assert.True(t, cfg.Weighted)
	assert.Equal(t, uint(5), cfg.Threads)

	srv := DefaultServerConfig()
	assert.Equal(t, "8080", srv.Port)
	assert.Equal(t, 5, srv.WorkerCount)
}

func TestLoad(t *testing.T) {
	t.Run("merges file over defaults", func(t *testing.T) {
		path := writeConfig(t, `
analysis:
  circuits: 3
  contribute: 0.35
  optim_method: lm
server:
  port: "9090"
  worker_count: 8
logging:
  file: /var/log/ocv.log
  max_size_mb: 50
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, 3, cfg.Analysis.Circuits)
		assert.Equal(t, 0.35, cfg.Analysis.Contribute)
		assert.Equal(t, "lm", cfg.Analysis.OptimMethod)
		// untouched keys keep their defaults
		assert.True(t, cfg.Analysis.Refine)
		assert.Equal(t, "9090", cfg.Server.Port)
		assert.Equal(t, 8, cfg.Server.WorkerCount)
		assert.Equal(t, "/var/log/ocv.log", cfg.Logging.File)
		assert.Equal(t, 50, cfg.Logging.MaxSizeMB)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		t.Setenv("OCV_PORT", "7070")
		t.Setenv("OCV_WEBHOOK_URL", "http://example.com/hook")

		path := writeConfig(t, `
server:
  port: "9090"
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "7070", cfg.Server.Port)
		assert.Equal(t, "http://example.com/hook", cfg.Server.WebhookURL)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeConfig(t, "analysis: [not a mapping")
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"too many circuits", "analysis:\n  circuits: 9\n"},
		{"zero workers", "server:\n  worker_count: 0\n"},
		{"non-numeric port", "server:\n  port: \"http\"\n"},
		{"unknown method", "analysis:\n  optim_method: annealing\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.yaml)
			_, err := Load(path)
			assert.ErrorContains(t, err, "validation failed")
		})
	}
}

func TestArrayFlags(t *testing.T) {
	var a ArrayFlags
	require.NoError(t, a.Set("0.5"))
	require.NoError(t, a.Set("22.5"))
	assert.Equal(t, ArrayFlags{0.5, 22.5}, a)
	assert.Error(t, a.Set("not-a-number"))
}
