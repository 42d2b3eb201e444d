package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kacperjurak/ocvcore"
	"github.com/kacperjurak/ocvcore/pkg/config"
	"github.com/kacperjurak/ocvcore/pkg/models"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv := New(Options{
		Config:       config.DefaultConfig(),
		ServerConfig: config.DefaultServerConfig(),
		Processor: func(data models.RelaxationData, cfg *config.Config) interface{} {
			return ocvcore.FitResult{Status: ocvcore.OK, Params: []float64{0.6, 0.2, 8.0}}
		},
	})
	t.Cleanup(func() { srv.workerPool.Shutdown() })
	return srv
}

func TestServerDefaults(t *testing.T) {
	srv := New(Options{})
	defer srv.workerPool.Shutdown()

	assert.Equal(t, config.DefaultConfig(), srv.config)
	assert.Equal(t, ":8080", srv.httpServer.Addr)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestGCEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/debug/gc", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "gc_runs")
}

func TestOCVRouteWired(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/ocv-data", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/ocv-data/batch", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
