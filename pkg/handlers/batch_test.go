package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kacperjurak/ocvcore"
	"github.com/kacperjurak/ocvcore/pkg/config"
	"github.com/kacperjurak/ocvcore/pkg/models"
	"github.com/kacperjurak/ocvcore/pkg/worker"
)

func newBatchHandler(t *testing.T) *BatchHandler {
	t.Helper()
	processor := func(data models.RelaxationData, cfg *config.Config) interface{} {
		return ocvcore.FitResult{
			Status: ocvcore.OK,
			Params: []float64{0.6, 0.2, 8.0, 0.2, 90.0},
			Min:    1e-8,
		}
	}
	pool := worker.New(worker.Options{Workers: 2, Processor: worker.ProcessorFunc(processor)})
	t.Cleanup(pool.Shutdown)
	cfg := config.DefaultConfig()
	cfg.Quiet = true
	return NewBatchHandler(cfg, pool, processor)
}

func postBatch(t *testing.T, h http.Handler, batch models.RelaxationBatch) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(batch)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/ocv-data/batch", bytes.NewReader(buf))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBatchHandler(t *testing.T) {
	transient := models.RelaxationData{
		Time:    []float64{0, 10, 20},
		Voltage: []float64{1.0, 0.8, 0.6},
		VCut:    1.2,
		ICut:    0.5,
	}

	t.Run("accepts a batch", func(t *testing.T) {
		h := newBatchHandler(t)
		t.Cleanup(func() {
			// async batch processing appends a timing CSV next to the test binary
			time.Sleep(100 * time.Millisecond)
			os.Remove("concurrent_timing_results.csv")
		})
		rec := postBatch(t, h, models.RelaxationBatch{
			BatchID:   "batch-1",
			Timestamp: time.Now(),
			Transients: []models.BatchItem{
				{RelaxationData: transient, Iteration: 0},
				{RelaxationData: transient, Iteration: 1},
			},
		})

		assert.Equal(t, http.StatusAccepted, rec.Code)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "batch-1", resp["batch_id"])
		assert.Equal(t, float64(2), resp["transients"])
	})

	t.Run("rejects an empty batch", func(t *testing.T) {
		h := newBatchHandler(t)
		rec := postBatch(t, h, models.RelaxationBatch{BatchID: "empty"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects non-POST methods", func(t *testing.T) {
		h := newBatchHandler(t)
		req := httptest.NewRequest("DELETE", "/ocv-data/batch", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("work items carry batch metadata", func(t *testing.T) {
		h := newBatchHandler(t)
		item := h.createWorkItem(models.BatchItem{RelaxationData: transient, Iteration: 3}, "batch-x")

		assert.Equal(t, 3, item.ID)
		assert.Equal(t, 3, item.Iteration)
		assert.Equal(t, "batch-x", item.BatchID)
		assert.NotEmpty(t, item.RequestID)
		assert.Equal(t, h.config, item.Config)
	})
}
