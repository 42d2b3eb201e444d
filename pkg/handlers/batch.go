package handlers

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/kacperjurak/ocvcore"
	"github.com/kacperjurak/ocvcore/internal/utils"
	"github.com/kacperjurak/ocvcore/logger"
	"github.com/kacperjurak/ocvcore/pkg/config"
	"github.com/kacperjurak/ocvcore/pkg/models"
	"github.com/kacperjurak/ocvcore/pkg/webhook"
	"github.com/kacperjurak/ocvcore/pkg/worker"
)

// BatchHandler handles batch relaxation-analysis requests
type BatchHandler struct {
	config     *config.Config
	workerPool *worker.Pool
	processor  ProcessorFunc
	curves     *webhook.CurveBuilder
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(cfg *config.Config, pool *worker.Pool, processor ProcessorFunc) *BatchHandler {
	return &BatchHandler{
		config:     cfg,
		workerPool: pool,
		processor:  processor,
		curves:     webhook.NewCurveBuilder(),
	}
}

// ServeHTTP implements the http.Handler interface
func (h *BatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.setupCORS(w)

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != "POST" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var batch models.RelaxationBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		h.writeError(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}

	if len(batch.Transients) == 0 {
		h.writeError(w, "No transients provided in batch", http.StatusBadRequest)
		return
	}

	logger.GetLogger().WithComponent("handlers").WithFields(logger.Fields{
		"batch_id":   batch.BatchID,
		"transients": len(batch.Transients),
	}).Info("batch processing started")

	// Process batch asynchronously
	go h.processBatchAsync(batch)

	response := map[string]interface{}{
		"success":    true,
		"batch_id":   batch.BatchID,
		"transients": len(batch.Transients),
		"message":    "Batch processing started with worker pool",
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(response)
}

// processBatchAsync handles asynchronous batch processing
func (h *BatchHandler) processBatchAsync(batch models.RelaxationBatch) {
	batchStartTime := time.Now()
	timings := make([]models.TransientTiming, len(batch.Transients))
	resultsReceived := 0

	// Submit all jobs to worker pool
	for _, item := range batch.Transients {
		job := h.createWorkItem(item, batch.BatchID)
		h.workerPool.SubmitJob(job)
	}

	// Collect results from worker pool
	for resultsReceived < len(batch.Transients) {
		if result, ok := h.workerPool.GetResult(); ok {
			h.processResult(result, timings)
			resultsReceived++
		} else {
			// No results available yet, small delay to prevent busy waiting
			time.Sleep(1 * time.Millisecond)
		}
	}

	totalBatchTime := time.Since(batchStartTime)
	concurrency := h.getConcurrency()

	h.saveTimingResults(batch.BatchID, totalBatchTime, timings, concurrency)

	logger.GetLogger().WithComponent("handlers").WithFields(logger.Fields{
		"batch_id":   batch.BatchID,
		"total_time": totalBatchTime,
	}).Info("batch processing completed")
}

// createWorkItem converts a batch item to a work item
func (h *BatchHandler) createWorkItem(item models.BatchItem, batchID string) models.WorkItem {
	for i, v := range item.RelaxationData.Voltage {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			logger.GetLogger().WithComponent("handlers").WithFields(logger.Fields{
				"iteration": item.Iteration,
				"index":     i,
				"value":     v,
			}).Warn("invalid voltage sample in batch item")
		}
	}

	return models.WorkItem{
		ID:        item.Iteration,
		RequestID: utils.GenerateID(),
		BatchID:   batchID,
		Iteration: item.Iteration,
		Data:      item.RelaxationData,
		Config:    h.config,
		StartTime: time.Now(),
	}
}

// processResult processes a work result and updates timing
func (h *BatchHandler) processResult(result models.WorkResult, timings []models.TransientTiming) {
	timings[result.Iteration] = models.TransientTiming{
		Iteration:      result.Iteration,
		ProcessingTime: result.ProcessingTime,
		ChiSquare:      result.Result.Min,
		Success:        result.Success,
	}

	if !result.Success {
		return
	}

	circuit, err := ocvcore.TranslateParams(result.Result.Params, result.VCut, result.ICut)
	if err != nil {
		logger.GetLogger().WithComponent("handlers").WithError(err).Error("parameter translation failed")
		return
	}

	item := models.WebhookItem{
		RequestID:     fmt.Sprintf("%s_iter_%03d", result.RequestID, result.Iteration),
		ChiSquare:     result.Result.Min,
		Time:          result.Time,
		Voltage:       result.Voltage,
		FittedVoltage: result.FittedVoltage,
		Params:        result.Result.Params,
		Circuit:       circuit,
		BranchCurves:  h.curves.BranchCurves(result.Result.Params, result.Time),
	}

	h.workerPool.QueueWebhook(item)

	if !h.config.Quiet {
		logger.GetLogger().WithComponent("handlers").WithFields(logger.Fields{
			"iteration": result.Iteration,
		}).Debug("processed transient")
	}
}

// getConcurrency returns the current concurrency level
func (h *BatchHandler) getConcurrency() int {
	concurrency := 5
	if h.config != nil && h.config.Threads > 0 {
		concurrency = int(h.config.Threads)
	}
	return concurrency
}

// saveTimingResults saves timing data to a CSV file for performance analysis
func (h *BatchHandler) saveTimingResults(batchID string, totalTime time.Duration, timings []models.TransientTiming, concurrency int) {
	log := logger.GetLogger().WithComponent("handlers")
	filename := "concurrent_timing_results.csv"

	var writeHeader bool
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		writeHeader = true
	}

	file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.WithError(err).Error("error opening timing file")
		return
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if writeHeader {
		header := []string{
			"Timestamp",
			"BatchID",
			"TotalTransients",
			"Concurrency",
			"TotalBatchTime_ms",
			"AvgTransientTime_ms",
			"MinTransientTime_ms",
			"MaxTransientTime_ms",
			"SuccessRate",
			"AvgChiSquare",
		}
		if err := writer.Write(header); err != nil {
			log.WithError(err).Error("error writing timing header")
			return
		}
	}

	var (
		sumMs     float64
		minMs     = math.Inf(1)
		maxMs     float64
		successes int
		chiSum    float64
	)
	for _, t := range timings {
		ms := float64(t.ProcessingTime.Nanoseconds()) / 1e6
		sumMs += ms
		if ms < minMs {
			minMs = ms
		}
		if ms > maxMs {
			maxMs = ms
		}
		if t.Success {
			successes++
			chiSum += t.ChiSquare
		}
	}
	avgMs := sumMs / float64(len(timings))
	successRate := float64(successes) / float64(len(timings))
	avgChi := 0.0
	if successes > 0 {
		avgChi = chiSum / float64(successes)
	}

	row := []string{
		time.Now().Format(time.RFC3339),
		batchID,
		strconv.Itoa(len(timings)),
		strconv.Itoa(concurrency),
		fmt.Sprintf("%.3f", float64(totalTime.Nanoseconds())/1e6),
		fmt.Sprintf("%.3f", avgMs),
		fmt.Sprintf("%.3f", minMs),
		fmt.Sprintf("%.3f", maxMs),
		fmt.Sprintf("%.3f", successRate),
		fmt.Sprintf("%.6e", avgChi),
	}
	if err := writer.Write(row); err != nil {
		log.WithError(err).Error("error writing timing row")
	}
}

// setupCORS sets up CORS headers
func (h *BatchHandler) setupCORS(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// writeError writes an error response
func (h *BatchHandler) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
