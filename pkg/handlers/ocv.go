package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kacperjurak/ocvcore"
	"github.com/kacperjurak/ocvcore/internal/utils"
	"github.com/kacperjurak/ocvcore/logger"
	"github.com/kacperjurak/ocvcore/pkg/config"
	"github.com/kacperjurak/ocvcore/pkg/models"
	"github.com/kacperjurak/ocvcore/pkg/webhook"
	"github.com/kacperjurak/ocvcore/pkg/worker"
)

// OCVHandler handles single relaxation-transient analysis requests
type OCVHandler struct {
	config     *config.Config
	workerPool *worker.Pool
	processor  ProcessorFunc
	curves     *webhook.CurveBuilder
}

// ProcessorFunc defines the signature for relaxation data processing
type ProcessorFunc func(data models.RelaxationData, config *config.Config) interface{}

// NewOCVHandler creates a new OCV handler
func NewOCVHandler(cfg *config.Config, pool *worker.Pool, processor ProcessorFunc) *OCVHandler {
	return &OCVHandler{
		config:     cfg,
		workerPool: pool,
		processor:  processor,
		curves:     webhook.NewCurveBuilder(),
	}
}

// ServeHTTP implements the http.Handler interface
func (h *OCVHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.setupCORS(w)

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != "POST" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var data models.RelaxationData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		h.writeError(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}

	if len(data.Time) == 0 {
		h.writeError(w, "No data points provided", http.StatusBadRequest)
		return
	}
	if len(data.Time) != len(data.Voltage) {
		h.writeError(w, "Time and voltage lengths differ", http.StatusBadRequest)
		return
	}

	// Generate unique ID for this request
	requestID := utils.GenerateID()

	// Process data asynchronously
	go h.processAsync(requestID, data)

	response := map[string]interface{}{
		"success":    true,
		"request_id": requestID,
		"message":    "Processing started",
	}

	if !h.config.Quiet {
		logger.GetLogger().WithComponent("handlers").WithFields(logger.Fields{
			"request_id": requestID,
			"samples":    len(data.Time),
		}).Info("HTTP request received")
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(response)
}

// processAsync handles asynchronous processing of relaxation data
func (h *OCVHandler) processAsync(requestID string, data models.RelaxationData) {
	result := h.processor(data, h.config)

	fitResult, ok := result.(ocvcore.FitResult)
	if !ok || fitResult.Status != ocvcore.OK {
		logger.GetLogger().WithComponent("handlers").WithFields(logger.Fields{
			"request_id": requestID,
		}).Error("relaxation analysis failed, skipping webhook")
		return
	}

	circuit, err := ocvcore.TranslateParams(fitResult.Params, data.VCut, data.ICut)
	if err != nil {
		logger.GetLogger().WithComponent("handlers").WithError(err).Error("parameter translation failed")
		return
	}

	item := models.WebhookItem{
		RequestID:     requestID,
		ChiSquare:     fitResult.Min,
		Time:          data.Time,
		Voltage:       data.Voltage,
		FittedVoltage: ocvcore.RelaxationCurve(fitResult.Params, data.Time),
		Params:        fitResult.Params,
		Circuit:       circuit,
		BranchCurves:  h.curves.BranchCurves(fitResult.Params, data.Time),
	}

	h.workerPool.QueueWebhook(item)
}

// setupCORS sets up CORS headers
func (h *OCVHandler) setupCORS(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// writeError writes an error response
func (h *OCVHandler) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
