package models

import (
	"time"

	"github.com/kacperjurak/ocvcore"
)

// RelaxationData represents an incoming voltage-relaxation transient
type RelaxationData struct {
	Timestamp  string    `json:"timestamp"`
	Time       []float64 `json:"time"`
	Voltage    []float64 `json:"voltage"`
	VCut       float64   `json:"v_cut"`
	ICut       float64   `json:"i_cut"`
	Contribute float64   `json:"contribute,omitempty"`
	SlopeCT    *float64  `json:"slope_ct,omitempty"`
	SlopeD     *float64  `json:"slope_d,omitempty"`
}

// BatchItem represents a single transient with iteration number
type BatchItem struct {
	RelaxationData RelaxationData `json:"relaxation_data"`
	Iteration      int            `json:"iteration"`
}

// RelaxationBatch represents a batch of relaxation transients
type RelaxationBatch struct {
	BatchID    string      `json:"batch_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Transients []BatchItem `json:"transients"`
}

// WorkItem represents a single relaxation-analysis task
type WorkItem struct {
	ID        int
	RequestID string
	BatchID   string
	Iteration int
	Data      RelaxationData
	Config    interface{}
	StartTime time.Time
}

// WorkResult contains the result of relaxation analysis
type WorkResult struct {
	ID             int
	RequestID      string
	BatchID        string
	Iteration      int
	Result         ocvcore.FitResult
	ProcessingTime time.Duration
	Success        bool
	Time           []float64
	Voltage        []float64
	FittedVoltage  []float64
	VCut           float64
	ICut           float64
}

// WebhookItem represents a webhook task
type WebhookItem struct {
	RequestID     string
	ChiSquare     float64
	Time          []float64
	Voltage       []float64
	FittedVoltage []float64
	Params        []float64
	Circuit       ocvcore.CircuitParams
	BranchCurves  []BranchCurve
}

// BranchCurve holds one RC branch's reconstructed voltage contribution
type BranchCurve struct {
	Name    string    `json:"name"`
	Voltage []float64 `json:"voltage"`
}

// WebhookResponse represents the webhook payload structure
type WebhookResponse struct {
	ID            string        `json:"id"`
	Timestamp     string        `json:"time"`
	ChiSquare     float64       `json:"chi_square"`
	Time          []float64     `json:"time_s"`
	Voltage       []float64     `json:"voltage"`
	FittedVoltage []float64     `json:"fitted_voltage"`
	Parameters    []float64     `json:"parameters"`
	OCV           float64       `json:"ocv"`
	IR            float64       `json:"ir"`
	Resistances   []float64     `json:"resistances"`
	Capacitances  []float64     `json:"capacitances"`
	BranchCurves  []BranchCurve `json:"branch_curves"`
}

// TransientTiming tracks performance metrics for individual transient processing
type TransientTiming struct {
	Iteration      int           `json:"iteration"`
	ProcessingTime time.Duration `json:"processing_time_ms"`
	ChiSquare      float64       `json:"chi_square"`
	Success        bool          `json:"success"`
}

// BufferSet contains reusable buffers to reduce allocations
type BufferSet struct {
	Time    []float64
	Voltage []float64
	Fitted  []float64
}
