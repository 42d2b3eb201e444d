package processing

import (
	"fmt"
	"math"
	"time"

	"github.com/kacperjurak/ocvcore"
	"github.com/kacperjurak/ocvcore/logger"
	"github.com/kacperjurak/ocvcore/pkg/config"
	"github.com/kacperjurak/ocvcore/pkg/models"
)

const (
	minFunc       = 1e-9
	maxIterations = 10
)

// RelaxationProcessor runs the closed-form decomposition and, when
// configured, the least-squares refinement on top of it.
type RelaxationProcessor struct{}

// NewRelaxationProcessor creates a new relaxation processor
func NewRelaxationProcessor() *RelaxationProcessor {
	return &RelaxationProcessor{}
}

// Process analyzes one relaxation transient and returns the fit result.
// The returned parameter vector is packed [ocv, w0, tau0, w1, tau1, ...]
// whether it comes from the closed-form estimate or a refinement run.
func (p *RelaxationProcessor) Process(data models.RelaxationData, cfg *config.Config) (ocvcore.FitResult, error) {
	log := logger.GetLogger().WithComponent("processing")

	if len(data.Time) == 0 {
		return ocvcore.FitResult{}, fmt.Errorf("no time data provided")
	}
	if len(data.Voltage) == 0 {
		return ocvcore.FitResult{}, fmt.Errorf("no voltage data provided")
	}
	if len(data.Time) != len(data.Voltage) {
		return ocvcore.FitResult{}, fmt.Errorf("time and voltage data length mismatch: %d vs %d", len(data.Time), len(data.Voltage))
	}
	for i, v := range data.Voltage {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ocvcore.FitResult{}, fmt.Errorf("invalid voltage sample at index %d: %v", i, v)
		}
	}

	contribute := data.Contribute
	if contribute == 0 {
		contribute = cfg.Contribute
	}

	model, err := ocvcore.NewRelaxationModel(data.Time, data.Voltage, data.VCut, data.ICut, contribute,
		ocvcore.Slope{CT: data.SlopeCT, D: data.SlopeD})
	if err != nil {
		return ocvcore.FitResult{}, fmt.Errorf("build relaxation model: %w", err)
	}
	if err := model.EstimateParameters(); err != nil {
		return ocvcore.FitResult{}, fmt.Errorf("estimate parameters: %w", err)
	}

	if !cfg.Refine {
		return closedFormResult(model), nil
	}

	if cfg.OptimMethod == "all" {
		return p.runAllOptimizationMethods(model, data, cfg)
	}
	res := p.runSingleOptimizationMethod(model, data, cfg, cfg.OptimMethod)
	if res.Status != ocvcore.OK {
		// Refinement failed; the closed-form estimate still stands.
		log.WithFields(logger.Fields{"status": res.Status}).Warn("refinement failed, returning closed-form estimate")
		return closedFormResult(model), nil
	}
	return res, nil
}

// closedFormResult packs the model's branch estimates into a FitResult
// so both analysis paths share one output shape.
func closedFormResult(m *ocvcore.RelaxationModel) ocvcore.FitResult {
	params := []float64{m.OCV, m.VCT0, m.TauCT[0], m.VD0, m.TauD[0]}
	reconstructed, err := m.OCVRelaxFunc()
	if err != nil {
		return ocvcore.FitResult{Status: "ERROR", Min: math.Inf(1), Params: []float64{}}
	}
	return ocvcore.FitResult{
		Params:  params,
		Min:     ocvcore.WeightedChiSq(m.Voltage(), reconstructed, nil),
		MinUnit: "ChiSq",
		Status:  ocvcore.OK,
		Payload: map[string]interface{}{"method": "closed-form"},
	}
}

func (p *RelaxationProcessor) runSingleOptimizationMethod(model *ocvcore.RelaxationModel, data models.RelaxationData, cfg *config.Config, method string) ocvcore.FitResult {
	log := logger.GetLogger().WithComponent("processing")

	fitter := ocvcore.NewFitter(cfg.Circuits, data.Time, data.Voltage)

	// Use provided InitValues or seed from the closed-form estimate
	if len(cfg.InitValues) > 0 {
		fitter.InitValues = []float64(cfg.InitValues)
	} else if cfg.Circuits == 2 {
		if err := fitter.SeedFromModel(model); err != nil {
			log.WithError(err).Warn("seeding from model failed, falling back to decade taus")
		}
	}

	if cfg.Weighted {
		fitter.SetPowerLawWeights(1, -2, 1)
	}

	switch method {
	case "nelder-mead":
		fitter.SmartMode = "nm"
	case "levenberg-marquardt", "lm":
		fitter.SmartMode = "lm"
	case "gradient-descent", "gd":
		fitter.SmartMode = "gd"
	case "lbfgs":
		fitter.SmartMode = "lbfgs"
	case "newton":
		fitter.SmartMode = "newton"
	default:
		log.WithFields(logger.Fields{"method": method}).Warn("unknown optimization method, using Nelder-Mead")
		fitter.SmartMode = "nm"
	}

	startTime := time.Now()
	res := fitter.Solve(minFunc, maxIterations)
	duration := time.Since(startTime)

	if res.Status == "ERROR" {
		log.WithFields(logger.Fields{"method": method, "status": res.Status}).Error("relaxation fit failed")
	} else if !cfg.Quiet {
		log.WithFields(logger.Fields{
			"method":   method,
			"chi_sq":   res.Min,
			"params":   res.Params,
			"duration": duration,
		}).Info("relaxation fit completed")
	}

	return res
}

func (p *RelaxationProcessor) runAllOptimizationMethods(model *ocvcore.RelaxationModel, data models.RelaxationData, cfg *config.Config) (ocvcore.FitResult, error) {
	log := logger.GetLogger().WithComponent("processing")

	methods := []string{"nelder-mead", "levenberg-marquardt", "gradient-descent", "lbfgs", "newton"}
	var bestResult ocvcore.FitResult
	bestChiSq := math.Inf(1)

	for _, method := range methods {
		result := p.runSingleOptimizationMethod(model, data, cfg, method)

		if result.Status != "ERROR" && result.Min < bestChiSq {
			bestResult = result
			bestChiSq = result.Min
			log.WithFields(logger.Fields{"method": method, "chi_sq": result.Min}).Debug("new best method")
		}
	}

	if bestResult.Status == "" {
		log.Error("all optimization methods failed")
		return ocvcore.FitResult{
			Status: "ERROR",
			Min:    math.Inf(1),
			Params: []float64{},
		}, fmt.Errorf("all optimization methods failed")
	}

	return bestResult, nil
}

// ProcessorFunc creates a function compatible with the worker pool
func (p *RelaxationProcessor) ProcessorFunc() func(data models.RelaxationData, config *config.Config) interface{} {
	return func(data models.RelaxationData, config *config.Config) interface{} {
		result, err := p.Process(data, config)
		if err != nil {
			logger.GetLogger().WithComponent("processing").WithError(err).Error("relaxation processing error")
			return ocvcore.FitResult{
				Status: "ERROR",
				Min:    math.Inf(1),
				Params: []float64{},
			}
		}
		return result
	}
}
