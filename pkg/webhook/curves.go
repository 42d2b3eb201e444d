package webhook

import (
	"fmt"
	"math"

	"github.com/kacperjurak/ocvcore/logger"
	"github.com/kacperjurak/ocvcore/pkg/models"
)

// CurveBuilder decomposes a fitted parameter vector into per-branch
// relaxation curves for display in the consuming plot service.
type CurveBuilder struct{}

// NewCurveBuilder creates a new curve builder
func NewCurveBuilder() *CurveBuilder {
	return &CurveBuilder{}
}

// BranchCurves evaluates each RC branch's voltage contribution
// w_i*exp(-t/tau_i) over the time samples. Branch names follow the
// dual-RC convention (ct, d) for two circuits and fall back to indexed
// names beyond that.
func (b *CurveBuilder) BranchCurves(params []float64, times []float64) []models.BranchCurve {
	var result []models.BranchCurve

	branch := 0
	for i := 1; i+1 < len(params); i += 2 {
		w, tau := params[i], params[i+1]
		voltage := make([]float64, len(times))
		for j, t := range times {
			voltage[j] = b.sanitize(w*math.Exp(-t/tau), branch, t)
		}
		result = append(result, models.BranchCurve{
			Name:    b.branchName(branch, (len(params)-1)/2),
			Voltage: voltage,
		})
		branch++
	}

	return result
}

func (b *CurveBuilder) branchName(index, total int) string {
	if total == 2 {
		if index == 0 {
			return "ct"
		}
		return "d"
	}
	return fmt.Sprintf("rc%d", index)
}

// sanitize handles NaN and Inf values for JSON compatibility
func (b *CurveBuilder) sanitize(v float64, branch int, t float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		logger.GetLogger().WithComponent("webhook").WithFields(logger.Fields{
			"branch": branch,
			"t":      t,
		}).Warn("invalid branch voltage, setting to 0.0")
		return 0.0
	}
	return v
}
