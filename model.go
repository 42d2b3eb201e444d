package ocvcore

import (
	"fmt"
	"math"
)

// Slope holds optional time-constant drift overrides per RC branch.
// A nil field means the branch uses a fixed time constant. A set field
// turns the branch's time constant into a linear-in-time value
// (slope*t + tau) during estimation, and adds a fixed envelope offset
// during reconstruction.
type Slope struct {
	CT *float64
	D  *float64
}

// ShapeError reports time/voltage input sequences the model cannot accept.
type ShapeError struct {
	TimeLen    int
	VoltageLen int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("ocvcore: bad input shape: time has %d samples, voltage has %d (need equal lengths, at least 2)", e.TimeLen, e.VoltageLen)
}

// DomainError reports a division or logarithm that received an argument
// outside its numeric domain. Surfaced instead of letting Inf/NaN
// propagate silently through the derived parameters.
type DomainError struct {
	Op  string
	Arg float64
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("ocvcore: numeric domain error in %s: argument %v", e.Op, e.Arg)
}

// StateError reports an operation invoked before the model state it
// reads has been populated.
type StateError struct {
	Op string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("ocvcore: %s called before EstimateParameters", e.Op)
}

// RelaxationModel decomposes an observed voltage-relaxation transient
// after current interruption into an ohmic (IR) step, a charge-transfer
// RC branch and a diffusion RC branch. All parameters are estimated with
// closed-form heuristics, no iterative optimization; use Fitter to
// refine them afterwards.
//
// Contribute is the fraction of the total relaxation voltage attributed
// to the charge-transfer branch; 1-Contribute goes to diffusion. Values
// outside [0,1] are not rejected and propagate into physically
// meaningless branch voltages. Slope signs are likewise the caller's
// responsibility.
type RelaxationModel struct {
	time    []float64
	voltage []float64

	vCut       float64
	iCut       float64
	contribute float64
	slope      Slope

	// derived on construction
	OCV  float64 // steady-state voltage, last observed sample
	V0   float64 // voltage right after the IR step, first observed sample
	VRlx float64 // total relaxation span, V0 - OCV
	VIR  float64 // magnitude of the instantaneous ohmic drop
	RIR  float64 // ohmic resistance, VIR / iCut

	// populated by EstimateParameters
	VCT, VD   float64   // per-branch relaxation voltage
	RCT, RD   float64   // per-branch resistance
	VCT0, VD0 float64   // per-branch initial voltage (series divider)
	TauCT     []float64 // charge-transfer time constant, len 1 unless drifted
	TauD      []float64 // diffusion time constant, len 1 unless drifted
	CCT, CD   []float64 // per-branch capacitance, tau/r

	estimated bool
}

// NewRelaxationModel builds a model from an observed transient and its
// boundary conditions. time and voltage must be equal-length with at
// least two samples; time[0] is the interruption instant. vCut is the
// voltage right before interruption (before the IR step), iCut the
// current flowing right before interruption; iCut must be non-zero as
// it divides every resistance.
func NewRelaxationModel(time, voltage []float64, vCut, iCut, contribute float64, slope Slope) (*RelaxationModel, error) {
	if len(time) != len(voltage) || len(time) < 2 {
		return nil, &ShapeError{TimeLen: len(time), VoltageLen: len(voltage)}
	}
	if iCut == 0 {
		return nil, &DomainError{Op: "RIR = VIR / iCut", Arg: iCut}
	}

	m := &RelaxationModel{
		time:       append([]float64(nil), time...),
		voltage:    append([]float64(nil), voltage...),
		vCut:       vCut,
		iCut:       iCut,
		contribute: contribute,
		slope:      slope,
	}

	m.OCV = m.voltage[len(m.voltage)-1]
	m.V0 = m.voltage[0]
	m.VRlx = m.V0 - m.OCV
	m.VIR = math.Abs(m.vCut - m.V0)
	m.RIR = m.VIR / m.iCut

	return m, nil
}

// Time returns the model's time samples.
func (m *RelaxationModel) Time() []float64 {
	return m.time
}

// Voltage returns the observed voltage samples.
func (m *RelaxationModel) Voltage() []float64 {
	return m.voltage
}

// Estimated reports whether EstimateParameters has populated the branch
// parameters.
func (m *RelaxationModel) Estimated() bool {
	return m.estimated
}

// EstimateParameters populates the branch parameters from the derived
// quantities. Closed-form throughout:
//
//	VCT  = VRlx * contribute        VD  = VRlx * (1 - contribute)
//	RCT  = VCT / iCut               RD  = VD / iCut
//	VCT0 = V0 * RCT / (RCT + RD)    VD0 = V0 * RD / (RCT + RD)
//	tau  = |t_last / ln(v0_branch / v_branch)|
//	C    = tau / R
//
// Re-running overwrites the previous estimate. A branch voltage ratio
// that is not strictly positive makes the logarithm fail with a
// DomainError; nothing is recovered internally.
func (m *RelaxationModel) EstimateParameters() error {
	m.VCT = m.VRlx * m.contribute
	m.VD = m.VRlx * (1 - m.contribute)
	m.RCT = m.VCT / m.iCut
	m.RD = m.VD / m.iCut

	rSum := m.RCT + m.RD
	if rSum == 0 {
		return &DomainError{Op: "series divider RCT + RD", Arg: rSum}
	}
	m.VCT0 = m.V0 * (m.RCT / rSum)
	m.VD0 = m.V0 * (m.RD / rSum)

	tauCT, err := m.estimateTimeConstant(m.VCT0, m.VCT, m.slope.CT)
	if err != nil {
		return err
	}
	tauD, err := m.estimateTimeConstant(m.VD0, m.VD, m.slope.D)
	if err != nil {
		return err
	}

	m.TauCT = tauCT
	m.TauD = tauD
	m.CCT = scaleSeq(tauCT, 1/m.RCT)
	m.CD = scaleSeq(tauD, 1/m.RD)

	m.estimated = true
	return nil
}

// estimateTimeConstant derives a branch time constant from the ratio of
// its initial voltage to its terminal relaxation voltage, using the
// exponential decay relation v(t) = v0*exp(-t/tau) at the last sample.
// With a slope override the constant becomes linear in time and a full
// sequence is returned; otherwise the result has length 1.
func (m *RelaxationModel) estimateTimeConstant(vRC0, vRCLast float64, slope *float64) ([]float64, error) {
	ratio := vRC0 / vRCLast
	if math.IsNaN(ratio) || ratio <= 0 {
		return nil, &DomainError{Op: "ln(v0/v_last)", Arg: ratio}
	}
	tau := math.Abs(m.time[len(m.time)-1] / math.Log(ratio))
	if slope == nil {
		return []float64{tau}, nil
	}
	out := make([]float64, len(m.time))
	for i, t := range m.time {
		out[i] = *slope*t + tau
	}
	return out, nil
}

// timeConstantFromRC is the reconstruction-side counterpart of
// estimateTimeConstant: the time constant is literally r*c, optionally
// drifted by slope*t. Kept as a separate entry point so no call site
// has to disambiguate by which arguments are absent.
func (m *RelaxationModel) timeConstantFromRC(r float64, c []float64, slope *float64) []float64 {
	if slope == nil && len(c) == 1 {
		return []float64{r * c[0]}
	}
	out := make([]float64, len(m.time))
	for i, t := range m.time {
		ci := c[0]
		if len(c) > 1 {
			ci = c[i]
		}
		out[i] = r * ci
		if slope != nil {
			out[i] += *slope * t
		}
	}
	return out
}

// RelaxationRC reconstructs one branch's modeled voltage over the full
// time sequence: v0*(modify + exp(-t/tau)). With a slope override the
// envelope gains a fixed offset -V0*exp(-1/slope) computed from the
// global post-IR voltage, not the branch's own v0.
func (m *RelaxationModel) RelaxationRC(v0, r float64, c []float64, slope *float64) []float64 {
	modify := 0.0
	if slope != nil {
		modify = -m.V0 * math.Exp(-1 / *slope)
	}
	tau := m.timeConstantFromRC(r, c, slope)
	out := make([]float64, len(m.time))
	for i, t := range m.time {
		ti := tau[0]
		if len(tau) > 1 {
			ti = tau[i]
		}
		out[i] = v0 * (modify + math.Exp(-t/ti))
	}
	return out
}

// OCVRelaxFunc reconstructs the full modeled relaxation curve,
// voltage_d + voltage_ct + OCV, aligned elementwise with the input time
// sequence. Fails with a StateError if the branch parameters have not
// been estimated yet.
func (m *RelaxationModel) OCVRelaxFunc() ([]float64, error) {
	if !m.estimated {
		return nil, &StateError{Op: "OCVRelaxFunc"}
	}
	voltageD := m.RelaxationRC(m.VD0, m.RD, m.CD, m.slope.D)
	voltageCT := m.RelaxationRC(m.VCT0, m.RCT, m.CCT, m.slope.CT)

	out := make([]float64, len(m.time))
	for i := range out {
		out[i] = voltageD[i] + voltageCT[i] + m.OCV
	}
	return out, nil
}

func scaleSeq(seq []float64, factor float64) []float64 {
	out := make([]float64, len(seq))
	for i, v := range seq {
		out[i] = v * factor
	}
	return out
}
