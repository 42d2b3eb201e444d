package ocvcore

import (
	"math"

	"github.com/maorshutman/lm"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/kacperjurak/ocvcore/logger"
)

type Weighting int

const (
	UNITY Weighting = iota
	POWERLAW
)

// FitResult holds the outcome of one fit run.
type FitResult struct {
	Min      float64
	Params   []float64
	Status   string
	Solved   bool
	Iters    int
	FuncEval int
	MinUnit  string
	Payload  interface{}
	Runtime  float64
}

// Status constants for FitResult.Status
const (
	OK = "OK"
)

// Fitter refines a relaxation decomposition by least squares. The model
// is v(t) = ocv + sum over circuits of w_i*exp(-t/tau_i); parameters
// are packed as [ocv, w0, tau0, w1, tau1, ...]. Seed it from a
// RelaxationModel's closed-form estimate or let it pick decade-spaced
// time constants.
type Fitter struct {
	Circuits   int
	Time       []float64
	Voltage    []float64
	InitValues []float64
	SmartMode  string
	Weighting  Weighting

	weights []float64
}

func NewFitter(circuits int, time, voltage []float64) *Fitter {
	if circuits < 1 {
		circuits = 1
	}
	return &Fitter{
		Circuits:   circuits,
		Time:       time,
		Voltage:    voltage,
		InitValues: make([]float64, 0),
		SmartMode:  "",
		Weighting:  UNITY,
	}
}

// SeedFromModel takes the closed-form branch estimates as the starting
// point: [OCV, VCT0, tauCT, VD0, tauD]. The model must be estimated.
func (f *Fitter) SeedFromModel(m *RelaxationModel) error {
	if !m.Estimated() {
		return &StateError{Op: "SeedFromModel"}
	}
	f.Circuits = 2
	f.InitValues = []float64{m.OCV, m.VCT0, m.TauCT[0], m.VD0, m.TauD[0]}
	return nil
}

// SetPowerLawWeights emphasizes the early, fast-changing part of the
// transient: weight_i = prefactor*(t_i+1)^power + zeroLevel.
func (f *Fitter) SetPowerLawWeights(prefactor, power, zeroLevel float64) {
	f.Weighting = POWERLAW
	f.weights = make([]float64, len(f.Time))
	for i, t := range f.Time {
		f.weights[i] = prefactor*math.Pow(t+1, power) + zeroLevel
	}
}

// ResetWeights switches back to unity weighting.
func (f *Fitter) ResetWeights() {
	f.Weighting = UNITY
	f.weights = nil
}

func (f *Fitter) problem(x []float64) float64 {
	calculated := RelaxationCurve(x, f.Time)
	return WeightedChiSq(f.Voltage, calculated, f.effectiveWeights())
}

func (f *Fitter) effectiveWeights() []float64 {
	if f.Weighting == POWERLAW {
		return f.weights
	}
	return nil
}

func (f *Fitter) Solve(minFunc float64, maxIterations int) FitResult {
	switch f.SmartMode {
	case "lm":
		return f.lmSolve(minFunc, maxIterations)
	case "gd":
		return f.baseGDSolve()
	case "lbfgs":
		return f.baseLBFGSSolve()
	case "newton":
		return f.baseNewtonSolve()
	}
	return f.nmSolve(minFunc, maxIterations)
}

// How Simplex works http://195.134.76.37/applets/AppletSimplex/Appl_Simplex2.html
func (f *Fitter) baseNMSolve() FitResult {
	log := logger.GetLogger().WithComponent("fitter")
	log.Debug("base NM solve mode")

	if len(f.InitValues) == 0 {
		log.Error("no initial values provided for optimization")
		return FitResult{
			Params:  []float64{},
			Min:     math.Inf(1),
			MinUnit: "ChiSq",
			Status:  "ERROR",
		}
	}

	problem := optimize.Problem{
		Func: f.problem,
	}

	settings := &optimize.Settings{
		Concurrent: 10000,
	}

	res, err := optimize.Minimize(problem, f.InitValues, settings, &optimize.NelderMead{})
	if err != nil {
		log.WithError(err).Error("Nelder-Mead optimization failed")
		return FitResult{
			Params:  []float64{},
			Min:     math.Inf(1),
			MinUnit: "ChiSq",
			Status:  "ERROR",
		}
	}

	payload := map[string]interface{}{
		"majorIterations": res.MajorIterations,
		"funcEvaluations": res.FuncEvaluations,
	}

	return FitResult{
		Params:  res.X,
		Min:     res.F,
		MinUnit: "ChiSq",
		Payload: payload,
		Runtime: float64(res.Runtime / 1000),
		Status:  OK,
	}
}

func (f *Fitter) baseLMSolve() FitResult {
	log := logger.GetLogger().WithComponent("fitter")
	log.Debug("base LM solve mode")

	weights := f.effectiveWeights()
	fnc := func(dst, x []float64) {
		calculated := RelaxationCurve(x, f.Time)
		if len(calculated) != len(f.Voltage) {
			panic("fitter: slice length mismatch")
		}
		for i, o := range f.Voltage {
			d2 := math.Pow(o-calculated[i], 2)
			if weights != nil {
				d2 *= weights[i]
			}
			dst[i] = d2
		}
	}

	jac := lm.NumJac{Func: fnc}

	problem := lm.LMProblem{
		Dim:        len(f.InitValues),
		Size:       len(f.Voltage),
		Func:       fnc,
		Jac:        jac.Jac,
		InitParams: f.InitValues,
		Tau:        1e-13,
		Eps1:       1e-8,
		Eps2:       1e-8,
	}

	// Recover from LM panics (e.g., singular matrix)
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logger.Fields{"panic": r}).Error("LM optimization panicked")
		}
	}()

	res, err := lm.LM(problem, &lm.Settings{Iterations: 1000000, ObjectiveTol: 1e-16})
	if err != nil {
		log.WithError(err).Error("LM optimization failed")
		return FitResult{
			Params:  []float64{},
			Min:     math.Inf(1),
			MinUnit: "ChiSq",
			Status:  "ERROR",
		}
	}

	return FitResult{
		Params:  res.X,
		Min:     WeightedChiSq(f.Voltage, RelaxationCurve(res.X, f.Time), weights),
		MinUnit: "ChiSq",
		Status:  OK,
	}
}

func (f *Fitter) baseGDSolve() FitResult {
	log := logger.GetLogger().WithComponent("fitter")
	log.Debug("base GD solve mode")
	// https://sbinet.github.io/posts/2017-10-09-intro-to-minimization/
	grad := func(grad, x []float64) {
		fd.Gradient(grad, f.problem, x, &fd.Settings{})
	}

	hess := func(h *mat.SymDense, x []float64) {
		fd.Hessian(h, f.problem, x, nil)
	}

	status := func() (optimize.Status, error) {
		return 0, nil
	}

	problem := optimize.Problem{
		Func:   f.problem,
		Grad:   grad,
		Hess:   hess,
		Status: status,
	}

	settings := &optimize.Settings{
		Concurrent: 10000,
	}

	res, err := optimize.Minimize(problem, f.InitValues, settings, &optimize.GradientDescent{})
	if err != nil {
		log.WithError(err).Error("gradient-descent optimization failed")
		return FitResult{Min: math.Inf(1), Status: "ERROR"}
	}

	payload := map[string]interface{}{
		"majorIterations": res.MajorIterations,
		"funcEvaluations": res.FuncEvaluations,
	}

	return FitResult{
		Params:  res.X,
		Min:     res.F,
		MinUnit: "ChiSq",
		Runtime: float64(res.Runtime / 1000),
		Status:  OK,
		Payload: payload,
	}
}

func (f *Fitter) baseLBFGSSolve() FitResult {
	log := logger.GetLogger().WithComponent("fitter")
	log.Debug("base LBFGS solve mode")
	grad := func(grad, x []float64) {
		fd.Gradient(grad, f.problem, x, &fd.Settings{})
	}

	status := func() (optimize.Status, error) {
		return 0, nil
	}

	problem := optimize.Problem{
		Func:   f.problem,
		Grad:   grad,
		Status: status,
	}

	settings := &optimize.Settings{
		Concurrent: 10000,
	}

	res, err := optimize.Minimize(problem, f.InitValues, settings, &optimize.LBFGS{})
	if err != nil {
		log.WithError(err).Error("LBFGS optimization failed")
		return FitResult{Min: math.Inf(1), Status: "ERROR"}
	}

	payload := map[string]interface{}{
		"majorIterations": res.MajorIterations,
		"funcEvaluations": res.FuncEvaluations,
	}

	return FitResult{
		Params:  res.X,
		Min:     res.F,
		MinUnit: "ChiSq",
		Runtime: float64(res.Runtime / 1000),
		Status:  OK,
		Payload: payload,
	}
}

func (f *Fitter) baseNewtonSolve() FitResult {
	log := logger.GetLogger().WithComponent("fitter")
	log.Debug("base Newton solve mode")
	grad := func(grad, x []float64) {
		fd.Gradient(grad, f.problem, x, &fd.Settings{})
	}

	hess := func(h *mat.SymDense, x []float64) {
		fd.Hessian(h, f.problem, x, nil)
	}

	status := func() (optimize.Status, error) {
		return 0, nil
	}

	problem := optimize.Problem{
		Func:   f.problem,
		Grad:   grad,
		Hess:   hess,
		Status: status,
	}

	settings := &optimize.Settings{
		Concurrent: 10000,
	}

	res, err := optimize.Minimize(problem, f.InitValues, settings, &optimize.Newton{})
	if err != nil {
		log.WithError(err).Error("Newton optimization failed")
		return FitResult{Min: math.Inf(1), Status: "ERROR"}
	}

	payload := map[string]interface{}{
		"majorIterations": res.MajorIterations,
		"funcEvaluations": res.FuncEvaluations,
	}

	return FitResult{
		Params:  res.X,
		Min:     res.F,
		MinUnit: "ChiSq",
		Runtime: float64(res.Runtime / 1000),
		Status:  OK,
		Payload: payload,
	}
}

// nmSolve runs Nelder-Mead repeatedly, perturbing the parameters between
// runs, until the objective drops below minFunc or maxIterations runs
// are exhausted. The best result across runs wins.
func (f *Fitter) nmSolve(minFunc float64, maxIterations int) FitResult {
	log := logger.GetLogger().WithComponent("fitter")
	log.Debug("NM solve mode")

	if len(f.InitValues) == 0 {
		f.InitValues = f.findInitValues()
	}

	bestRes := FitResult{Min: math.Inf(1)}
	primaryValues := append([]float64(nil), f.InitValues...)
	iterations := 0

	for iterations < maxIterations {
		res := f.baseNMSolve()

		if res.Min < bestRes.Min {
			bestRes = res
		}

		log.WithFields(logger.Fields{"iter": iterations, "min": res.Min, "best": bestRes.Min}).Debug("NM iteration")

		if res.Min < minFunc {
			break
		}
		f.InitValues = perturbParams(append([]float64(nil), res.Params...), primaryValues)
		iterations++
	}

	return bestRes
}

func (f *Fitter) lmSolve(minFunc float64, maxIterations int) FitResult {
	log := logger.GetLogger().WithComponent("fitter")
	log.Debug("LM solve mode")

	if len(f.InitValues) == 0 {
		f.InitValues = f.findInitValues()
	}

	bestRes := FitResult{Min: math.Inf(1)}
	primaryValues := append([]float64(nil), f.InitValues...)
	iterations := 0

	for iterations < maxIterations {
		res := f.baseLMSolve()

		if res.Min < bestRes.Min {
			bestRes = res
		}

		log.WithFields(logger.Fields{"iter": iterations, "min": res.Min, "best": bestRes.Min}).Debug("LM iteration")

		if res.Min < minFunc {
			break
		}
		f.InitValues = perturbParams(append([]float64(nil), res.Params...), primaryValues)
		iterations++
	}
	return bestRes
}

// findInitValues seeds the fit the way the closed-form model would if no
// estimate is available: ocv from the last sample, zero branch weights,
// decade-spaced time constants.
func (f *Fitter) findInitValues() []float64 {
	initValues := []float64{f.Voltage[len(f.Voltage)-1]}
	for i := 0; i < f.Circuits; i++ {
		initValues = append(initValues, 0)
		initValues = append(initValues, math.Pow(10, float64(i)))
	}
	return initValues
}

// perturbParams nudges a converged-but-not-good-enough parameter set
// before a retry. Non-positive time constants are reset to their primary
// values; the rest get a 10% push to escape the previous simplex.
func perturbParams(values []float64, primaryValues []float64) []float64 {
	for i, n := range values {
		isTau := i > 0 && i%2 == 0
		if isTau && n <= 0 {
			values[i] = primaryValues[i]
			continue
		}
		values[i] = n * 1.1
	}
	return values
}

// WeightedChiSq is the fit objective: the (optionally weighted) sum of
// squared residuals normalized by the number of samples. A nil weights
// slice means unity weighting.
func WeightedChiSq(observed, calculated, weights []float64) float64 {
	if len(observed) != len(calculated) {
		panic("fitter chiSq: slice length mismatch")
	}
	chiSq := 0.0
	for i, o := range observed {
		d2 := math.Pow(o-calculated[i], 2)
		if weights != nil {
			d2 *= weights[i]
		}
		chiSq += d2
	}
	// Normalize by number of data points
	return chiSq / float64(len(observed))
}

// CircuitParams are fitted parameters translated back to physical units
// using the cutoff boundary conditions.
type CircuitParams struct {
	OCV float64
	IR  float64
	R   []float64
	C   []float64
}

// TranslateParams converts a packed parameter vector into resistances
// and capacitances: r_i = w_i/iCut, c_i = tau_i/r_i, and the ohmic
// resistance from the reconstructed t=0 voltage against vCut.
func TranslateParams(params []float64, vCut, iCut float64) (CircuitParams, error) {
	if iCut == 0 {
		return CircuitParams{}, &DomainError{Op: "TranslateParams iCut", Arg: iCut}
	}
	if len(params) < 3 || len(params)%2 == 0 {
		return CircuitParams{}, &ShapeError{TimeLen: len(params), VoltageLen: len(params)}
	}

	out := CircuitParams{OCV: params[0]}
	weightSum := 0.0
	for i := 1; i+1 < len(params); i += 2 {
		w, tau := params[i], params[i+1]
		weightSum += w
		r := w / iCut
		c := 0.0
		if r != 0 {
			c = tau / r
		}
		out.R = append(out.R, r)
		out.C = append(out.C, c)
	}
	out.IR = -((params[0] + weightSum) - vCut) / iCut
	return out, nil
}

func (f *Fitter) Clone() *Fitter {
	newF := *f
	newF.Time = make([]float64, len(f.Time))
	copy(newF.Time, f.Time)

	newF.Voltage = make([]float64, len(f.Voltage))
	copy(newF.Voltage, f.Voltage)

	newF.InitValues = make([]float64, len(f.InitValues))
	copy(newF.InitValues, f.InitValues)

	if f.weights != nil {
		newF.weights = make([]float64, len(f.weights))
		copy(newF.weights, f.weights)
	}

	return &newF
}
