package ocvcore

import (
	"math"
	"math/rand"
	"time"
)

// RelaxationCurve evaluates the multi-exponential relaxation model for a
// packed parameter vector [ocv, w0, tau0, w1, tau1, ...] over the given
// time samples.
func RelaxationCurve(params []float64, times []float64) []float64 {
	out := make([]float64, len(times))
	for i, t := range times {
		v := params[0]
		for j := 1; j+1 < len(params); j += 2 {
			v += params[j] * math.Exp(-t/params[j+1])
		}
		out[i] = v
	}
	return out
}

// RelaxationCurveNoisy evaluates the model and perturbs it, for test
// fixtures and demo payloads. littleNoise adds 1% bounded noise to every
// sample; on top of that noisyPoints random samples get noiseLevel
// bounded noise.
func RelaxationCurveNoisy(params []float64, times []float64, noisyPoints uint, noiseLevel float64, littleNoise bool) []float64 {
	rnd := rand.New(rand.NewSource(time.Now().Unix()))
	c := RelaxationCurve(params, times)

	if littleNoise {
		for i := range c {
			c[i] = noise(rnd, c[i], 0.01)
		}
	}

	// set random noisy points
	for i := uint(0); i < noisyPoints; i++ {
		index := rnd.Intn(len(c))
		c[index] = noise(rnd, c[index], noiseLevel)
	}

	return c
}

func noise(rnd *rand.Rand, v, nl float64) float64 {
	maxNoise := math.Abs(v) * nl
	vMin := v - maxNoise
	vMax := v + maxNoise
	return rnd.Float64()*(vMax-vMin) + vMin
}
