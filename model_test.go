package ocvcore

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRelaxationModel(t *testing.T) {
	t.Run("derives boundary quantities on construction", func(t *testing.T) {
		m, err := NewRelaxationModel(
			[]float64{0, 10, 20},
			[]float64{1.0, 0.8, 0.6},
			1.2, 0.5, 0.5, Slope{})
		require.NoError(t, err)

		assert.Equal(t, 0.6, m.OCV)
		assert.Equal(t, 1.0, m.V0)
		assert.InDelta(t, 0.4, m.VRlx, 1e-12)
		assert.InDelta(t, 0.2, m.VIR, 1e-12)
		assert.InDelta(t, 0.4, m.RIR, 1e-12)
		assert.False(t, m.Estimated())
	})

	t.Run("copies input slices", func(t *testing.T) {
		tm := []float64{0, 1, 2}
		v := []float64{1.0, 0.9, 0.8}
		m, err := NewRelaxationModel(tm, v, 1.1, 1.0, 0.2, Slope{})
		require.NoError(t, err)

		v[0] = 42
		tm[2] = 42
		assert.Equal(t, 1.0, m.Voltage()[0])
		assert.Equal(t, 2.0, m.Time()[2])
	})

	t.Run("rejects mismatched lengths", func(t *testing.T) {
		_, err := NewRelaxationModel([]float64{0, 1, 2}, []float64{1.0, 0.9}, 1.1, 1.0, 0.2, Slope{})
		var shapeErr *ShapeError
		require.ErrorAs(t, err, &shapeErr)
		assert.Equal(t, 3, shapeErr.TimeLen)
		assert.Equal(t, 2, shapeErr.VoltageLen)
	})

	t.Run("rejects fewer than two samples", func(t *testing.T) {
		_, err := NewRelaxationModel([]float64{0}, []float64{1.0}, 1.1, 1.0, 0.2, Slope{})
		var shapeErr *ShapeError
		assert.ErrorAs(t, err, &shapeErr)
	})

	t.Run("rejects zero cutoff current", func(t *testing.T) {
		_, err := NewRelaxationModel([]float64{0, 1}, []float64{1.0, 0.9}, 1.1, 0, 0.2, Slope{})
		var domainErr *DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, 0.0, domainErr.Arg)
	})
}

func TestEstimateParameters(t *testing.T) {
	newModel := func(t *testing.T, contribute float64, slope Slope) *RelaxationModel {
		t.Helper()
		m, err := NewRelaxationModel(
			[]float64{0, 10, 20},
			[]float64{1.0, 0.8, 0.6},
			1.2, 0.5, contribute, slope)
		require.NoError(t, err)
		return m
	}

	t.Run("splits relaxation between branches", func(t *testing.T) {
		m := newModel(t, 0.5, Slope{})
		require.NoError(t, m.EstimateParameters())

		assert.InDelta(t, 0.2, m.VCT, 1e-12)
		assert.InDelta(t, 0.2, m.VD, 1e-12)
		assert.InDelta(t, m.VRlx, m.VCT+m.VD, 1e-12)
		assert.InDelta(t, 0.4, m.RCT, 1e-12)
		assert.InDelta(t, 0.4, m.RD, 1e-12)
		assert.True(t, m.Estimated())
	})

	t.Run("series divider splits initial voltage", func(t *testing.T) {
		m := newModel(t, 0.5, Slope{})
		require.NoError(t, m.EstimateParameters())

		assert.InDelta(t, 0.5, m.VCT0, 1e-12)
		assert.InDelta(t, 0.5, m.VD0, 1e-12)
		assert.InDelta(t, m.V0, m.VCT0+m.VD0, 1e-12)
	})

	t.Run("asymmetric contribute", func(t *testing.T) {
		m := newModel(t, 0.25, Slope{})
		require.NoError(t, m.EstimateParameters())

		assert.InDelta(t, 0.1, m.VCT, 1e-12)
		assert.InDelta(t, 0.3, m.VD, 1e-12)
		assert.InDelta(t, m.V0, m.VCT0+m.VD0, 1e-12)
		// divider ratio equals the contribute split
		assert.InDelta(t, 0.25, m.VCT0/m.V0, 1e-12)
	})

	t.Run("exponential decay time constant", func(t *testing.T) {
		m := newModel(t, 0.5, Slope{})
		require.NoError(t, m.EstimateParameters())

		wantTau := math.Abs(20 / math.Log(0.5/0.2))
		require.Len(t, m.TauCT, 1)
		require.Len(t, m.TauD, 1)
		assert.InDelta(t, wantTau, m.TauCT[0], 1e-12)
		assert.InDelta(t, wantTau, m.TauD[0], 1e-12)
		assert.InDelta(t, wantTau/0.4, m.CCT[0], 1e-12)
		assert.InDelta(t, wantTau/0.4, m.CD[0], 1e-12)
	})

	t.Run("slope turns tau into a sequence", func(t *testing.T) {
		slope := 0.1
		m := newModel(t, 0.5, Slope{CT: &slope})
		require.NoError(t, m.EstimateParameters())

		baseTau := math.Abs(20 / math.Log(0.5/0.2))
		require.Len(t, m.TauCT, 3)
		assert.InDelta(t, baseTau, m.TauCT[0], 1e-12)
		assert.InDelta(t, slope*10+baseTau, m.TauCT[1], 1e-12)
		assert.InDelta(t, slope*20+baseTau, m.TauCT[2], 1e-12)
		// undrifted branch stays scalar
		require.Len(t, m.TauD, 1)
	})

	t.Run("zero contribute fails the logarithm", func(t *testing.T) {
		m := newModel(t, 0, Slope{})
		var domainErr *DomainError
		require.ErrorAs(t, m.EstimateParameters(), &domainErr)
		assert.False(t, m.Estimated())
	})

	t.Run("flat transient fails the series divider", func(t *testing.T) {
		m, err := NewRelaxationModel([]float64{0, 1}, []float64{1.0, 1.0}, 1.1, 1.0, 0.5, Slope{})
		require.NoError(t, err)
		var domainErr *DomainError
		assert.ErrorAs(t, m.EstimateParameters(), &domainErr)
	})
}

func TestRelaxationRC(t *testing.T) {
	m, err := NewRelaxationModel(
		[]float64{0, 10, 20},
		[]float64{1.0, 0.8, 0.6},
		1.2, 0.5, 0.5, Slope{})
	require.NoError(t, err)
	require.NoError(t, m.EstimateParameters())

	t.Run("branch curve hits its endpoints", func(t *testing.T) {
		curve := m.RelaxationRC(m.VCT0, m.RCT, m.CCT, nil)
		require.Len(t, curve, 3)
		assert.InDelta(t, m.VCT0, curve[0], 1e-12)
		assert.InDelta(t, m.VCT, curve[2], 1e-12)
	})

	t.Run("slope adds a fixed envelope offset", func(t *testing.T) {
		slope := 2.0
		plain := m.RelaxationRC(m.VCT0, m.RCT, m.CCT, nil)
		drifted := m.RelaxationRC(m.VCT0, m.RCT, m.CCT, &slope)

		modify := -m.V0 * math.Exp(-1/slope)
		// at t=0 the drift has not changed tau yet, only the offset applies
		assert.InDelta(t, plain[0]+m.VCT0*modify, drifted[0], 1e-12)
	})
}

func TestOCVRelaxFunc(t *testing.T) {
	t.Run("fails before estimation", func(t *testing.T) {
		m, err := NewRelaxationModel([]float64{0, 1}, []float64{1.0, 0.9}, 1.1, 1.0, 0.2, Slope{})
		require.NoError(t, err)

		_, err = m.OCVRelaxFunc()
		var stateErr *StateError
		require.ErrorAs(t, err, &stateErr)
		assert.Contains(t, stateErr.Error(), "OCVRelaxFunc")
	})

	t.Run("sums branch curves and OCV", func(t *testing.T) {
		m, err := NewRelaxationModel(
			[]float64{0, 10, 20},
			[]float64{1.0, 0.8, 0.6},
			1.2, 0.5, 0.5, Slope{})
		require.NoError(t, err)
		require.NoError(t, m.EstimateParameters())

		curve, err := m.OCVRelaxFunc()
		require.NoError(t, err)
		require.Len(t, curve, 3)

		ct := m.RelaxationRC(m.VCT0, m.RCT, m.CCT, nil)
		d := m.RelaxationRC(m.VD0, m.RD, m.CD, nil)
		for i := range curve {
			assert.InDelta(t, ct[i]+d[i]+m.OCV, curve[i], 1e-12)
		}
		// terminal value settles at OCV plus the residual branch amplitudes
		assert.InDelta(t, m.OCV+m.VCT+m.VD, curve[2], 1e-12)
	})
}

func TestErrorMessages(t *testing.T) {
	assert.Contains(t, (&ShapeError{TimeLen: 3, VoltageLen: 2}).Error(), "3")
	assert.Contains(t, (&DomainError{Op: "ln", Arg: -1}).Error(), "ln")
	assert.Contains(t, (&StateError{Op: "X"}).Error(), "EstimateParameters")
}
