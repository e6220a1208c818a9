package glauber

import (
	"errors"
	"math"
	"testing"

	"github.com/rewired-gh/glaubernbd/internal/histogram"
	"github.com/rewired-gh/glaubernbd/internal/nbd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threePointSample() Sample {
	return Sample{
		{Npart: 10, Ncoll: 5, Weight: 100},
		{Npart: 20, Ncoll: 15, Weight: 50},
		{Npart: 30, Ncoll: 25, Weight: 10},
	}
}

// countingBuilder wraps HistogramBuilder and counts Build calls.
type countingBuilder struct {
	calls int
	fs    []float64
}

func (b *countingBuilder) Build(sample Sample, f float64, mode Mode) (*histogram.H1D, error) {
	b.calls++
	b.fs = append(b.fs, f)
	return HistogramBuilder{}.Build(sample, f, mode)
}

func TestBuilderNormalizes(t *testing.T) {
	for _, mode := range []Mode{Truncate, Round, Continuous} {
		for _, f := range []float64{0, 0.25, 0.8, 1} {
			h, err := HistogramBuilder{}.Build(threePointSample(), f, mode)
			require.NoError(t, err, "mode=%v f=%v", mode, f)
			assert.InDelta(t, 1.0, h.Integral(), 1e-9, "mode=%v f=%v", mode, f)
			assert.Equal(t, mode.Bins(), h.NBins())
		}
	}
}

func TestBuilderQuantizesPerMode(t *testing.T) {
	sample := Sample{{Npart: 3, Ncoll: 8, Weight: 1}} // f=0.5 → 5.5

	h, err := HistogramBuilder{}.Build(sample, 0.5, Truncate)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, h.Lookup(5), 1e-12)

	h, err = HistogramBuilder{}.Build(sample, 0.5, Round)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, h.Lookup(6), 1e-12)

	h, err = HistogramBuilder{}.Build(sample, 0.5, Continuous)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, h.Lookup(5.5), 1e-12)
	assert.InDelta(t, 5.55, h.BinCenter(h.FindBin(5.5)), 1e-9)
}

func TestBuilderEmptyDistribution(t *testing.T) {
	tests := []struct {
		name   string
		sample Sample
	}{
		{"no records", nil},
		{"all overflow", Sample{{Npart: 1500, Ncoll: 2500, Weight: 40}}},
		{"weight below one", Sample{{Npart: 2, Ncoll: 2, Weight: 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := HistogramBuilder{}.Build(tt.sample, 0.8, Continuous)
			assert.Nil(t, h)
			assert.True(t, errors.Is(err, ErrEmptyDistribution), "got %v", err)
		})
	}
}

func TestBuilderIsIdempotent(t *testing.T) {
	a, err := HistogramBuilder{}.Build(threePointSample(), 0.37, Continuous)
	require.NoError(t, err)
	b, err := HistogramBuilder{}.Build(threePointSample(), 0.37, Continuous)
	require.NoError(t, err)

	ca, cb := a.Contents(), b.Contents()
	require.Equal(t, len(ca), len(cb))
	for i := range ca {
		if math.Float64bits(ca[i]) != math.Float64bits(cb[i]) {
			t.Fatalf("bin %d differs: %v vs %v", i+1, ca[i], cb[i])
		}
	}
}

func TestEvaluateZeroAtAndBelowFloor(t *testing.T) {
	for _, mode := range []Mode{Truncate, Round, Continuous} {
		m := NewModel(threePointSample(), mode, nil)
		for _, x := range []float64{-10, 0, 1e-7, nbd.MultiplicityFloor} {
			assert.Equal(t, 0.0, m.Evaluate(x, DefaultParams()), "mode=%v x=%v", mode, x)
		}
		assert.Greater(t, m.Evaluate(50, DefaultParams()), 0.0)
	}
}

func TestEvaluateCachesOnF(t *testing.T) {
	b := &countingBuilder{}
	m := NewModel(threePointSample(), Continuous, b)
	p := DefaultParams()

	m.Evaluate(50, p)
	m.Evaluate(60, p)
	assert.Equal(t, 1, b.calls)

	p.F += FTolerance / 2
	m.Evaluate(50, p)
	assert.Equal(t, 1, b.calls, "change below tolerance must not rebuild")

	p.Mu, p.K, p.Norm = 30, 2, 5
	m.Evaluate(50, p)
	assert.Equal(t, 1, b.calls, "only f is a cache key")

	p.F = 0.8 + 1e-12
	m.Evaluate(50, p)
	assert.Equal(t, 2, b.calls, "change above tolerance must rebuild exactly once")
	m.Evaluate(70, p)
	assert.Equal(t, 2, b.calls)
	assert.Equal(t, 2, m.Rebuilds())
}

func TestEvaluateRebuildsOnModeChange(t *testing.T) {
	b := &countingBuilder{}
	m := NewModel(threePointSample(), Continuous, b)
	p := DefaultParams()

	m.Evaluate(50, p)
	m.SetMode(Round)
	m.Evaluate(50, p)
	assert.Equal(t, 2, b.calls)
	assert.Equal(t, Round, m.Mode())
}

func TestEvaluateEmptyDistribution(t *testing.T) {
	b := &countingBuilder{}
	m := NewModel(Sample{{Npart: 1500, Ncoll: 2500, Weight: 40}}, Continuous, b)

	assert.Equal(t, 0.0, m.Evaluate(50, DefaultParams()))
	assert.True(t, errors.Is(m.LastError(), ErrEmptyDistribution))
	assert.Equal(t, 0.0, m.Evaluate(55, DefaultParams()))
	assert.Equal(t, 1, b.calls, "a failed build is cached for the same f")

	_, err := m.AncestorHistogram(0.8)
	assert.True(t, errors.Is(err, ErrEmptyDistribution))
}

func TestEvaluateGoldenValue(t *testing.T) {
	m := NewModel(threePointSample(), Continuous, nil)
	p := Params{Mu: 45, K: 1.5, F: 0.8, Norm: 100, DMu: 0}

	got := m.Evaluate(50, p)
	assert.InEpsilon(t, 3.7191368221149467e-07, got, 1e-9)

	again := NewModel(threePointSample(), Continuous, nil).Evaluate(50, p)
	assert.Equal(t, math.Float64bits(got), math.Float64bits(again), "evaluation must be reproducible")
}

func TestEvaluateGoldenValueTruncate(t *testing.T) {
	m := NewModel(threePointSample(), Truncate, nil)
	got := m.Evaluate(50, DefaultParams())
	assert.InEpsilon(t, 4.275348535825098e-07, got, 1e-9)
}

func TestEvaluateStableAcrossContinuousBranches(t *testing.T) {
	// With k=5 the ancestor bins at x=50 fall on both sides of the log-space
	// threshold. math.Gamma overflows past ~171, so the two branches are only
	// compared where the direct one is finite.
	const directGammaLimit = 170.0

	m := NewModel(threePointSample(), Continuous, nil)
	p := Params{Mu: 45, K: 5, F: 0.8, Norm: 100}

	h, err := m.AncestorHistogram(p.F)
	require.NoError(t, err)

	var want float64
	below, above := false, false
	for i := 1; i <= h.NBins(); i++ {
		w := h.BinContent(i)
		if w == 0 {
			continue
		}
		nAnc := h.BinCenter(i)
		thisMu, thisK := nAnc*p.Mu, nAnc*p.K
		want += w * nbd.Continuous(50, thisMu, thisK)

		nk := 50 + thisK
		if nk > directGammaLimit {
			continue
		}
		if nk > nbd.LogSpaceThreshold {
			above = true
		} else {
			below = true
		}
		assert.InEpsilon(t, nbd.ContinuousDirect(50, thisMu, thisK), nbd.ContinuousLog(50, thisMu, thisK), 1e-8,
			"nAnc=%g n+k=%g", nAnc, nk)
	}
	require.True(t, below && above, "scenario must straddle the log-space threshold")

	got := m.Evaluate(50, p)
	assert.False(t, math.IsNaN(got))
	assert.InEpsilon(t, p.Norm*want, got, 1e-12)
}

func TestEvaluateDMuShiftsMean(t *testing.T) {
	m := NewModel(threePointSample(), Continuous, nil)
	base := Params{Mu: 10, K: 2, F: 0.8, Norm: 1}
	shifted := base
	shifted.DMu = 0.5

	mean := func(p Params) float64 {
		var s, w float64
		for x := 1; x < 3000; x++ {
			v := m.Evaluate(float64(x), p)
			s += float64(x) * v
			w += v
		}
		return s / w
	}
	assert.Greater(t, mean(shifted), mean(base))
}

func TestEvaluateIsNormalizedDistribution(t *testing.T) {
	// Summed over all integer multiplicities a discrete model with norm=1
	// recovers 1 minus the x=0 term.
	m := NewModel(threePointSample(), Round, nil)
	p := Params{Mu: 4, K: 1.5, F: 0.8, Norm: 1}
	var sum float64
	for x := 1; x < 2000; x++ {
		sum += m.Evaluate(float64(x), p)
	}
	var p0 float64
	for _, r := range threePointSample() {
		anc := Round.Ancestors(r.Npart, r.Ncoll, p.F)
		p0 += float64(r.Weight) / 160 * nbd.PMF(0, anc*p.Mu, anc*p.K)
	}
	assert.InDelta(t, 1.0-p0, sum, 1e-9)
}

func TestFuncUsesVectorLayout(t *testing.T) {
	m := NewModel(threePointSample(), Continuous, nil)
	fn := m.Func()
	p := Params{Mu: 45, K: 1.5, F: 0.8, Norm: 100, DMu: 0.01}

	assert.Equal(t, m.Evaluate(50, p), fn(50, p.Vector(true)))
	p.DMu = 0
	assert.Equal(t, m.Evaluate(50, p), fn(50, p.Vector(false)))
}
