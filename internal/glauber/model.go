// Package glauber implements the Glauber+NBD multiplicity model.
//
// A Glauber Monte Carlo provides the joint distribution of participants
// (Npart) and binary collisions (Ncoll). Each event is assumed to contain
//
//	Nancestors = f·Npart + (1-f)·Ncoll
//
// independent emitting sources, each producing particles according to a
// negative binomial distribution. Since a sum of N independent NBD(mu, k)
// variables is NBD(N·mu, N·k), the multiplicity probability is a mixture of
// NBDs over the ancestor-count distribution, which is the only Monte Carlo
// component; the NBD side is evaluated analytically.
//
// Model.Evaluate is called by the optimizer for every bin in every
// iteration, so the ancestor distribution is cached and rebuilt only when f
// (or the quantization mode) changes.
package glauber

import (
	"math"

	"github.com/rewired-gh/glaubernbd/internal/histogram"
	"github.com/rewired-gh/glaubernbd/internal/logger"
	"github.com/rewired-gh/glaubernbd/internal/nbd"
)

// FTolerance is the smallest change in f that invalidates the cached
// ancestor distribution.
const FTolerance = 1e-13

// ancestorBin is a populated ancestor bin with a positive center.
type ancestorBin struct {
	n float64
	w float64
}

// ancestorCache remembers the distribution built for the last f.
type ancestorCache struct {
	valid bool
	f     float64
	mode  Mode
	hist  *histogram.H1D
	bins  []ancestorBin
	err   error
}

// Model is the Glauber+NBD probability function.
//
// A Model is not safe for concurrent use: Evaluate mutates the ancestor
// cache. Concurrent fits need one Model each.
type Model struct {
	sample   Sample
	mode     Mode
	builder  Builder
	cache    ancestorCache
	rebuilds int
}

// NewModel creates a model over sample. A nil builder selects HistogramBuilder.
func NewModel(sample Sample, mode Mode, builder Builder) *Model {
	if builder == nil {
		builder = HistogramBuilder{}
	}
	return &Model{
		sample:  sample,
		mode:    mode,
		builder: builder,
	}
}

// Sample returns the correlation sample.
func (m *Model) Sample() Sample { return m.sample }

// SetSample replaces the correlation sample and drops the cache.
func (m *Model) SetSample(sample Sample) {
	m.sample = sample
	m.cache = ancestorCache{}
}

// Mode returns the quantization mode.
func (m *Model) Mode() Mode { return m.mode }

// SetMode changes the quantization mode. The next Evaluate rebuilds.
func (m *Model) SetMode(mode Mode) {
	m.mode = mode
	m.cache = ancestorCache{}
}

// Rebuilds returns how many times the ancestor distribution was built.
func (m *Model) Rebuilds() int { return m.rebuilds }

// LastError returns the error of the most recent build, if it failed.
func (m *Model) LastError() error { return m.cache.err }

// AncestorHistogram returns a copy of the cached distribution, building it
// for f if needed.
func (m *Model) AncestorHistogram(f float64) (*histogram.H1D, error) {
	if err := m.ensure(f); err != nil {
		return nil, err
	}
	return m.cache.hist.Clone(), nil
}

func (m *Model) stale(f float64) bool {
	return !m.cache.valid || m.cache.mode != m.mode || math.Abs(m.cache.f-f) >= FTolerance
}

// ensure rebuilds the cached distribution when f or the mode changed. A
// failed build is cached too, so the error is logged once per f.
func (m *Model) ensure(f float64) error {
	if !m.stale(f) {
		return m.cache.err
	}

	hist, err := m.builder.Build(m.sample, f, m.mode)
	m.rebuilds++
	m.cache = ancestorCache{valid: true, f: f, mode: m.mode, hist: hist, err: err}
	if err != nil {
		logger.Error("Ancestor distribution unavailable, model evaluates to 0: %v", err)
		return err
	}
	m.cache.bins = populatedBins(hist)
	return nil
}

// populatedBins lists non-empty bins from the first positive center upward.
func populatedBins(h *histogram.H1D) []ancestorBin {
	n := h.NBins()
	start := h.FindBin(0.0)
	for start <= n && h.BinCenter(start) <= 0 {
		start++
	}
	var bins []ancestorBin
	for i := start; i <= n; i++ {
		if w := h.BinContent(i); w != 0 {
			bins = append(bins, ancestorBin{n: h.BinCenter(i), w: w})
		}
	}
	return bins
}

// Evaluate returns the model value at multiplicity x:
//
//	norm · Σ_anc w(anc) · NBD(x; anc·(mu + dMu·anc), anc·k)
//
// summed over ancestor bins with positive centers in increasing order
// (empty bins contribute nothing and are skipped).
// Multiplicities at or below nbd.MultiplicityFloor give exactly 0, as does
// an empty ancestor distribution.
func (m *Model) Evaluate(x float64, p Params) float64 {
	if err := m.ensure(p.F); err != nil {
		return 0
	}
	if x <= nbd.MultiplicityFloor {
		return 0
	}

	continuous := m.mode == Continuous
	var sum float64
	for _, b := range m.cache.bins {
		thisMu := b.n * (p.Mu + p.DMu*b.n)
		thisK := b.n * p.K
		var prob float64
		if continuous {
			prob = nbd.Continuous(x, thisMu, thisK)
		} else {
			prob = nbd.Eval(x, thisMu, thisK)
		}
		sum += b.w * prob
	}
	return p.Norm * sum
}

// Func returns Evaluate as a plain function of a parameter vector laid out
// as mu, k, f, norm and optionally dMu.
func (m *Model) Func() func(x float64, par []float64) float64 {
	return func(x float64, par []float64) float64 {
		return m.Evaluate(x, ParamsFromVector(par))
	}
}
