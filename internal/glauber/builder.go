package glauber

import (
	"errors"
	"fmt"

	"github.com/rewired-gh/glaubernbd/internal/histogram"
)

// ErrEmptyDistribution is returned when the ancestor histogram ends up with
// less than one unit of in-range weight.
var ErrEmptyDistribution = errors.New("ancestor histogram empty")

// Builder turns a correlation sample into a normalized ancestor-count
// distribution for mixing fraction f.
type Builder interface {
	Build(sample Sample, f float64, mode Mode) (*histogram.H1D, error)
}

// HistogramBuilder is the default Builder. It holds no state between calls.
type HistogramBuilder struct{}

// Build fills a fresh ancestor histogram and normalizes it to unit sum.
func (HistogramBuilder) Build(sample Sample, f float64, mode Mode) (*histogram.H1D, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("cannot build ancestor histogram: invalid mode %v", mode)
	}
	h := histogram.MustH1D(mode.Bins(), AncestorMin, AncestorMax)
	for _, r := range sample {
		h.Fill(mode.Ancestors(r.Npart, r.Ncoll, f), float64(r.Weight))
	}

	total := h.Integral()
	if total < 1 {
		return nil, fmt.Errorf("%w: f=%g mode=%s in-range weight=%g", ErrEmptyDistribution, f, mode, total)
	}
	h.Scale(1. / total)
	return h, nil
}
