// Package histogram provides fixed-binning weighted containers: one- and
// two-dimensional histograms and per-bin weighted-average profiles.
//
// H1D and H2D store their bins in go-hep hbook histograms and expose them
// with the usual physics numbering: bin 0 is the underflow, bins 1..N cover
// the axis range, and bin N+1 is the overflow. Under- and overflow never
// contribute to Integral.
package histogram

import (
	"fmt"
	"math"

	"go-hep.org/x/hep/hbook"
)

// Axis is a uniform binning over [Min, Max).
type Axis struct {
	NBins int
	Min   float64
	Max   float64
}

// NewAxis validates and returns a uniform axis.
func NewAxis(nbins int, min, max float64) (Axis, error) {
	if nbins < 1 {
		return Axis{}, fmt.Errorf("axis needs at least one bin, got %d", nbins)
	}
	if !(max > min) {
		return Axis{}, fmt.Errorf("axis range [%g, %g) is empty", min, max)
	}
	return Axis{NBins: nbins, Min: min, Max: max}, nil
}

// Width returns the width of a single bin.
func (a Axis) Width() float64 {
	return (a.Max - a.Min) / float64(a.NBins)
}

// FindBin returns the bin index holding x, including under/overflow.
func (a Axis) FindBin(x float64) int {
	if math.IsNaN(x) || x < a.Min {
		return 0
	}
	if x >= a.Max {
		return a.NBins + 1
	}
	bin := 1 + int(float64(a.NBins)*(x-a.Min)/(a.Max-a.Min))
	if bin > a.NBins {
		bin = a.NBins
	}
	return bin
}

// BinCenter returns the center of bin i. Under/overflow centers lie half a
// bin outside the range.
func (a Axis) BinCenter(i int) float64 {
	return a.Min + (float64(i)-0.5)*a.Width()
}

// BinLowEdge returns the lower edge of bin i.
func (a Axis) BinLowEdge(i int) float64 {
	return a.Min + float64(i-1)*a.Width()
}

// H1D is a one-dimensional weighted histogram.
type H1D struct {
	axis Axis
	h    *hbook.H1D
}

// NewH1D creates an empty histogram with nbins uniform bins over [min, max).
func NewH1D(nbins int, min, max float64) (*H1D, error) {
	axis, err := NewAxis(nbins, min, max)
	if err != nil {
		return nil, err
	}
	return &H1D{axis: axis, h: hbook.NewH1D(nbins, min, max)}, nil
}

// MustH1D is NewH1D for statically known binnings.
func MustH1D(nbins int, min, max float64) *H1D {
	h, err := NewH1D(nbins, min, max)
	if err != nil {
		panic(err)
	}
	return h
}

// Axis returns the binning.
func (h *H1D) Axis() Axis { return h.axis }

// NBins returns the number of in-range bins.
func (h *H1D) NBins() int { return h.axis.NBins }

// FindBin returns the bin index holding x, using the same edges Fill does.
func (h *H1D) FindBin(x float64) int {
	switch idx := hbook.Bin1Ds(h.h.Binning.Bins).IndexOf(x); idx {
	case hbook.UnderflowBin1D:
		return 0
	case hbook.OverflowBin1D:
		return h.axis.NBins + 1
	default:
		return idx + 1
	}
}

// BinCenter returns the center of bin i.
func (h *H1D) BinCenter(i int) float64 { return h.axis.BinCenter(i) }

// weight returns the weight moments of bin i, or nil for an invalid index.
func (h *H1D) weight(i int) *hbook.Dist0D {
	switch {
	case i == 0:
		return &h.h.Binning.Underflow().Dist
	case i == h.axis.NBins+1:
		return &h.h.Binning.Overflow().Dist
	case i > 0 && i <= h.axis.NBins:
		return &h.h.Binning.Bins[i-1].Dist.Dist
	}
	return nil
}

// BinContent returns the content of bin i, or 0 for an invalid index.
func (h *H1D) BinContent(i int) float64 {
	if d := h.weight(i); d != nil {
		return d.SumW
	}
	return 0
}

// SetBinContent overwrites the weight sum of bin i. Invalid indices are
// ignored. Entries and the histogram-wide moments are left untouched.
func (h *H1D) SetBinContent(i int, v float64) {
	if d := h.weight(i); d != nil {
		d.SumW = v
	}
}

// Fill adds weight w at x and returns the bin that received it.
func (h *H1D) Fill(x, w float64) int {
	h.h.Fill(x, w)
	return h.FindBin(x)
}

// Entries returns the number of Fill calls since the last Reset.
func (h *H1D) Entries() int64 { return h.h.Entries() }

// Reset zeroes every bin, including under/overflow.
func (h *H1D) Reset() {
	h.h = hbook.NewH1D(h.axis.NBins, h.axis.Min, h.axis.Max)
}

// Integral returns the sum of in-range bin contents.
func (h *H1D) Integral() float64 {
	return h.h.Integral(h.axis.Min, h.axis.Max)
}

// Scale multiplies every bin by c.
func (h *H1D) Scale(c float64) {
	h.h.Scale(c)
}

// Contents returns a copy of the in-range bin contents, bin 1 first.
func (h *H1D) Contents() []float64 {
	out := make([]float64, h.axis.NBins)
	for i := range out {
		out[i] = h.h.Value(i)
	}
	return out
}

// Clone returns a deep copy.
func (h *H1D) Clone() *H1D {
	return &H1D{axis: h.axis, h: h.h.Clone()}
}

// Lookup returns the content of the bin holding x.
func (h *H1D) Lookup(x float64) float64 {
	return h.BinContent(h.FindBin(x))
}

// H2D is a two-dimensional weighted histogram. Weight falling outside the
// range is kept by hbook in eight aggregated outflow regions, so only
// in-range bins are addressable.
type H2D struct {
	x Axis
	y Axis
	h *hbook.H2D
}

// NewH2D creates an empty two-dimensional histogram.
func NewH2D(nx int, xmin, xmax float64, ny int, ymin, ymax float64) (*H2D, error) {
	x, err := NewAxis(nx, xmin, xmax)
	if err != nil {
		return nil, fmt.Errorf("x axis: %w", err)
	}
	y, err := NewAxis(ny, ymin, ymax)
	if err != nil {
		return nil, fmt.Errorf("y axis: %w", err)
	}
	return &H2D{x: x, y: y, h: hbook.NewH2D(nx, xmin, xmax, ny, ymin, ymax)}, nil
}

// XAxis returns the x binning.
func (h *H2D) XAxis() Axis { return h.x }

// YAxis returns the y binning.
func (h *H2D) YAxis() Axis { return h.y }

// Fill adds weight w at (x, y).
func (h *H2D) Fill(x, y, w float64) {
	h.h.Fill(x, y, w)
}

// BinContent returns the content of in-range bin (ix, iy), or 0 for any
// other index.
func (h *H2D) BinContent(ix, iy int) float64 {
	if ix < 1 || ix > h.x.NBins || iy < 1 || iy > h.y.NBins {
		return 0
	}
	return h.h.Binning.Bins[(iy-1)*h.x.NBins+(ix-1)].SumW()
}

// At returns the content of the in-range bin holding (x, y), or 0 outside
// the range.
func (h *H2D) At(x, y float64) float64 {
	bin := h.h.Bin(x, y)
	if bin == nil {
		return 0
	}
	return bin.SumW()
}

// Integral returns the sum of in-range bin contents.
func (h *H2D) Integral() float64 {
	var sum float64
	for i := range h.h.Binning.Bins {
		sum += h.h.Binning.Bins[i].SumW()
	}
	return sum
}
