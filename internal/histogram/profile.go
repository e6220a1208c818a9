package histogram

import "math"

// Profile accumulates a weighted running average of y per x bin.
type Profile struct {
	axis   Axis
	sumW   []float64
	sumWY  []float64
	sumWY2 []float64
}

// NewProfile creates an empty profile with nbins uniform bins over [min, max).
func NewProfile(nbins int, min, max float64) (*Profile, error) {
	axis, err := NewAxis(nbins, min, max)
	if err != nil {
		return nil, err
	}
	return &Profile{
		axis:   axis,
		sumW:   make([]float64, nbins+2),
		sumWY:  make([]float64, nbins+2),
		sumWY2: make([]float64, nbins+2),
	}, nil
}

// Axis returns the binning.
func (p *Profile) Axis() Axis { return p.axis }

// Fill adds y with weight w to the bin holding x.
func (p *Profile) Fill(x, y, w float64) {
	bin := p.axis.FindBin(x)
	p.sumW[bin] += w
	p.sumWY[bin] += w * y
	p.sumWY2[bin] += w * y * y
}

// Mean returns the weighted mean of bin i, or 0 when the bin is empty.
func (p *Profile) Mean(i int) float64 {
	if i < 0 || i >= len(p.sumW) || p.sumW[i] == 0 {
		return 0
	}
	return p.sumWY[i] / p.sumW[i]
}

// StdDev returns the weighted spread of bin i.
func (p *Profile) StdDev(i int) float64 {
	if i < 0 || i >= len(p.sumW) || p.sumW[i] == 0 {
		return 0
	}
	mean := p.sumWY[i] / p.sumW[i]
	v := p.sumWY2[i]/p.sumW[i] - mean*mean
	if v < 0 {
		return 0
	}
	return math.Sqrt(v)
}

// Weight returns the accumulated weight of bin i.
func (p *Profile) Weight(i int) float64 {
	if i < 0 || i >= len(p.sumW) {
		return 0
	}
	return p.sumW[i]
}
