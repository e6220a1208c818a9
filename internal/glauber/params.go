package glauber

import (
	"errors"
	"fmt"
)

// Params is the model parameter vector.
type Params struct {
	Mu   float64 `json:"mu" mapstructure:"mu"`     // NBD mean per ancestor
	K    float64 `json:"k" mapstructure:"k"`       // NBD shape per ancestor
	F    float64 `json:"f" mapstructure:"f"`       // Npart weight in the ancestor mix
	Norm float64 `json:"norm" mapstructure:"norm"` // overall scale
	DMu  float64 `json:"dmu" mapstructure:"dmu"`   // linear change of mu per ancestor
}

// Parameter vector layout shared with the optimizer.
const (
	IndexMu = iota
	IndexK
	IndexF
	IndexNorm
	IndexDMu
)

var paramNames = []string{"mu", "k", "f", "norm", "dMu"}

// ParamNames returns the names of the 4 or 5 active parameters.
func ParamNames(withDMu bool) []string {
	n := NumParams(withDMu)
	out := make([]string, n)
	copy(out, paramNames[:n])
	return out
}

// NumParams returns 5 when dMu is fitted, 4 otherwise.
func NumParams(withDMu bool) int {
	if withDMu {
		return 5
	}
	return 4
}

// DefaultParams returns the conventional starting point of a fit.
func DefaultParams() Params {
	return Params{Mu: 45, K: 1.5, F: 0.8, Norm: 100, DMu: 0}
}

// Vector returns the parameters in optimizer order.
func (p Params) Vector(withDMu bool) []float64 {
	v := []float64{p.Mu, p.K, p.F, p.Norm}
	if withDMu {
		v = append(v, p.DMu)
	}
	return v
}

// ParamsFromVector is the inverse of Vector. A 4-element vector leaves DMu at 0.
func ParamsFromVector(v []float64) Params {
	var p Params
	if len(v) > IndexNorm {
		p.Mu, p.K, p.F, p.Norm = v[IndexMu], v[IndexK], v[IndexF], v[IndexNorm]
	}
	if len(v) > IndexDMu {
		p.DMu = v[IndexDMu]
	}
	return p
}

// Validate checks the physical domain of the parameters.
func (p Params) Validate() error {
	if !(p.Mu > 0) {
		return errors.New("mu must be positive")
	}
	if !(p.K > 0) {
		return errors.New("k must be positive")
	}
	if !(p.F >= 0 && p.F <= 1) {
		return errors.New("f must be between 0.0 and 1.0")
	}
	if p.Norm < 0 {
		return errors.New("norm must not be negative")
	}
	return nil
}

func (p Params) String() string {
	return fmt.Sprintf("mu=%.6g k=%.6g f=%.6g norm=%.6g dMu=%.6g", p.Mu, p.K, p.F, p.Norm, p.DMu)
}
