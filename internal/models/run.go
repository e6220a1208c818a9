// Package models defines the records persisted by glaubernbd: fit runs and
// the centrality tables derived from them.
//
// Terminology:
//   - Run: one Glauber+NBD fit of a multiplicity histogram, with its result.
//   - Centrality bin: the average Npart and Ncoll of events in one
//     multiplicity (or centrality-percentile) bin, as mapped from a run.
//
// All models include validation so that storage never holds a partial record.
package models

import (
	"errors"
	"math"
	"time"
)

// FitRun is a completed fit, whether or not it converged.
type FitRun struct {
	ID         string        `json:"id"`
	Mode       string        `json:"mode"` // ancestor quantization: truncate, round or continuous
	Mu         float64       `json:"mu"`
	K          float64       `json:"k"`
	F          float64       `json:"f"`
	Norm       float64       `json:"norm"`
	DMu        float64       `json:"dmu"`
	Success    bool          `json:"success"`
	Status     string        `json:"status"`
	Chi2       float64       `json:"chi2"` // NaN when the optimizer produced no result
	NDF        int           `json:"ndf"`
	Iterations int           `json:"iterations"`
	RangeLo    float64       `json:"range_lo"`
	RangeHi    float64       `json:"range_hi"`
	Pairs      int           `json:"pairs"` // (Npart, Ncoll) records in the sample
	Duration   time.Duration `json:"duration"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Validate checks that all run fields are valid.
func (r *FitRun) Validate() error {
	if r.ID == "" {
		return errors.New("run ID must not be empty")
	}
	switch r.Mode {
	case "truncate", "round", "continuous":
	default:
		return errors.New("mode must be 'truncate', 'round' or 'continuous'")
	}
	if !(r.RangeLo < r.RangeHi) {
		return errors.New("fit range must satisfy range_lo < range_hi")
	}
	if r.F < 0 || r.F > 1 {
		return errors.New("f must be between 0.0 and 1.0")
	}
	if r.Success && (r.Mu <= 0 || r.K <= 0) {
		return errors.New("a converged run must have positive mu and k")
	}
	if r.Success && math.IsNaN(r.Chi2) {
		return errors.New("a converged run must have a chi2")
	}
	if r.NDF < 0 {
		return errors.New("ndf must not be negative")
	}
	if r.CreatedAt.IsZero() {
		return errors.New("created at must be set")
	}
	if r.CreatedAt.After(time.Now()) {
		return errors.New("created at must not be in the future")
	}
	return nil
}
