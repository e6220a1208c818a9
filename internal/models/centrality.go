package models

import "errors"

// CentralityBin holds the mapped averages for one multiplicity bin of a run.
type CentralityBin struct {
	RunID        string  `json:"run_id"`
	Bin          int     `json:"bin"`
	Multiplicity float64 `json:"multiplicity"` // bin center; a percentile when remapped
	AvgNpart     float64 `json:"avg_npart"`
	AvgNcoll     float64 `json:"avg_ncoll"`
	RMSNpart     float64 `json:"rms_npart"`
	RMSNcoll     float64 `json:"rms_ncoll"`
	Weight       float64 `json:"weight"`
}

// Validate checks that all centrality bin fields are valid
func (c *CentralityBin) Validate() error {
	if c.RunID == "" {
		return errors.New("run ID must not be empty")
	}
	if c.Bin < 1 {
		return errors.New("bin must be at least 1")
	}
	if c.Weight <= 0 {
		return errors.New("weight must be positive")
	}
	if c.AvgNpart < 0 || c.AvgNcoll < 0 {
		return errors.New("averages must not be negative")
	}
	if c.RMSNpart < 0 || c.RMSNcoll < 0 {
		return errors.New("rms must not be negative")
	}
	return nil
}
