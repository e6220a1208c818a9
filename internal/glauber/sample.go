package glauber

import (
	"errors"
	"fmt"

	"github.com/rewired-gh/glaubernbd/internal/histogram"
	"github.com/rewired-gh/glaubernbd/internal/logger"
)

// Scan window over the (Npart, Ncoll) correlation table, upper bounds exclusive.
const (
	NpartScanMin = 1
	NpartScanMax = 500
	NcollScanMin = 1
	NcollScanMax = 3000
)

// DefaultMaxPairs is the historical capacity of the correlation sample.
const DefaultMaxPairs = 1000000

var (
	// ErrNoSample is returned when no correlation table has been provided.
	ErrNoSample = errors.New("no (Npart, Ncoll) correlation provided")
	// ErrCapacityExceeded is returned when a table holds more populated
	// cells than the configured hard capacity.
	ErrCapacityExceeded = errors.New("correlation sample capacity exceeded")
)

// Record is one populated (Npart, Ncoll) cell and its event count.
type Record struct {
	Npart  float64
	Ncoll  float64
	Weight int64
}

// Sample is the ordered list of populated (Npart, Ncoll) cells.
type Sample []Record

// TotalWeight returns the summed event count.
func (s Sample) TotalWeight() int64 {
	var total int64
	for _, r := range s {
		total += r.Weight
	}
	return total
}

// SampleFromTable scans the correlation table over the fixed window
// (x = Npart, y = Ncoll) and keeps every cell with non-zero content. Weights
// are the content truncated to an integer, so a fractional cell below one is
// kept with weight 0.
//
// maxPairs > 0 is a hard capacity and exceeding it fails with
// ErrCapacityExceeded. maxPairs == 0 grows without bound and only warns once
// the sample passes DefaultMaxPairs.
func SampleFromTable(table *histogram.H2D, maxPairs int) (Sample, error) {
	if table == nil {
		return nil, ErrNoSample
	}

	var sample Sample
	warned := false
	for xbin := NpartScanMin; xbin < NpartScanMax; xbin++ {
		for ybin := NcollScanMin; ybin < NcollScanMax; ybin++ {
			content := table.At(float64(xbin), float64(ybin))
			if content == 0 {
				continue
			}
			count := int64(content)
			if maxPairs > 0 && len(sample) >= maxPairs {
				return nil, fmt.Errorf("%w: more than %d (Npart, Ncoll) pairs", ErrCapacityExceeded, maxPairs)
			}
			if maxPairs == 0 && !warned && len(sample) >= DefaultMaxPairs {
				logger.Warn("Correlation sample passed %d pairs; evaluation cost grows linearly", DefaultMaxPairs)
				warned = true
			}
			sample = append(sample, Record{Npart: float64(xbin), Ncoll: float64(ybin), Weight: count})
		}
	}

	logger.Info("Initialized with number of (Npart, Ncoll) pairs: %d", len(sample))
	return sample, nil
}
