// Package centrality maps fitted Glauber+NBD parameters back onto the
// collision geometry: for every multiplicity bin it accumulates the
// probability-weighted average Npart and Ncoll, optionally on a centrality
// percentile axis instead of raw multiplicity.
package centrality

import (
	"context"
	"errors"
	"fmt"

	"github.com/rewired-gh/glaubernbd/internal/glauber"
	"github.com/rewired-gh/glaubernbd/internal/histogram"
	"github.com/rewired-gh/glaubernbd/internal/logger"
	"github.com/rewired-gh/glaubernbd/internal/models"
	"github.com/rewired-gh/glaubernbd/internal/nbd"
)

// progressEvery is the record interval between progress log lines.
const progressEvery = 2000

// ErrNoProfiles is returned when MapAverages has nowhere to put its averages.
var ErrNoProfiles = errors.New("centrality: Npart and Ncoll profiles are required")

// Outputs receives the mapped averages. The profiles are required; the 2-D
// histograms and the percentile map are optional.
type Outputs struct {
	NpartProfile *histogram.Profile
	NcollProfile *histogram.Profile
	Npart2D      *histogram.H2D
	Ncoll2D      *histogram.H2D
	// PercentileMap, when set, converts a multiplicity into the value filled
	// on the x axis (see PercentileMap).
	PercentileMap *histogram.H1D
}

// Mapper fills centrality averages from a correlation sample.
type Mapper struct {
	fallbackLo float64
	fallbackHi float64
}

// NewMapper creates a Mapper. The fallback range, usually the fit range, is
// used when MapAverages is called with both bounds below -1.
func NewMapper(fallbackLo, fallbackHi float64) *Mapper {
	return &Mapper{fallbackLo: fallbackLo, fallbackHi: fallbackHi}
}

// MapAverages fills out for every integer multiplicity in [1, hi). Each
// (Npart, Ncoll) record contributes weight·NBD(m; nAnc·mu, nAnc·k), where nAnc
// is quantized by mode only. dMu is not applied here.
func (m *Mapper) MapAverages(ctx context.Context, sample glauber.Sample, p glauber.Params, mode glauber.Mode, lo, hi float64, out Outputs) error {
	if out.NpartProfile == nil || out.NcollProfile == nil {
		return ErrNoProfiles
	}
	if !mode.Valid() {
		return fmt.Errorf("centrality: invalid ancestor mode %v", mode)
	}
	if len(sample) == 0 {
		return glauber.ErrNoSample
	}
	if lo < -1 && hi < -1 {
		lo, hi = m.fallbackLo, m.fallbackHi
	}
	logger.Info("Mapping centrality averages for multiplicities [1, %g) (range [%g, %g]), %s", hi, lo, hi, mode.Describe())

	continuous := mode == glauber.Continuous
	for i, r := range sample {
		if i%progressEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			logger.Info("Processing record %d of %d (Npart %g, Ncoll %g)", i, len(sample), r.Npart, r.Ncoll)
		}

		nAnc := mode.Ancestors(r.Npart, r.Ncoll, p.F)
		if nAnc <= 0 {
			continue
		}
		thisMu := nAnc * p.Mu
		thisK := nAnc * p.K
		weight := float64(r.Weight)

		for mult := 1; float64(mult) < hi; mult++ {
			x := float64(mult)
			var prob float64
			if continuous {
				prob = nbd.Continuous(x, thisMu, thisK)
			} else {
				prob = nbd.PMF(mult, thisMu, thisK)
			}
			w := weight * prob
			if w == 0 {
				continue
			}
			if out.PercentileMap != nil {
				x = out.PercentileMap.Lookup(x)
			}
			out.NpartProfile.Fill(x, r.Npart, w)
			out.NcollProfile.Fill(x, r.Ncoll, w)
			if out.Npart2D != nil {
				out.Npart2D.Fill(x, r.Npart, w)
			}
			if out.Ncoll2D != nil {
				out.Ncoll2D.Fill(x, r.Ncoll, w)
			}
		}
	}
	logger.Info("Centrality mapping done for %d records", len(sample))
	return nil
}

// PercentileMap returns a histogram with the binning of h whose bin i holds
// the percentage of events with multiplicity in bin i or above, so 0% is the
// most central end. Under- and overflow are ignored.
func PercentileMap(h *histogram.H1D) (*histogram.H1D, error) {
	if h == nil {
		return nil, errors.New("centrality: nil multiplicity histogram")
	}
	total := h.Integral()
	if total <= 0 {
		return nil, errors.New("centrality: multiplicity histogram is empty")
	}
	out := h.Clone()
	out.Reset()
	var above float64
	for i := h.NBins(); i >= 1; i-- {
		above += h.BinContent(i)
		out.SetBinContent(i, 100*above/total)
	}
	return out, nil
}

// Table flattens the populated bins of two profiles with identical binning
// into storable rows.
func Table(runID string, npart, ncoll *histogram.Profile) ([]models.CentralityBin, error) {
	if npart == nil || ncoll == nil {
		return nil, ErrNoProfiles
	}
	if npart.Axis() != ncoll.Axis() {
		return nil, errors.New("centrality: Npart and Ncoll profiles have different binning")
	}
	axis := npart.Axis()
	var rows []models.CentralityBin
	for i := 1; i <= axis.NBins; i++ {
		w := npart.Weight(i)
		if w <= 0 {
			continue
		}
		rows = append(rows, models.CentralityBin{
			RunID:        runID,
			Bin:          i,
			Multiplicity: axis.BinCenter(i),
			AvgNpart:     npart.Mean(i),
			AvgNcoll:     ncoll.Mean(i),
			RMSNpart:     npart.StdDev(i),
			RMSNcoll:     ncoll.StdDev(i),
			Weight:       w,
		})
	}
	return rows, nil
}
