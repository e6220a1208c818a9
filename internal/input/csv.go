package input

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/rewired-gh/glaubernbd/internal/glauber"
	"github.com/rewired-gh/glaubernbd/internal/histogram"
	"github.com/rewired-gh/glaubernbd/internal/logger"
)

// Correlation table binning: unit bins centered on integer Npart and Ncoll,
// covering the sample scan window.
const (
	NpartBins = glauber.NpartScanMax + 1
	NcollBins = glauber.NcollScanMax + 1
)

// ErrNoRows is returned for a document without data rows.
var ErrNoRows = errors.New("input has no data rows")

// readRows parses a CSV document of numeric rows with exactly width columns.
// Lines starting with '#' are comments, and a first row that does not parse
// as numbers is treated as a header.
func readRows(r io.Reader, width int) ([][]float64, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = width

	var rows [][]float64
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}
		row := make([]float64, width)
		var parseErr error
		for i, field := range rec {
			row[i], parseErr = strconv.ParseFloat(field, 64)
			if parseErr != nil {
				break
			}
			if math.IsNaN(row[i]) || math.IsInf(row[i], 0) {
				parseErr = fmt.Errorf("non-finite value %q", field)
				break
			}
		}
		if parseErr != nil {
			if line == 1 && len(rows) == 0 {
				continue
			}
			return nil, fmt.Errorf("row %d: %w", line, parseErr)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	return rows, nil
}

// ReadCorrelation parses "npart,ncoll,count" rows into a correlation table.
func ReadCorrelation(r io.Reader) (*histogram.H2D, error) {
	rows, err := readRows(r, 3)
	if err != nil {
		return nil, err
	}
	table, err := histogram.NewH2D(NpartBins, -0.5, float64(NpartBins)-0.5, NcollBins, -0.5, float64(NcollBins)-0.5)
	if err != nil {
		return nil, err
	}

	outside := 0
	for i, row := range rows {
		if row[2] < 0 {
			return nil, fmt.Errorf("row %d: negative count %g", i+1, row[2])
		}
		if row[0] >= float64(NpartBins)-0.5 || row[1] >= float64(NcollBins)-0.5 || row[0] < -0.5 || row[1] < -0.5 {
			outside++
		}
		table.Fill(row[0], row[1], row[2])
	}
	if outside > 0 {
		logger.Warn("%d correlation rows lie outside the table and are ignored by the sample scan", outside)
	}
	logger.Debug("Read %d correlation rows, %g events", len(rows), table.Integral())
	return table, nil
}

// ReadMultiplicity parses "center,content" rows into a histogram. Bin width is
// the spacing of the two lowest centers; every other center must lie on that
// grid, so gaps are allowed but a finer spacing is an error.
func ReadMultiplicity(r io.Reader) (*histogram.H1D, error) {
	rows, err := readRows(r, 2)
	if err != nil {
		return nil, err
	}

	centers := make([]float64, 0, len(rows))
	for i, row := range rows {
		if row[1] < 0 {
			return nil, fmt.Errorf("row %d: negative content %g", i+1, row[1])
		}
		centers = append(centers, row[0])
	}
	sort.Float64s(centers)

	for i := 1; i < len(centers); i++ {
		if centers[i] == centers[i-1] {
			return nil, fmt.Errorf("duplicate bin center %g", centers[i])
		}
	}
	width := 1.0
	if len(centers) > 1 {
		width = centers[1] - centers[0]
	}

	lo, hi := centers[0], centers[len(centers)-1]
	nbins := int(math.Round((hi-lo)/width)) + 1
	h, err := histogram.NewH1D(nbins, lo-width/2, hi+width/2)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		k := (row[0] - lo) / width
		if math.Abs(k-math.Round(k)) > 1e-6 {
			return nil, fmt.Errorf("bin center %g is off the %g-wide grid starting at %g", row[0], width, lo)
		}
		h.SetBinContent(int(math.Round(k))+1, row[1])
	}
	logger.Debug("Read multiplicity histogram: %d bins over [%g, %g), integral %g", nbins, lo-width/2, hi+width/2, h.Integral())
	return h, nil
}

// LoadCorrelation reads the correlation table at location.
func (c *Client) LoadCorrelation(ctx context.Context, location string) (*histogram.H2D, error) {
	body, err := c.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	table, err := ReadCorrelation(body)
	if err != nil {
		return nil, fmt.Errorf("correlation %s: %w", location, err)
	}
	return table, nil
}

// LoadMultiplicity reads the multiplicity histogram at location.
func (c *Client) LoadMultiplicity(ctx context.Context, location string) (*histogram.H1D, error) {
	body, err := c.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	h, err := ReadMultiplicity(body)
	if err != nil {
		return nil, fmt.Errorf("multiplicity %s: %w", location, err)
	}
	return h, nil
}
