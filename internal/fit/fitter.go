// Package fit drives a least-squares fit of the Glauber+NBD model to a
// measured multiplicity histogram.
//
// The search itself is delegated to an Optimizer; the Fitter owns the
// inputs, builds the chi-square objective around glauber.Model, and reads the
// best vector back into glauber.Params. A fit that does not converge is not
// an error: it returns a Result with Success=false.
package fit

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/glaubernbd/internal/glauber"
	"github.com/rewired-gh/glaubernbd/internal/histogram"
	"github.com/rewired-gh/glaubernbd/internal/logger"
	"github.com/rewired-gh/glaubernbd/internal/models"
)

// DefaultMaxIterations is deliberately large: every objective call sums the
// whole ancestor histogram, and the simplex converges slowly.
const DefaultMaxIterations = 5000000

// penalty is returned for parameter vectors outside the physical domain.
const penalty = 1e30

// ErrNotConfigured is wrapped by every ConfigurationError.
var ErrNotConfigured = errors.New("fit not configured")

// ConfigurationError reports a missing or unusable fit input.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("fit configuration error: %s", e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrNotConfigured }

// Options tunes a single fit.
type Options struct {
	// UseDMu fits dMu as a fifth parameter; otherwise it is held at its
	// initial value.
	UseDMu bool
	// MaxIterations caps optimizer iterations. 0 selects DefaultMaxIterations.
	MaxIterations int
	// Optimizer defaults to DefaultNelderMead().
	Optimizer Optimizer
}

// Result is the outcome of a fit.
type Result struct {
	ID          string
	Params      glauber.Params
	Success     bool
	Status      string
	Chi2        float64
	NDF         int
	Iterations  int
	Evaluations int
	Mode        glauber.Mode
	RangeLo     float64
	RangeHi     float64
	Pairs       int
	StartedAt   time.Time
	Duration    time.Duration
}

// Record converts the result into its persisted form.
func (r *Result) Record() *models.FitRun {
	return &models.FitRun{
		ID:         r.ID,
		Mode:       r.Mode.String(),
		Mu:         r.Params.Mu,
		K:          r.Params.K,
		F:          r.Params.F,
		Norm:       r.Params.Norm,
		DMu:        r.Params.DMu,
		Success:    r.Success,
		Status:     r.Status,
		Chi2:       r.Chi2,
		NDF:        r.NDF,
		Iterations: r.Iterations,
		RangeLo:    r.RangeLo,
		RangeHi:    r.RangeHi,
		Pairs:      r.Pairs,
		Duration:   r.Duration,
		CreatedAt:  r.StartedAt.Add(r.Duration),
	}
}

// Fitter holds the fit inputs and the current parameters.
type Fitter struct {
	table    *histogram.H2D
	sample   glauber.Sample
	target   *histogram.H1D
	params   glauber.Params
	maxPairs int
	builder  glauber.Builder
	model    *glauber.Model
}

// New creates a Fitter starting from glauber.DefaultParams. maxPairs is the
// hard capacity passed to glauber.SampleFromTable (0 = unbounded).
func New(maxPairs int) *Fitter {
	return &Fitter{
		params:   glauber.DefaultParams(),
		maxPairs: maxPairs,
	}
}

// SetCorrelation sets the (Npart, Ncoll) table the sample is scanned from.
func (f *Fitter) SetCorrelation(table *histogram.H2D) error {
	if table == nil {
		return &ConfigurationError{Reason: "nil (Npart, Ncoll) correlation"}
	}
	f.table = table
	f.sample = nil
	return nil
}

// SetSample sets an already extracted correlation sample.
func (f *Fitter) SetSample(sample glauber.Sample) {
	f.table = nil
	f.sample = sample
}

// SetTarget sets the multiplicity histogram to fit.
func (f *Fitter) SetTarget(h *histogram.H1D) error {
	if h == nil {
		return &ConfigurationError{Reason: "nil multiplicity histogram"}
	}
	f.target = h
	return nil
}

// SetBuilder replaces the ancestor distribution builder used by new models.
func (f *Fitter) SetBuilder(b glauber.Builder) { f.builder = b }

// Params returns the current parameters: the initial ones before any fit,
// the last optimizer vector afterwards.
func (f *Fitter) Params() glauber.Params { return f.params }

// SetParams overrides the current parameters.
func (f *Fitter) SetParams(p glauber.Params) { f.params = p }

// Sample returns the correlation sample of the last fit.
func (f *Fitter) Sample() glauber.Sample { return f.sample }

// Model returns the model of the last fit, or nil before any fit.
func (f *Fitter) Model() *glauber.Model { return f.model }

// initializeSample extracts the sample from the table, if one was given.
func (f *Fitter) initializeSample() error {
	if f.table != nil {
		sample, err := glauber.SampleFromTable(f.table, f.maxPairs)
		if err != nil {
			return fmt.Errorf("initialization of Npart x Ncoll correlation failed: %w", err)
		}
		f.sample = sample
	}
	if len(f.sample) == 0 {
		return &ConfigurationError{Reason: "no (Npart, Ncoll) correlation; call SetCorrelation before fitting"}
	}
	return nil
}

type dataPoint struct {
	x, y, variance float64
}

// points collects populated target bins whose centers lie in [lo, hi].
func points(h *histogram.H1D, lo, hi float64) []dataPoint {
	var pts []dataPoint
	for i := 1; i <= h.NBins(); i++ {
		x := h.BinCenter(i)
		if x < lo || x > hi {
			continue
		}
		y := h.BinContent(i)
		if y <= 0 {
			continue
		}
		pts = append(pts, dataPoint{x: x, y: y, variance: y})
	}
	return pts
}

// scaling maps optimizer coordinates (order 1) to parameter space.
type scaling []float64

func newScaling(x0 []float64) scaling {
	s := make(scaling, len(x0))
	for i, v := range x0 {
		s[i] = math.Abs(v)
		if s[i] < 1e-3 {
			s[i] = 1e-2
		}
	}
	return s
}

func (s scaling) toParams(u []float64) []float64 {
	x := make([]float64, len(u))
	for i := range u {
		x[i] = u[i] * s[i]
	}
	return x
}

func (s scaling) fromParams(x []float64) []float64 {
	u := make([]float64, len(x))
	for i := range x {
		u[i] = x[i] / s[i]
	}
	return u
}

func chi2(model *glauber.Model, p glauber.Params, pts []dataPoint) float64 {
	var sum float64
	for _, pt := range pts {
		d := pt.y - model.Evaluate(pt.x, p)
		sum += d * d / pt.variance
	}
	return sum
}

// Fit fits the model to target over [lo, hi]. On return the Fitter's
// current parameters hold the optimizer's final vector, whether or not the
// fit converged. Configuration problems are returned as errors wrapping
// ErrNotConfigured and leave the current parameters untouched.
func (f *Fitter) Fit(target *histogram.H1D, initial glauber.Params, mode glauber.Mode, lo, hi float64, opts Options) (*Result, error) {
	if target != nil {
		f.target = target
	}
	if f.target == nil {
		return nil, &ConfigurationError{Reason: "no multiplicity histogram; call SetTarget before fitting"}
	}
	if !mode.Valid() {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("invalid ancestor mode %v", mode)}
	}
	if !(lo < hi) {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("empty fit range [%g, %g]", lo, hi)}
	}
	if err := initial.Validate(); err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("initial parameters: %v", err)}
	}
	if err := f.initializeSample(); err != nil {
		return nil, err
	}
	pts := points(f.target, lo, hi)
	nfree := glauber.NumParams(opts.UseDMu)
	if len(pts) <= nfree {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("fit range [%g, %g] holds %d populated bins, need more than %d", lo, hi, len(pts), nfree)}
	}

	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	optimizer := opts.Optimizer
	if optimizer == nil {
		optimizer = DefaultNelderMead()
	}

	model := glauber.NewModel(f.sample, mode, f.builder)
	f.model = model

	x0 := initial.Vector(opts.UseDMu)
	scale := newScaling(x0)
	toParams := func(u []float64) glauber.Params {
		p := glauber.ParamsFromVector(scale.toParams(u))
		if !opts.UseDMu {
			p.DMu = initial.DMu
		}
		return p
	}
	objective := func(u []float64) float64 {
		p := toParams(u)
		if p.Validate() != nil {
			return penalty
		}
		return chi2(model, p, pts)
	}

	logger.Info("---> Config: %s", mode.Describe())
	logger.Info("---> Now fitting %d bins in [%g, %g] with %d free parameters, please wait...", len(pts), lo, hi, nfree)

	started := time.Now()
	outcome, err := optimizer.Minimize(objective, scale.fromParams(x0), maxIter)
	duration := time.Since(started)
	logger.Info("---> Fitting took %v", duration)

	result := &Result{
		ID:        uuid.New().String(),
		Mode:      mode,
		RangeLo:   lo,
		RangeHi:   hi,
		Pairs:     len(f.sample),
		StartedAt: started,
		Duration:  duration,
		NDF:       len(pts) - nfree,
	}
	if err != nil {
		logger.Error("Optimizer failed: %v", err)
		result.Params = initial
		result.Status = err.Error()
		result.Chi2 = math.NaN()
		return result, nil
	}

	result.Params = toParams(outcome.X)
	result.Success = outcome.Valid
	result.Status = outcome.Status
	result.Iterations = outcome.Iterations
	result.Evaluations = outcome.Evaluations
	result.Chi2 = chi2(model, result.Params, pts)
	f.params = result.Params

	logger.Info("Glauber NBD mu ............: %g", result.Params.Mu)
	logger.Info("Glauber NBD k .............: %g", result.Params.K)
	logger.Info("Glauber NBD f .............: %g", result.Params.F)
	logger.Info("Glauber NBD norm ..........: %g", result.Params.Norm)
	logger.Info("Glauber NBD dmu/dNanc .....: %g", result.Params.DMu)
	if result.Success {
		logger.Info("Fit converged (%s): chi2/ndf = %.4g/%d after %d iterations", result.Status, result.Chi2, result.NDF, result.Iterations)
	} else {
		logger.Warn("Fit did not converge (%s) after %d iterations; parameters are tentative", result.Status, result.Iterations)
	}
	return result, nil
}
