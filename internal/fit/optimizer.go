package fit

import (
	"fmt"

	"gonum.org/v1/gonum/optimize"
)

// Objective is the function minimized by an Optimizer.
type Objective func(x []float64) float64

// Outcome is what an Optimizer reports back: the best vector it found and
// whether it considers the minimization converged.
type Outcome struct {
	X           []float64
	F           float64
	Valid       bool
	Status      string
	Iterations  int
	Evaluations int
}

// Optimizer searches for the minimum of an objective. It must evaluate the
// objective sequentially, never from several goroutines at once.
type Optimizer interface {
	Minimize(obj Objective, x0 []float64, maxIterations int) (Outcome, error)
}

// NelderMead is the default Optimizer, a downhill simplex search from gonum.
type NelderMead struct {
	// SimplexSize is the initial simplex edge in optimizer coordinates.
	SimplexSize float64
	// Tolerance is the absolute objective improvement below which the
	// search counts as stalled.
	Tolerance float64
	// StallIterations is how many stalled iterations end the search.
	StallIterations int
}

// DefaultNelderMead returns the settings used when Options.Optimizer is nil.
func DefaultNelderMead() NelderMead {
	return NelderMead{SimplexSize: 0.1, Tolerance: 1e-8, StallIterations: 200}
}

// Minimize runs the simplex search. The returned error is non-nil only when
// the search could not produce a location at all.
//
// Outcome.Valid reports that gonum stopped on a convergence status rather
// than a limit. That includes FunctionConvergence: the best objective moved
// by less than Tolerance over StallIterations iterations. A stall is not a
// proof of a minimum; on a flat stretch of the objective the search can
// stop far from it, so callers should still judge the fit by chi2/ndf.
func (nm NelderMead) Minimize(obj Objective, x0 []float64, maxIterations int) (Outcome, error) {
	problem := optimize.Problem{Func: obj}
	settings := &optimize.Settings{
		MajorIterations: maxIterations,
		Concurrent:      1,
		Converger: &optimize.FunctionConverge{
			Absolute:   nm.Tolerance,
			Iterations: nm.StallIterations,
		},
	}
	method := &optimize.NelderMead{SimplexSize: nm.SimplexSize}

	res, err := optimize.Minimize(problem, x0, settings, method)
	if res == nil {
		return Outcome{}, fmt.Errorf("nelder-mead produced no result: %w", err)
	}
	out := Outcome{
		X:           append([]float64(nil), res.X...),
		F:           res.F,
		Status:      res.Status.String(),
		Iterations:  res.MajorIterations,
		Evaluations: res.FuncEvaluations,
	}
	out.Valid = err == nil && converged(res.Status)
	if err != nil {
		out.Status = fmt.Sprintf("%s: %v", out.Status, err)
	}
	return out, nil
}

func converged(s optimize.Status) bool {
	switch s {
	case optimize.Success,
		optimize.FunctionConvergence,
		optimize.FunctionThreshold,
		optimize.GradientThreshold,
		optimize.StepConvergence,
		optimize.MethodConverge:
		return true
	}
	return false
}
