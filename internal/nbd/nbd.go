// Package nbd evaluates the negative binomial distribution used as the
// per-source emission model.
//
// Two forms are provided. PMF/Eval is the ordinary mass function over
// non-negative integer counts, parameterized by mean mu and shape k
// (success probability p = k/(k+mu)). Continuous is the analytic
// continuation of the same expression to real-valued counts, which is what
// the model needs once the source count itself is no longer an integer.
//
// Invalid parameters (mu <= 0, k <= 0, NaN) never panic: every evaluator
// returns exactly 0 for them. Use CheckParams when an explicit error is
// preferable.
package nbd

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mathext"
)

// LogSpaceThreshold is the value of n+k above which Continuous switches to
// log-gamma evaluation; math.Gamma overflows shortly past 170.
const LogSpaceThreshold = 100.0

// MultiplicityFloor is the multiplicity at or below which callers treat the
// emission probability as zero.
const MultiplicityFloor = 1e-6

// ErrDomain is wrapped by every DomainError.
var ErrDomain = errors.New("nbd parameters out of domain")

// DomainError reports a non-positive or NaN mean/shape.
type DomainError struct {
	Mu float64
	K  float64
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("invalid NBD parameters mu=%g k=%g: both must be positive", e.Mu, e.K)
}

func (e *DomainError) Unwrap() error { return ErrDomain }

// CheckParams returns a *DomainError unless mu and k are both positive.
func CheckParams(mu, k float64) error {
	if !valid(mu, k) {
		return &DomainError{Mu: mu, K: k}
	}
	return nil
}

func valid(mu, k float64) bool {
	return mu > 0 && k > 0 && !math.IsInf(mu, 0) && !math.IsInf(k, 0)
}

// P returns the success probability k/(k+mu) matching (mu, k).
func P(mu, k float64) float64 {
	return k / (k + mu)
}

// PMF returns the probability of exactly n counts.
func PMF(n int, mu, k float64) float64 {
	if n < 0 || !valid(mu, k) {
		return 0
	}
	return math.Exp(logPMF(float64(n), mu, k))
}

// logPMF uses Γ(n+k)/(Γ(n+1)Γ(k)) = 1/((n+k)·B(n+1,k)).
func logPMF(n, mu, k float64) float64 {
	lcoef := -math.Log(n+k) - mathext.Lbeta(n+1, k)
	lp := math.Log(k) - math.Log(k+mu)
	lq := math.Log(mu) - math.Log(k+mu)
	if n == 0 {
		return lcoef + k*lp
	}
	return lcoef + k*lp + n*lq
}

// Eval evaluates the mass function at a real abscissa. The count is the
// integer part of x, so Eval(50.7) == PMF(50); negative x gives 0.
func Eval(x, mu, k float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	return PMF(int(math.Floor(x)), mu, k)
}

// Continuous is the analytic continuation of the NBD to real n:
//
//	F(n,mu,k) = Γ(n+k)/(Γ(n+1)Γ(k)) · (mu/k)^n · (1+mu/k)^-(n+k)
//
// For integer n it equals PMF. Above LogSpaceThreshold the gamma functions
// are combined in log space.
func Continuous(n, mu, k float64) float64 {
	if math.IsNaN(n) || n < 0 || !valid(mu, k) {
		return 0
	}
	if n+k > LogSpaceThreshold {
		return continuousLog(n, mu, k)
	}
	return continuousDirect(n, mu, k)
}

// ContinuousLog evaluates Continuous through log-gamma regardless of n+k.
func ContinuousLog(n, mu, k float64) float64 {
	if math.IsNaN(n) || n < 0 || !valid(mu, k) {
		return 0
	}
	return continuousLog(n, mu, k)
}

// ContinuousDirect evaluates Continuous through math.Gamma regardless of n+k.
// It overflows for large n+k.
func ContinuousDirect(n, mu, k float64) float64 {
	if math.IsNaN(n) || n < 0 || !valid(mu, k) {
		return 0
	}
	return continuousDirect(n, mu, k)
}

func powerTerms(n, mu, k float64) float64 {
	return n*math.Log(mu/k) - (n+k)*math.Log1p(mu/k)
}

func continuousLog(n, mu, k float64) float64 {
	lgNK, _ := math.Lgamma(n + k)
	lgN1, _ := math.Lgamma(n + 1)
	lgK, _ := math.Lgamma(k)
	return math.Exp(lgNK - lgN1 - lgK + powerTerms(n, mu, k))
}

func continuousDirect(n, mu, k float64) float64 {
	coef := math.Gamma(n+k) / (math.Gamma(n+1) * math.Gamma(k))
	return coef * math.Exp(powerTerms(n, mu, k))
}

// Variance returns mu·(1+mu/k), or 0 outside the domain.
func Variance(mu, k float64) float64 {
	if !valid(mu, k) {
		return 0
	}
	return mu * (1 + mu/k)
}
