package glauber

import (
	"fmt"
	"math"
	"strings"
)

// Mode selects how the real-valued mixed ancestor count
// Npart·f + Ncoll·(1-f) is turned into a histogram value.
type Mode int

const (
	// Truncate drops the fractional part.
	Truncate Mode = iota
	// Round takes the nearest integer, halves rounding up.
	Round
	// Continuous keeps the real value. It is the only mode evaluated with
	// the continuous NBD.
	Continuous
)

// Ancestor histogram binning. Continuous mode needs the finer grid because
// its values are not integer aligned.
const (
	AncestorMin            = -0.5
	AncestorMax            = 999.5
	AncestorBins           = 1000
	ContinuousAncestorBins = 10000
)

// ParseMode accepts a mode name or its numeric code.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "truncate", "0":
		return Truncate, nil
	case "round", "1":
		return Round, nil
	case "continuous", "float", "2":
		return Continuous, nil
	}
	return 0, fmt.Errorf("unknown ancestor mode %q: must be one of truncate, round, continuous", s)
}

func (m Mode) String() string {
	switch m {
	case Truncate:
		return "truncate"
	case Round:
		return "round"
	case Continuous:
		return "continuous"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Valid reports whether m is one of the defined modes.
func (m Mode) Valid() bool {
	return m >= Truncate && m <= Continuous
}

// Describe returns the log line used when a fit starts.
func (m Mode) Describe() string {
	switch m {
	case Truncate:
		return "Nancestors will be truncated"
	case Round:
		return "Nancestors will be rounded"
	case Continuous:
		return "Nancestors will be taken as float"
	}
	return "Nancestors mode unknown"
}

// Bins returns the ancestor histogram bin count for this mode.
func (m Mode) Bins() int {
	if m == Continuous {
		return ContinuousAncestorBins
	}
	return AncestorBins
}

// Quantize maps a mixed ancestor value to the value filled for this mode.
func (m Mode) Quantize(x float64) float64 {
	switch m {
	case Truncate:
		return math.Trunc(x)
	case Round:
		return math.Floor(x + 0.5)
	}
	return x
}

// Ancestors returns the quantized ancestor count for one (Npart, Ncoll) pair.
func (m Mode) Ancestors(npart, ncoll, f float64) float64 {
	return m.Quantize(npart*f + ncoll*(1.0-f))
}
