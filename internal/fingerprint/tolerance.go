package fingerprint

import (
	"fmt"
	"math"
)

// Tolerance is the maximum embedding distance for two faces to match.
// Obtain one through ToleranceRange.Parse.
type Tolerance float64

// Float64 returns the tolerance as a plain number.
func (t Tolerance) Float64() float64 {
	return float64(t)
}

// ToleranceRange is the inclusive range of tolerances accepted from users.
type ToleranceRange struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// DefaultToleranceRange matches the sensitivity slider of the web UI.
var DefaultToleranceRange = ToleranceRange{Min: 0.30, Max: 0.70}

// Validate checks that the range itself is usable.
func (r ToleranceRange) Validate() error {
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || r.Min < 0 || r.Min > r.Max {
		return fmt.Errorf("%w: bad range [%v, %v]", ErrInvalidTolerance, r.Min, r.Max)
	}
	return nil
}

// Parse validates v against the range.
func (r ToleranceRange) Parse(v float64) (Tolerance, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %v is not a number", ErrInvalidTolerance, v)
	}
	if v < r.Min || v > r.Max {
		return 0, fmt.Errorf("%w: %.2f outside [%.2f, %.2f]", ErrInvalidTolerance, v, r.Min, r.Max)
	}
	return Tolerance(v), nil
}
