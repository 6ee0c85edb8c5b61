// Package util contains misc internal utilities.
package util

// Limiter describes the closed interval [Min, Max] a position may take, in
// steps
type Limiter struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Check returns true if input is within the limits, inclusive
func (l Limiter) Check(input int) bool {
	return input >= l.Min && input <= l.Max
}

// Clamp returns input limited to [Min, Max]
func (l Limiter) Clamp(input int) int {
	if input < l.Min {
		return l.Min
	}
	if input > l.Max {
		return l.Max
	}
	return input
}

// Offset returns Clamp(p + d) for p within the limits.  It does not overflow
// for any d.
func (l Limiter) Offset(p, d int) int {
	if d >= 0 {
		if d > l.Max-p {
			return l.Max
		}
	} else if d < l.Min-p {
		return l.Min
	}
	return l.Clamp(p + d)
}
