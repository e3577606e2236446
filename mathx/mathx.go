// Package mathx holds small numeric helpers shared by the sweep and
// constraint code.
package mathx

import "math"

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
// Halves round away from zero.  Decimal units (1e-7, 0.5, ...) divide by the
// integer reciprocal so the result is the float nearest the decimal value.
func Round(x, unit float64) float64 {
	if unit == 0 {
		return x
	}
	if unit < 1 {
		if inv := math.Round(1 / unit); math.Abs(inv*unit-1) < 1e-9 {
			return math.Round(x*inv) / inv
		}
	}
	return math.Round(x/unit) * unit
}

// Linspace returns n evenly spaced values from start to stop, inclusive.
// n == 1 returns just start.
func Linspace(start, stop float64, n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = stop
	return out
}

// IsClose returns true if |a-b| <= atol + rtol*|b|, as numpy.isclose
func IsClose(a, b, rtol, atol float64) bool {
	return math.Abs(a-b) <= atol+rtol*math.Abs(b)
}
