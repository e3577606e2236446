// Package util contains misc internal utilities.
package util

import (
	"math"
	"time"
)

// Limiter holds a closed interval a value may occupy
type Limiter struct {
	Min float64 `yaml:"Min" koanf:"Min" json:"min"`
	Max float64 `yaml:"Max" koanf:"Max" json:"max"`
}

// Check returns true if Min <= f <= Max
func (l Limiter) Check(f float64) bool {
	return f >= l.Min && f <= l.Max
}

// Clamp restricts f to [l.Min, l.Max]
func (l Limiter) Clamp(f float64) float64 {
	return Clamp(f, l.Min, l.Max)
}

// Clamp restricts input to [low, high]
func Clamp(input, low, high float64) float64 {
	return math.Max(low, math.Min(input, high))
}

// SecsToDuration converts a float of seconds to a time.Duration,
// rounded to the nearest nanosecond
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(math.Round(secs * 1e9))
}

// UniqueString returns the unique elements of a slice of strings, in the order
// they first appear
func UniqueString(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
