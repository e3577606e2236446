package util_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/nasa-jpl/vectormagnet/util"
)

func ExampleLimiter_Check() {
	l := util.Limiter{Min: -1, Max: 1}
	fmt.Println(l.Check(0.5), l.Check(1.5))
	// Output: true false
}

func TestUniqueString(t *testing.T) {
	inp := []string{"x", "theta", "x", "phi", "theta"}
	expected := []string{"x", "theta", "phi"}
	output := util.UniqueString(inp)
	if len(output) != len(expected) {
		t.Fatalf("expected %d elements, got %d", len(expected), len(output))
	}
	for i := 0; i < len(output); i++ {
		if output[i] != expected[i] {
			t.Errorf("expected %s got %s", expected[i], output[i])
		}
	}
}

func TestClampHigh(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = 20.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != high {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampLow(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = -1.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != low {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestLimiterClamp(t *testing.T) {
	l := util.Limiter{Min: 0, Max: 1e-3}
	if out := l.Clamp(5e-3); out != 1e-3 {
		t.Errorf("expected clamp to 1e-3, got %v", out)
	}
}

func TestSecsToDuration(t *testing.T) {
	var dur time.Duration = 123456789
	secs := dur.Seconds()
	out := util.SecsToDuration(secs)
	if out != dur {
		t.Errorf("expected SecsToDuration to round trip, output %v != expected %v", out, dur)
	}
}
