package mathx_test

import (
	"fmt"
	"testing"

	"github.com/nasa-jpl/vectormagnet/mathx"
)

func ExampleRound() {
	fmt.Println(mathx.Round(1.26, 0.5))
	// Output: 1.5
}

func ExampleLinspace() {
	fmt.Println(mathx.Linspace(-1, 1, 5))
	// Output: [-1 -0.5 0 0.5 1]
}

func TestRoundNegative(t *testing.T) {
	out := mathx.Round(-1.3, 0.5)
	if out != -1.5 {
		t.Errorf("expected -0.5, got %v", out)
	}
}

func TestLinspaceSingle(t *testing.T) {
	out := mathx.Linspace(3, 9, 1)
	if len(out) != 1 || out[0] != 3 {
		t.Errorf("expected [3], got %v", out)
	}
}

func TestIsClose(t *testing.T) {
	if !mathx.IsClose(1.00001, 1, 0, 1e-4) {
		t.Error("expected 1.00001 to be close to 1 with atol 1e-4")
	}
	if mathx.IsClose(1.001, 1, 0, 1e-4) {
		t.Error("expected 1.001 to not be close to 1 with atol 1e-4")
	}
}
