package constraint_test

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/nasa-jpl/vectormagnet/constraint"
	"github.com/nasa-jpl/vectormagnet/field"
)

// 1 T per transverse coil, 3 T on z, 1.2 T total
var lim = constraint.Limits{XMax: 1, YMax: 1, ZMax: 3, RhoMax: 1.2}

var origin = field.Cartesian{}

func TestNormalBox(t *testing.T) {
	c := constraint.New(lim)
	cases := []struct {
		v    field.Cartesian
		want bool
	}{
		{field.Cartesian{X: 0.5}, true},
		{field.Cartesian{X: 1.1}, false},
		{field.Cartesian{Y: -1.01}, false},
		{field.Cartesian{Z: 1.1}, true},
		{field.Cartesian{Z: -3.1}, false},
		{field.Cartesian{X: 0.8, Y: 0.8}, true},
		{field.Cartesian{X: 0.9, Y: 0.9}, false}, // |B| 1.27
	}
	for _, tc := range cases {
		if got := c.Check(tc.v, origin, constraint.Normal); got != tc.want {
			t.Errorf("Check(%+v) = %v, want %v", tc.v, got, tc.want)
		}
	}
}

func TestNormalTransitionCorner(t *testing.T) {
	c := constraint.New(lim)
	current := field.Cartesian{Z: 1.0}
	target := field.Cartesian{X: 0.8}
	// both ends are legal ...
	if !c.Check(current, origin, constraint.Normal) || !c.Check(target, origin, constraint.Normal) {
		t.Fatal("endpoints expected to be legal on their own")
	}
	// ... but the ramp may pass through (0.8, 0, 1.0), |B| = 1.28
	err := c.Validate(target, current, constraint.Normal)
	if !errors.Is(err, constraint.ErrViolation) {
		t.Fatalf("expected a violation for the transition corner, got %v", err)
	}
	var v *constraint.Violation
	if !errors.As(err, &v) || v.Mode != constraint.Normal {
		t.Errorf("expected a *Violation in normal mode, got %#v", err)
	}
}

func TestZFocusedRegion(t *testing.T) {
	c := constraint.New(lim)
	cases := []struct {
		name string
		v    field.Cartesian
		want bool
	}{
		{"origin", origin, true},
		{"on axis", field.Cartesian{Z: 2.5}, true},
		{"on -z axis", field.Cartesian{Z: -2.5}, true},
		{"inside cone", field.Cartesian{X: 0.05, Z: 2}, true},
		{"outside cone", field.Cartesian{X: 0.5, Z: 1}, false},
		{"past apex in cap", field.Cartesian{Z: 3}, true},
		{"transverse", field.Cartesian{X: 0.3}, false},
		{"above cap", field.Cartesian{Z: 4.3}, false},
	}
	for _, tc := range cases {
		if got := c.Check(tc.v, origin, constraint.ZFocused); got != tc.want {
			t.Errorf("%s: Check(%+v) = %v, want %v", tc.name, tc.v, got, tc.want)
		}
	}
}

func TestCheckSliceMalformed(t *testing.T) {
	c := constraint.New(lim)
	if c.CheckSlice([]float64{0, 0}, []float64{0, 0, 0}, constraint.Normal) {
		t.Error("expected a two-element target to be rejected")
	}
	if !c.CheckSlice([]float64{0, 0, 0.1}, []float64{0, 0, 0}, constraint.Normal) {
		t.Error("expected a small z field to be accepted")
	}
}

func TestMaxRadiusNormal(t *testing.T) {
	c := constraint.New(lim)
	cases := []struct {
		name       string
		theta, phi float64
		want       float64
		face       constraint.Face
	}{
		{"+x", math.Pi / 2, 0, 1, constraint.PosX},
		{"-x", math.Pi / 2, math.Pi, 1, constraint.NegX},
		{"-y", math.Pi / 2, 3 * math.Pi / 2, 1, constraint.NegY},
		{"+z", 0, 0, 1.2, constraint.PosZ},
		{"xy diagonal", math.Pi / 2, math.Pi / 4, 1.2, constraint.PosX},
	}
	for _, tc := range cases {
		got := c.MaxRadius(tc.theta, tc.phi, constraint.Normal)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("%s: MaxRadius = %v, want %v", tc.name, got, tc.want)
		}
	}
	for _, tc := range cases[:3] {
		face, _ := c.ExitFace(tc.theta, tc.phi)
		if face != tc.face {
			t.Errorf("%s: ExitFace = %s, want %s", tc.name, face, tc.face)
		}
	}
}

func TestMaxRadiusZFocused(t *testing.T) {
	c := constraint.New(lim)
	if r := c.MaxRadius(0.01, 1, constraint.ZFocused); r != 3 {
		t.Errorf("expected 3 T inside the cone, got %v", r)
	}
	if r := c.MaxRadius(math.Pi-0.01, 0, constraint.ZFocused); r != 3 {
		t.Errorf("expected 3 T inside the -z cone, got %v", r)
	}
	if r := c.MaxRadius(math.Pi/2, 0, constraint.ZFocused); r != 0 {
		t.Errorf("expected 0 outside the cone, got %v", r)
	}
}

// Any vector no longer than MaxRadius in its direction is legal, starting
// from zero field.
func TestMaxRadiusIsReachable(t *testing.T) {
	c := constraint.New(lim)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		theta := rng.Float64() * math.Pi
		phi := rng.Float64() * 2 * math.Pi
		frac := rng.Float64()
		r := c.MaxRadius(theta, phi, constraint.Normal) * frac * (1 - 1e-9)
		v := field.ToCartesian(field.Spherical{Rho: r, Theta: theta, Phi: phi})
		if !c.Check(v, origin, constraint.Normal) {
			t.Fatalf("normal: %+v with |v| <= MaxRadius rejected", v)
		}

		theta = rng.Float64() * constraint.DefaultConeHalfAngle
		if rng.Intn(2) == 1 {
			theta = math.Pi - theta
		}
		r = c.MaxRadius(theta, phi, constraint.ZFocused) * frac
		v = field.ToCartesian(field.Spherical{Rho: r, Theta: theta, Phi: phi})
		if !c.Check(v, origin, constraint.ZFocused) {
			t.Fatalf("z focused: %+v with |v| <= MaxRadius rejected", v)
		}
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]constraint.Mode{
		"normal_mode": constraint.Normal,
		"z_mode":      constraint.ZFocused,
		"Z_FOCUSED":   constraint.ZFocused,
	} {
		got, err := constraint.ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := constraint.ParseMode("sideways"); !errors.Is(err, constraint.ErrMode) {
		t.Errorf("expected ErrMode, got %v", err)
	}
}

func TestLimitsAxis(t *testing.T) {
	l, ok := lim.Axis("z")
	if !ok || l.Min != -3 || l.Max != 3 {
		t.Errorf("expected z limits of +/-3, got %+v %v", l, ok)
	}
	if _, ok := lim.Axis("w"); ok {
		t.Error("expected unknown axis to not be ok")
	}
}
