// Package constraint decides which field vectors a vector magnet may be driven to.
//
// Two operating modes exist.  In Normal mode each coil is limited by a box
// |x| <= XMax, |y| <= YMax, |z| <= ZMax and the total field by a sphere of
// radius RhoMax.  In ZFocused mode only a narrow double cone about the z axis
// is permitted, to the full z coil limit, plus two spheres capping the cone
// apexes.
package constraint

import (
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"strings"

	"github.com/nasa-jpl/vectormagnet/field"
	"github.com/nasa-jpl/vectormagnet/util"
)

// DefaultConeHalfAngle is the half-angle of the ZFocused cone, 5 degrees
var DefaultConeHalfAngle = field.Radians(5)

var (
	// ErrViolation is matched by every *Violation via errors.Is
	ErrViolation = errors.New("field vector violates magnet constraints")

	// ErrMode is returned when a mode string cannot be parsed
	ErrMode = errors.New("unknown operating mode")
)

// Mode is the operating mode of the magnet
type Mode int

const (
	// Normal permits the box intersected with the rho sphere
	Normal Mode = iota

	// ZFocused permits the high field cone about the z axis
	ZFocused
)

func (m Mode) String() string {
	switch m {
	case Normal:
		return "normal"
	case ZFocused:
		return "z_focused"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// MarshalText encodes the mode as its String
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText is the inverse of MarshalText
func (m *Mode) UnmarshalText(b []byte) error {
	mode, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// ParseMode converts a string to a Mode.  The names used in magnet config files
// ("normal_mode", "z_mode") are accepted too.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal", "normal_mode", "":
		return Normal, nil
	case "z", "z_mode", "z_focused", "zfocused":
		return ZFocused, nil
	}
	return Normal, fmt.Errorf("%w: %q", ErrMode, s)
}

// Limits are the field limits of the magnet, in tesla
type Limits struct {
	XMax   float64 `yaml:"XMax" koanf:"XMax" json:"xMax"`
	YMax   float64 `yaml:"YMax" koanf:"YMax" json:"yMax"`
	ZMax   float64 `yaml:"ZMax" koanf:"ZMax" json:"zMax"`
	RhoMax float64 `yaml:"RhoMax" koanf:"RhoMax" json:"rhoMax"`
}

// Axis returns the position interval of a named axis (x, y, z, rho, theta, phi).
// ok is false for an unknown axis.
func (l Limits) Axis(name string) (lim util.Limiter, ok bool) {
	switch name {
	case "x":
		return util.Limiter{Min: -l.XMax, Max: l.XMax}, true
	case "y":
		return util.Limiter{Min: -l.YMax, Max: l.YMax}, true
	case "z":
		return util.Limiter{Min: -l.ZMax, Max: l.ZMax}, true
	case "rho":
		return util.Limiter{Min: 0, Max: l.RhoMax}, true
	case "theta":
		return util.Limiter{Min: 0, Max: math.Pi}, true
	case "phi":
		return util.Limiter{Min: 0, Max: 2 * math.Pi}, true
	}
	return util.Limiter{}, false
}

// Violation describes why a field vector was rejected
type Violation struct {
	Mode   Mode
	Target field.Cartesian
	Rule   string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s mode: target (%g, %g, %g) T rejected: %s",
		v.Mode, v.Target.X, v.Target.Y, v.Target.Z, v.Rule)
}

// Is makes errors.Is(v, ErrViolation) true
func (v *Violation) Is(target error) bool {
	return target == ErrViolation
}

// StatusCode is 422, a violation is a well formed request the magnet refuses
func (v *Violation) StatusCode() int {
	return http.StatusUnprocessableEntity
}

// Checker validates field vectors against Limits
type Checker struct {
	Limits

	// ConeHalfAngle is the ZFocused cone half-angle in radians.
	// zero means DefaultConeHalfAngle
	ConeHalfAngle float64
}

// New returns a Checker with the default cone
func New(l Limits) Checker {
	return Checker{Limits: l, ConeHalfAngle: DefaultConeHalfAngle}
}

func (c Checker) cone() float64 {
	if c.ConeHalfAngle == 0 {
		return DefaultConeHalfAngle
	}
	return c.ConeHalfAngle
}

// ConeHeight is the z extent of the ZFocused cone, ZMax*cos(half angle).
// The capping spheres are centered at (0, 0, +/-ConeHeight).
func (c Checker) ConeHeight() float64 {
	return c.ZMax * math.Cos(c.cone())
}

// Validate returns nil if target is legal in mode, given that the field is
// presently current.  Otherwise the error is a *Violation.
//
// In Normal mode the 8 corners of the box spanned by current and target are
// checked against RhoMax as well, since the three supplies ramp independently
// and the field may pass through any of them.
func (c Checker) Validate(target, current field.Cartesian, mode Mode) error {
	violate := func(format string, args ...interface{}) error {
		return &Violation{Mode: mode, Target: target, Rule: fmt.Sprintf(format, args...)}
	}
	switch mode {
	case Normal:
		if math.Abs(target.X) > c.XMax {
			return violate("|x| > %g", c.XMax)
		}
		if math.Abs(target.Y) > c.YMax {
			return violate("|y| > %g", c.YMax)
		}
		if math.Abs(target.Z) > c.ZMax {
			return violate("|z| > %g", c.ZMax)
		}
		if target.Norm() > c.RhoMax {
			return violate("|B| = %g > %g", target.Norm(), c.RhoMax)
		}
		for _, corner := range corners(current, target) {
			if n := corner.Norm(); n > c.RhoMax {
				return violate("ramp passes (%g, %g, %g) with |B| = %g > %g",
					corner.X, corner.Y, corner.Z, n, c.RhoMax)
			}
		}
		return nil
	case ZFocused:
		if c.inCone(target) || c.inCaps(target) {
			return nil
		}
		return violate("outside the %g degree cone and its caps", field.Degrees(c.cone()))
	}
	return fmt.Errorf("%w: %d", ErrMode, int(mode))
}

// Check is Validate reduced to a bool
func (c Checker) Check(target, current field.Cartesian, mode Mode) bool {
	return c.Validate(target, current, mode) == nil
}

// CheckSlice is Check for raw {x, y, z} slices.  Slices that are not
// three long are logged and rejected.
func (c Checker) CheckSlice(target, current []float64, mode Mode) bool {
	if len(target) != 3 || len(current) != 3 {
		log.Printf("constraint: malformed vectors target=%v current=%v", target, current)
		return false
	}
	t := field.Cartesian{X: target[0], Y: target[1], Z: target[2]}
	cur := field.Cartesian{X: current[0], Y: current[1], Z: current[2]}
	return c.Check(t, cur, mode)
}

func (c Checker) inCone(v field.Cartesian) bool {
	if math.Abs(v.Z) > c.ConeHeight() {
		return false
	}
	tan := math.Tan(c.cone())
	return v.X*v.X+v.Y*v.Y <= tan*tan*v.Z*v.Z
}

func (c Checker) inCaps(v field.Cartesian) bool {
	h := c.ConeHeight()
	r2 := c.RhoMax * c.RhoMax
	xy := v.X*v.X + v.Y*v.Y
	up := xy + (v.Z-h)*(v.Z-h)
	down := xy + (v.Z+h)*(v.Z+h)
	return up <= r2 || down <= r2
}

// corners returns the 8 combinations of per-axis values drawn from a and b
func corners(a, b field.Cartesian) []field.Cartesian {
	xs := [2]float64{a.X, b.X}
	ys := [2]float64{a.Y, b.Y}
	zs := [2]float64{a.Z, b.Z}
	out := make([]field.Cartesian, 0, 8)
	for _, x := range xs {
		for _, y := range ys {
			for _, z := range zs {
				out = append(out, field.Cartesian{X: x, Y: y, Z: z})
			}
		}
	}
	return out
}

// InCone reports if the direction (theta, phi) lies within the ZFocused cone
// about +z or -z
func (c Checker) InCone(theta float64) bool {
	s := field.Canonical(field.Spherical{Rho: 1, Theta: theta})
	a := c.cone()
	return s.Theta <= a || s.Theta >= math.Pi-a
}

// MaxRadius returns the largest field magnitude reachable along the
// direction (theta, phi) in mode.
//
// ZFocused: ZMax inside the cone, 0 outside.  Normal: RhoMax if that
// point is inside the box, else the distance at which the ray leaves the
// box.
func (c Checker) MaxRadius(theta, phi float64, mode Mode) float64 {
	if mode == ZFocused {
		if c.InCone(theta) {
			return c.ZMax
		}
		return 0
	}
	u := field.ToCartesian(field.Spherical{Rho: 1, Theta: theta, Phi: phi})
	p := field.Cartesian{X: u.X * c.RhoMax, Y: u.Y * c.RhoMax, Z: u.Z * c.RhoMax}
	if math.Abs(p.X) <= c.XMax && math.Abs(p.Y) <= c.YMax && math.Abs(p.Z) <= c.ZMax {
		return c.RhoMax
	}
	_, dist := c.ExitFace(theta, phi)
	return math.Min(dist, c.RhoMax)
}
