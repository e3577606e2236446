// Package field describes magnetic field vectors and converts them between
// cartesian and spherical representations.
//
// Cartesian vectors are in tesla.  Spherical vectors are (rho, theta, phi)
// with rho in tesla, theta the polar angle from +z, and phi the azimuth
// from +x.  Angles are in radians unless a function says otherwise.
package field

import (
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
)

const twoPi = 2 * math.Pi

var (
	// ErrShape is returned when a coordinate slice does not hold exactly three values
	ErrShape = errors.New("coordinate vector must have exactly 3 elements")

	// ErrRepresentation is returned for an unknown representation
	ErrRepresentation = errors.New("unknown coordinate representation")

	// Sentinel is the value Transform returns alongside ErrShape
	Sentinel = []float64{-1, -1, -1}
)

// Representation is a way of writing down a field vector
type Representation int

const (
	// Cart is cartesian (x, y, z) in tesla
	Cart Representation = iota

	// Rad is spherical (rho, theta, phi) with angles in radians
	Rad

	// Deg is spherical (rho, theta, phi) with angles in degrees
	Deg
)

func (r Representation) String() string {
	switch r {
	case Cart:
		return "cart"
	case Rad:
		return "rad"
	case Deg:
		return "deg"
	default:
		return fmt.Sprintf("Representation(%d)", int(r))
	}
}

// ParseRepresentation converts "cart", "rad", or "deg" (case insensitive)
// to a Representation
func ParseRepresentation(s string) (Representation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cart", "cartesian":
		return Cart, nil
	case "rad", "radians":
		return Rad, nil
	case "deg", "degrees":
		return Deg, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrRepresentation, s)
}

// Cartesian is a field vector in tesla
type Cartesian struct {
	X, Y, Z float64
}

// Norm is the magnitude of the vector
func (c Cartesian) Norm() float64 {
	return math.Sqrt(c.X*c.X + c.Y*c.Y + c.Z*c.Z)
}

// Slice returns {x, y, z}
func (c Cartesian) Slice() []float64 {
	return []float64{c.X, c.Y, c.Z}
}

// Spherical is a field vector in (tesla, rad, rad)
type Spherical struct {
	Rho, Theta, Phi float64
}

// Slice returns {rho, theta, phi}
func (s Spherical) Slice() []float64 {
	return []float64{s.Rho, s.Theta, s.Phi}
}

// ToSpherical converts a cartesian vector to spherical coordinates.
// The zero vector has theta = 0, and vectors on the z axis have phi = 0.
// phi is in [0, 2pi).
func ToSpherical(c Cartesian) Spherical {
	rho := c.Norm()
	var theta, phi float64
	if rho != 0 {
		// guard acos against |z/rho| creeping past 1 by rounding
		theta = math.Acos(math.Max(-1, math.Min(1, c.Z/rho)))
	}
	if c.X != 0 || c.Y != 0 {
		phi = math.Atan2(c.Y, c.X)
		if phi < 0 {
			phi += twoPi
		}
	}
	return Spherical{Rho: rho, Theta: theta, Phi: phi}
}

// ToCartesian converts a spherical vector to cartesian coordinates
func ToCartesian(s Spherical) Cartesian {
	sinT, cosT := math.Sincos(s.Theta)
	sinP, cosP := math.Sincos(s.Phi)
	return Cartesian{
		X: s.Rho * sinT * cosP,
		Y: s.Rho * sinT * sinP,
		Z: s.Rho * cosT,
	}
}

// wrap reduces x into [0, period)
func wrap(x, period float64) float64 {
	m := math.Mod(x, period)
	if m < 0 {
		m += period
	}
	if m >= period {
		m = 0
	}
	return m
}

// Canonical returns the same physical vector with rho >= 0, theta in [0, pi]
// and phi in [0, 2pi).  A theta past pi is reflected back with phi turned
// half a revolution; a negative rho points the opposite way.
func Canonical(s Spherical) Spherical {
	if s.Rho < 0 {
		s.Rho = -s.Rho
		s.Theta = math.Pi - s.Theta
		s.Phi += math.Pi
	}
	s.Theta = wrap(s.Theta, twoPi)
	if s.Theta > math.Pi {
		s.Theta = twoPi - s.Theta
		s.Phi += math.Pi
	}
	s.Phi = wrap(s.Phi, twoPi)
	return s
}

// Degrees converts radians to degrees
func Degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// Radians converts degrees to radians
func Radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Transform converts values from one representation to another.
//
// Spherical outputs have phi in [0, 2pi) (or [0, 360) degrees); theta is not
// range reduced, callers wanting a canonical vector use Canonical.  If values
// does not hold three elements, the error is logged and a copy of Sentinel
// is returned with ErrShape.
func Transform(from, to Representation, values []float64) ([]float64, error) {
	if len(values) != 3 {
		log.Printf("field: cannot transform %d-element vector %v from %s to %s", len(values), values, from, to)
		return append([]float64(nil), Sentinel...), ErrShape
	}
	if from > Deg || to > Deg || from < Cart || to < Cart {
		return append([]float64(nil), Sentinel...), ErrRepresentation
	}
	if from == to {
		return append([]float64(nil), values...), nil
	}

	// everything goes through radians
	var s Spherical
	switch from {
	case Cart:
		s = ToSpherical(Cartesian{values[0], values[1], values[2]})
	case Rad:
		s = Spherical{values[0], values[1], values[2]}
	case Deg:
		s = Spherical{values[0], Radians(values[1]), Radians(values[2])}
	}
	if from != Cart && s.Phi < 0 {
		s.Phi += twoPi
	}

	switch to {
	case Cart:
		return ToCartesian(s).Slice(), nil
	case Deg:
		return []float64{s.Rho, Degrees(s.Theta), Degrees(s.Phi)}, nil
	default:
		return s.Slice(), nil
	}
}
