// Package magnet composes three bipolar supplies into a vector magnet.
//
// The magnet has six axes: the cartesian field components x, y, z in tesla
// and the spherical rho (T), theta and phi (rad).  A move addresses axes of
// one family only.  Every move is checked against the magnet's constraints,
// in its present operating mode, before any supply is commanded.
package magnet

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"go.uber.org/multierr"

	"github.com/nasa-jpl/vectormagnet/constraint"
	"github.com/nasa-jpl/vectormagnet/cryomagnetics"
	"github.com/nasa-jpl/vectormagnet/field"
)

var (
	// ErrMixedCoordinates is returned when a move names cartesian and spherical axes together
	ErrMixedCoordinates = errors.New("cannot mix cartesian and spherical axes in one move")

	// ErrAxis is returned for an axis name that is not one of x, y, z, rho, theta, phi
	ErrAxis = errors.New("unknown axis")
)

// CartesianAxes are the axes driven directly by a supply
var CartesianAxes = []string{"x", "y", "z"}

// SphericalAxes are derived from the cartesian field
var SphericalAxes = []string{"rho", "theta", "phi"}

// Supply is a bipolar supply driving one coil, in tesla
type Supply interface {
	// Field returns the present field
	Field() (float64, error)

	// SetTarget sets the ramp destination without moving
	SetTarget(float64) error

	// Ramp starts moving toward the target
	Ramp() error

	// Pause holds the present field
	Pause() error

	// Zero ramps to zero field
	Zero() error

	// Moving reports if the field has not reached the target
	Moving() (bool, error)

	// State returns the status code of the supply
	State() (cryomagnetics.StateCode, error)

	// Rate returns the ramp rate
	Rate() (float64, error)

	// SetRate sets the ramp rate
	SetRate(float64) error

	// Close releases the supply
	Close() error
}

// Family is the coordinate family of an axis
type Family int

const (
	// NoFamily is the family of an unknown axis
	NoFamily Family = iota
	// Cartesian is x, y, z
	Cartesian
	// Spherical is rho, theta, phi
	Spherical
)

// FamilyOf returns the family of an axis name
func FamilyOf(axis string) Family {
	switch axis {
	case "x", "y", "z":
		return Cartesian
	case "rho", "theta", "phi":
		return Spherical
	}
	return NoFamily
}

// Magnet is a three coil vector magnet
type Magnet struct {
	supplies map[string]Supply
	checker  constraint.Checker

	// mu serializes commands that read the field and then act on it
	mu   sync.Mutex
	mode constraint.Mode
}

// New returns a magnet on the three supplies
func New(x, y, z Supply, checker constraint.Checker, mode constraint.Mode) *Magnet {
	return &Magnet{
		supplies: map[string]Supply{"x": x, "y": y, "z": z},
		checker:  checker,
		mode:     mode,
	}
}

// NewMock returns a magnet on three mock supplies ramping at rate T/s
func NewMock(checker constraint.Checker, mode constraint.Mode, rate float64) *Magnet {
	return New(cryomagnetics.NewMock(rate), cryomagnetics.NewMock(rate), cryomagnetics.NewMock(rate), checker, mode)
}

// Checker returns the constraint checker of the magnet
func (m *Magnet) Checker() constraint.Checker {
	return m.checker
}

// Field returns the present field vector
func (m *Magnet) Field() (field.Cartesian, error) {
	var v [3]float64
	for i, axis := range CartesianAxes {
		f, err := m.supplies[axis].Field()
		if err != nil {
			return field.Cartesian{}, fmt.Errorf("reading %s: %w", axis, err)
		}
		v[i] = f
	}
	return field.Cartesian{X: v[0], Y: v[1], Z: v[2]}, nil
}

func position(c field.Cartesian) map[string]float64 {
	s := field.ToSpherical(c)
	return map[string]float64{
		"x": c.X, "y": c.Y, "z": c.Z,
		"rho": s.Rho, "theta": s.Theta, "phi": s.Phi,
	}
}

// Pos returns the position of the named axes, or of all six if none are named
func (m *Magnet) Pos(axes ...string) (map[string]float64, error) {
	c, err := m.Field()
	if err != nil {
		return nil, err
	}
	all := position(c)
	if len(axes) == 0 {
		return all, nil
	}
	out := make(map[string]float64, len(axes))
	for _, a := range axes {
		v, ok := all[a]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrAxis, a)
		}
		out[a] = v
	}
	return out, nil
}

// family returns the single family of the axes in target
func family(target map[string]float64) (Family, error) {
	fam := NoFamily
	for axis := range target {
		f := FamilyOf(axis)
		if f == NoFamily {
			return NoFamily, fmt.Errorf("%w: %q", ErrAxis, axis)
		}
		if fam != NoFamily && f != fam {
			return NoFamily, ErrMixedCoordinates
		}
		fam = f
	}
	return fam, nil
}

// resolve fills the axes target leaves out from the present field cur and
// returns the cartesian destination.  Spherical targets are canonicalized.
func resolve(target map[string]float64, cur field.Cartesian) (field.Cartesian, error) {
	fam, err := family(target)
	if err != nil {
		return field.Cartesian{}, err
	}
	switch fam {
	case Cartesian:
		out := cur
		if v, ok := target["x"]; ok {
			out.X = v
		}
		if v, ok := target["y"]; ok {
			out.Y = v
		}
		if v, ok := target["z"]; ok {
			out.Z = v
		}
		return out, nil
	case Spherical:
		s := field.ToSpherical(cur)
		if v, ok := target["rho"]; ok {
			s.Rho = v
		}
		if v, ok := target["theta"]; ok {
			s.Theta = v
		}
		if v, ok := target["phi"]; ok {
			s.Phi = v
		}
		return field.ToCartesian(field.Canonical(s)), nil
	}
	return cur, nil
}

// MoveTo starts an absolute move.  Axes not in target keep their present
// value within the family of the axes that are.  The move returns once the
// supplies are ramping; use Status or Settled to wait for it.
func (m *Magnet) MoveTo(target map[string]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(target) == 0 {
		return nil
	}
	cur, err := m.Field()
	if err != nil {
		return err
	}
	dest, err := resolve(target, cur)
	if err != nil {
		return err
	}
	if err := m.checker.Validate(dest, cur, m.mode); err != nil {
		log.Printf("magnet: refusing move to %v: %v", target, err)
		return err
	}
	return m.drive(dest)
}

// drive must be called with the lock held
func (m *Magnet) drive(dest field.Cartesian) error {
	comps := dest.Slice()
	// set every limit before ramping anything, so that a failed set leaves
	// the field where it was
	for i, axis := range CartesianAxes {
		if err := m.supplies[axis].SetTarget(comps[i]); err != nil {
			return fmt.Errorf("setting %s target: %w", axis, err)
		}
	}
	var errs error
	for _, axis := range CartesianAxes {
		if err := m.supplies[axis].Ramp(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("ramping %s: %w", axis, err))
		}
	}
	if errs != nil {
		// one coil may be ramping alone; hold everything
		errs = multierr.Append(errs, m.pauseAll())
	}
	return errs
}

// MoveBy starts a relative move of the named axes
func (m *Magnet) MoveBy(delta map[string]float64) error {
	if _, err := family(delta); err != nil {
		return err
	}
	pos, err := m.Pos()
	if err != nil {
		return err
	}
	target := make(map[string]float64, len(delta))
	for axis, d := range delta {
		target[axis] = pos[axis] + d
	}
	return m.MoveTo(target)
}

// Status returns whether each named axis is moving, all six if none are
// named.  A spherical axis is moving if any supply is.
func (m *Magnet) Status(axes ...string) (map[string]bool, error) {
	moving := make(map[string]bool, 3)
	anyMoving := false
	for _, axis := range CartesianAxes {
		b, err := m.supplies[axis].Moving()
		if err != nil {
			return nil, fmt.Errorf("status of %s: %w", axis, err)
		}
		moving[axis] = b
		anyMoving = anyMoving || b
	}
	if len(axes) == 0 {
		axes = append(append([]string{}, CartesianAxes...), SphericalAxes...)
	}
	out := make(map[string]bool, len(axes))
	for _, a := range axes {
		switch FamilyOf(a) {
		case Cartesian:
			out[a] = moving[a]
		case Spherical:
			out[a] = anyMoving
		default:
			return nil, fmt.Errorf("%w: %q", ErrAxis, a)
		}
	}
	return out, nil
}

// Settled reports if no supply is moving
func (m *Magnet) Settled() (bool, error) {
	st, err := m.Status(CartesianAxes...)
	if err != nil {
		return false, err
	}
	for _, moving := range st {
		if moving {
			return false, nil
		}
	}
	return true, nil
}

func (m *Magnet) pauseAll() error {
	var errs error
	for _, axis := range CartesianAxes {
		if err := m.supplies[axis].Pause(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("pausing %s: %w", axis, err))
		}
	}
	return errs
}

// Abort pauses every supply, holding the present field.  Every supply is
// commanded even if one fails.
func (m *Magnet) Abort() error {
	return m.pauseAll()
}

// Mode returns the operating mode
func (m *Magnet) Mode() constraint.Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// SetMode switches the operating mode.  The switch is refused if the present
// field is not legal in the new mode.
func (m *Magnet) SetMode(mode constraint.Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, err := m.Field()
	if err != nil {
		return err
	}
	if err := m.checker.Validate(cur, cur, mode); err != nil {
		return fmt.Errorf("cannot switch to %s mode at the present field: %w", mode, err)
	}
	log.Printf("magnet: mode %s -> %s", m.mode, mode)
	m.mode = mode
	return nil
}

// MaxRadius returns the largest |B| reachable along (theta, phi) in the present mode
func (m *Magnet) MaxRadius(theta, phi float64) float64 {
	return m.checker.MaxRadius(theta, phi, m.Mode())
}

// Calibrate ramps the named cartesian axes to zero, all three if none are
// named.  Spherical names zero every coil.
func (m *Magnet) Calibrate(axes ...string) error {
	zero := map[string]bool{}
	if len(axes) == 0 {
		axes = CartesianAxes
	}
	for _, a := range axes {
		switch FamilyOf(a) {
		case Cartesian:
			zero[a] = true
		case Spherical:
			for _, c := range CartesianAxes {
				zero[c] = true
			}
		default:
			return fmt.Errorf("%w: %q", ErrAxis, a)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs error
	for _, axis := range CartesianAxes {
		if !zero[axis] {
			continue
		}
		if err := m.supplies[axis].Zero(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("zeroing %s: %w", axis, err))
		}
	}
	return errs
}

// Velocity returns the ramp rate of each supply
func (m *Magnet) Velocity() (map[string]float64, error) {
	out := make(map[string]float64, 3)
	for _, axis := range CartesianAxes {
		r, err := m.supplies[axis].Rate()
		if err != nil {
			return nil, fmt.Errorf("rate of %s: %w", axis, err)
		}
		out[axis] = r
	}
	return out, nil
}

// SupplyStatus returns the status code of each supply
func (m *Magnet) SupplyStatus() (map[string]cryomagnetics.StateCode, error) {
	out := make(map[string]cryomagnetics.StateCode, 3)
	for _, axis := range CartesianAxes {
		s, err := m.supplies[axis].State()
		if err != nil {
			return nil, fmt.Errorf("state of %s: %w", axis, err)
		}
		out[axis] = s
	}
	return out, nil
}

// Close releases every supply
func (m *Magnet) Close() error {
	var errs error
	for _, axis := range CartesianAxes {
		errs = multierr.Append(errs, m.supplies[axis].Close())
	}
	return errs
}
