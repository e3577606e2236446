package magnet

import (
	"fmt"
	"math"

	"github.com/nasa-jpl/vectormagnet/constraint"
	"github.com/nasa-jpl/vectormagnet/util"
)

// AxisConstraint describes the range of one axis
type AxisConstraint struct {
	Label   string  `json:"label" yaml:"label"`
	Unit    string  `json:"unit" yaml:"unit"`
	PosMin  float64 `json:"pos_min" yaml:"pos_min"`
	PosMax  float64 `json:"pos_max" yaml:"pos_max"`
	PosStep float64 `json:"pos_step" yaml:"pos_step"`
	VelMin  float64 `json:"vel_min" yaml:"vel_min"`
	VelMax  float64 `json:"vel_max" yaml:"vel_max"`
}

// Constraints returns the range of every axis.  The rho maximum depends on
// the present direction of the field and the operating mode.
func (m *Magnet) Constraints() (map[string]AxisConstraint, error) {
	pos, err := m.Pos()
	if err != nil {
		return nil, err
	}
	mode := m.Mode()
	out := make(map[string]AxisConstraint, 6)
	for _, axis := range append(append([]string{}, CartesianAxes...), SphericalAxes...) {
		lim, _ := m.checker.Limits.Axis(axis)
		c := AxisConstraint{Label: axis, Unit: "T", PosMin: lim.Min, PosMax: lim.Max, PosStep: 1e-6, VelMax: 1e-3}
		switch axis {
		case "rho":
			c.PosMax = m.checker.MaxRadius(pos["theta"], pos["phi"], mode)
			c.VelMax = 1
		case "theta", "phi":
			c.Unit = "rad"
			c.PosStep = 2 * math.Pi / 1000
			c.VelMax = 1
		}
		if mode == constraint.ZFocused && (axis == "x" || axis == "y") {
			// only the cone is open, ZMax*sin(half angle) wide at its mouth
			half := m.checker.ConeHalfAngle
			if half == 0 {
				half = constraint.DefaultConeHalfAngle
			}
			w := m.checker.ZMax * math.Sin(half)
			c.PosMin, c.PosMax = -w, w
		}
		out[axis] = c
	}
	return out, nil
}

// AxisLimits returns the present position interval of one axis, ok is
// false for an unknown axis or when the field cannot be read
func (m *Magnet) AxisLimits(axis string) (util.Limiter, bool) {
	cs, err := m.Constraints()
	if err != nil {
		return util.Limiter{}, false
	}
	c, ok := cs[axis]
	return util.Limiter{Min: c.PosMin, Max: c.PosMax}, ok
}

// The methods below address a single axis by name, the way a motion
// controller does.

// GetPos returns the position of one axis
func (m *Magnet) GetPos(axis string) (float64, error) {
	pos, err := m.Pos(axis)
	if err != nil {
		return 0, err
	}
	return pos[axis], nil
}

// MoveAbs moves one axis to pos, holding the others of its family
func (m *Magnet) MoveAbs(axis string, pos float64) error {
	return m.MoveTo(map[string]float64{axis: pos})
}

// MoveRel moves one axis by delta
func (m *Magnet) MoveRel(axis string, delta float64) error {
	return m.MoveBy(map[string]float64{axis: delta})
}

// Home ramps an axis to zero.  For a spherical axis that is every coil.
func (m *Magnet) Home(axis string) error {
	return m.Calibrate(axis)
}

// Stop pauses the supply of a cartesian axis, or every supply for a
// spherical one
func (m *Magnet) Stop(axis string) error {
	switch FamilyOf(axis) {
	case Cartesian:
		return m.supplies[axis].Pause()
	case Spherical:
		return m.Abort()
	}
	return fmt.Errorf("%w: %q", ErrAxis, axis)
}

// GetInPosition returns true if the axis is not moving
func (m *Magnet) GetInPosition(axis string) (bool, error) {
	st, err := m.Status(axis)
	if err != nil {
		return false, err
	}
	return !st[axis], nil
}

// GetVelocity returns the ramp rate of a cartesian axis
func (m *Magnet) GetVelocity(axis string) (float64, error) {
	if FamilyOf(axis) != Cartesian {
		return 0, fmt.Errorf("%w: velocity is set per coil, not for %q", ErrAxis, axis)
	}
	return m.supplies[axis].Rate()
}

// SetVelocity sets the ramp rate of a cartesian axis
func (m *Magnet) SetVelocity(axis string, v float64) error {
	if FamilyOf(axis) != Cartesian {
		return fmt.Errorf("%w: velocity is set per coil, not for %q", ErrAxis, axis)
	}
	return m.supplies[axis].SetRate(v)
}

// HasAxis reports if axis is one of the six axes of the magnet
func (m *Magnet) HasAxis(axis string) bool {
	return FamilyOf(axis) != NoFamily
}
