// Package pathway generates the ordered list of absolute moves a 2D
// alignment sweep visits, and the map from each move back to its grid cell.
//
// The only traversal implemented is snake-wise: axis0 is swept back and forth
// while axis1 advances one step per row, so consecutive moves are always
// neighboring grid cells.
package pathway

import (
	"errors"
	"fmt"
	"math"

	"github.com/nasa-jpl/vectormagnet/mathx"
)

// positions are rounded to this before they are handed to the magnet
const posResolution = 1e-7

var (
	// ErrStep is returned when a nonzero range is paired with a step <= 0
	ErrStep = errors.New("step must be positive for a nonzero range")

	// ErrRange is returned for a negative range
	ErrRange = errors.New("range must not be negative")

	// ErrAxis is returned when axis names are missing or collide
	ErrAxis = errors.New("sweep needs two distinct, named axes")

	// ErrStart is returned when the start position lacks a swept axis
	ErrStart = errors.New("start position does not include a swept axis")

	// ErrModeNotImplemented is returned for pathway modes other than snake-wise
	ErrModeNotImplemented = errors.New("pathway mode not implemented")
)

// Mode is the way the grid is traversed
type Mode string

const (
	// SnakeWise sweeps axis0 back and forth, advancing axis1 each row
	SnakeWise Mode = "snake-wise"

	// SpiralIn walks the grid border inward
	SpiralIn Mode = "spiral-in"

	// SpiralOut walks from the center outward
	SpiralOut Mode = "spiral-out"

	// DiagonalSnakeWise snakes along anti-diagonals
	DiagonalSnakeWise Mode = "diagonal-snake-wise"

	// SelectedPoints visits a user supplied list of cells
	SelectedPoints Mode = "selected-points"
)

// Modes lists every pathway mode, implemented or not
var Modes = []Mode{SnakeWise, SpiralIn, SpiralOut, DiagonalSnakeWise, SelectedPoints}

// Command is the instruction for one axis in one step
type Command struct {
	// MoveAbs is the absolute target position of the axis
	MoveAbs float64 `json:"move_abs" yaml:"move_abs"`

	// Vel is the velocity to move with, zero leaves the velocity alone
	Vel float64 `json:"move_vel,omitempty" yaml:"move_vel,omitempty"`
}

// Step maps axis names to their commands for one pathway entry
type Step map[string]Command

// Targets returns the absolute targets of the step
func (s Step) Targets() map[string]float64 {
	out := make(map[string]float64, len(s))
	for k, c := range s {
		out[k] = c.MoveAbs
	}
	return out
}

// Pathway is the ordered list of steps of a sweep
type Pathway []Step

// Point is a backmap entry: the absolute axis values of a step, and the
// (i0, i1) grid cell it fills
type Point struct {
	Values map[string]float64 `json:"values" yaml:"values"`
	Index  [2]int             `json:"index" yaml:"index"`
}

// pointYAML carries the index as a sequence; the yaml encoder cannot
// handle fixed size arrays
type pointYAML struct {
	Values map[string]float64 `yaml:"values"`
	Index  []int              `yaml:"index,flow"`
}

// MarshalYAML implements yaml.Marshaler
func (p Point) MarshalYAML() (interface{}, error) {
	return pointYAML{Values: p.Values, Index: []int{p.Index[0], p.Index[1]}}, nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (p *Point) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var y pointYAML
	if err := unmarshal(&y); err != nil {
		return err
	}
	if len(y.Index) != 2 {
		return fmt.Errorf("backmap index must have 2 elements, got %d", len(y.Index))
	}
	p.Values = y.Values
	p.Index = [2]int{y.Index[0], y.Index[1]}
	return nil
}

// Backmap has one Point per pathway step, at the same index
type Backmap []Point

// Axis describes the sweep of one axis
type Axis struct {
	Name  string  `json:"name" yaml:"Name" koanf:"Name"`
	Range float64 `json:"range" yaml:"Range" koanf:"Range"`
	Step  float64 `json:"step" yaml:"Step" koanf:"Step"`
	Vel   float64 `json:"vel,omitempty" yaml:"Vel" koanf:"Vel"`
}

// Sweep fully specifies a pathway
type Sweep struct {
	Axis0 Axis `json:"axis0" yaml:"Axis0" koanf:"Axis0"`
	Axis1 Axis `json:"axis1" yaml:"Axis1" koanf:"Axis1"`

	// Start is the position the sweep is centered on
	Start map[string]float64 `json:"start,omitempty" yaml:"Start" koanf:"Start"`

	// Mode defaults to SnakeWise when empty
	Mode Mode `json:"mode,omitempty" yaml:"Mode" koanf:"Mode"`
}

// NumSteps is the number of steps of size step that fit in rng.
// A grid axis has NumSteps+1 points.  A step larger than the range gives 0,
// a step equal to it gives 1.
func NumSteps(rng, step float64) (int, error) {
	if rng < 0 {
		return 0, ErrRange
	}
	if rng == 0 {
		return 0, nil
	}
	if step <= 0 {
		return 0, ErrStep
	}
	// rng/step can land a hair under an integer, e.g. 0.3/0.1
	return int(math.Floor(rng/step + 1e-9)), nil
}

// Shape returns the number of grid points along each axis
func Shape(s Sweep) (n0, n1 int, err error) {
	n0, err = NumSteps(s.Axis0.Range, s.Axis0.Step)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", s.Axis0.Name, err)
	}
	n1, err = NumSteps(s.Axis1.Range, s.Axis1.Step)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", s.Axis1.Name, err)
	}
	return n0 + 1, n1 + 1, nil
}

// origin is the low corner of the swept rectangle for an axis
func origin(a Axis, start map[string]float64) (float64, error) {
	c, ok := start[a.Name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrStart, a.Name)
	}
	return mathx.Round(c-a.Range/2, posResolution), nil
}

func at(origin, step float64, i int) float64 {
	return mathx.Round(origin+float64(i)*step, posResolution)
}

func (s Sweep) validate() error {
	if s.Axis0.Name == "" || s.Axis1.Name == "" || s.Axis0.Name == s.Axis1.Name {
		return fmt.Errorf("%w: got %q and %q", ErrAxis, s.Axis0.Name, s.Axis1.Name)
	}
	switch s.Mode {
	case "", SnakeWise:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrModeNotImplemented, s.Mode)
}

// Build generates the pathway and backmap of a sweep.
//
// The grid is closed: each axis has NumSteps+1 points, the first being
// Start - Range/2, and every cell is visited exactly once, so
// len(pathway) = (n0+1)(n1+1).  Step 0 is the move to the corner cell (0, 0).
func Build(s Sweep) (Pathway, Backmap, error) {
	if err := s.validate(); err != nil {
		return nil, nil, err
	}
	n0, n1, err := Shape(s)
	if err != nil {
		return nil, nil, err
	}
	o0, err := origin(s.Axis0, s.Start)
	if err != nil {
		return nil, nil, err
	}
	o1, err := origin(s.Axis1, s.Start)
	if err != nil {
		return nil, nil, err
	}

	total := n0 * n1
	path := make(Pathway, 0, total)
	back := make(Backmap, 0, total)
	emit := func(i0, i1 int) {
		v0, v1 := at(o0, s.Axis0.Step, i0), at(o1, s.Axis1.Step, i1)
		path = append(path, Step{
			s.Axis0.Name: {MoveAbs: v0, Vel: s.Axis0.Vel},
			s.Axis1.Name: {MoveAbs: v1, Vel: s.Axis1.Vel},
		})
		back = append(back, Point{
			Values: map[string]float64{s.Axis0.Name: v0, s.Axis1.Name: v1},
			Index:  [2]int{i0, i1},
		})
	}

	i0, i1, dir := 0, 0, 1
	emit(i0, i1)
	for row := 0; row < n1; row++ {
		for k := 1; k < n0; k++ {
			i0 += dir
			emit(i0, i1)
		}
		if row == n1-1 {
			break
		}
		i1++
		emit(i0, i1)
		dir = -dir
	}
	return path, back, nil
}

// Build1D generates a single axis sweep centered on start.  Backmap indices
// are (i, 0).
func Build1D(a Axis, start map[string]float64) (Pathway, Backmap, error) {
	if a.Name == "" {
		return nil, nil, ErrAxis
	}
	n, err := NumSteps(a.Range, a.Step)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", a.Name, err)
	}
	o, err := origin(a, start)
	if err != nil {
		return nil, nil, err
	}
	path := make(Pathway, 0, n+1)
	back := make(Backmap, 0, n+1)
	for i := 0; i <= n; i++ {
		v := at(o, a.Step, i)
		path = append(path, Step{a.Name: {MoveAbs: v, Vel: a.Vel}})
		back = append(back, Point{Values: map[string]float64{a.Name: v}, Index: [2]int{i, 0}})
	}
	return path, back, nil
}

// Arrays returns the grid values along each axis, for labeling the data matrix
func Arrays(s Sweep) (a0, a1 []float64, err error) {
	n0, n1, err := Shape(s)
	if err != nil {
		return nil, nil, err
	}
	o0, err := origin(s.Axis0, s.Start)
	if err != nil {
		return nil, nil, err
	}
	o1, err := origin(s.Axis1, s.Start)
	if err != nil {
		return nil, nil, err
	}
	a0 = mathx.Linspace(o0, o0+float64(n0-1)*s.Axis0.Step, n0)
	a1 = mathx.Linspace(o1, o1+float64(n1-1)*s.Axis1.Step, n1)
	return a0, a1, nil
}
