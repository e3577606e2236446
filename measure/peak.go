package measure

import (
	"context"
	"math"
)

// Positioner reads the position of named axes
type Positioner interface {
	Pos(axes ...string) (map[string]float64, error)
}

// Peak simulates a detector behind a gaussian coupling peak, for running
// sweeps against mock hardware
type Peak struct {
	Dev Positioner

	// Center is the position of the maximum; axes not named are ignored
	Center map[string]float64

	// Width is the 1/e^2 radius of the peak
	Width float64

	// Amplitude is the value at the center
	Amplitude float64
}

// Measure returns the value of the peak at the device's present position
func (p Peak) Measure(ctx context.Context) (float64, map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	axes := make([]string, 0, len(p.Center))
	for k := range p.Center {
		axes = append(axes, k)
	}
	pos, err := p.Dev.Pos(axes...)
	if err != nil {
		return 0, nil, err
	}
	var r2 float64
	for k, c := range p.Center {
		d := pos[k] - c
		r2 += d * d
	}
	w := p.Width
	if w <= 0 {
		w = 1
	}
	v := p.Amplitude * math.Exp(-2*r2/(w*w))
	return v, map[string]interface{}{"simulated": true}, nil
}
