package save

import (
	"io"
	"time"

	"github.com/go-yaml/yaml"

	"github.com/nasa-jpl/vectormagnet/align"
	"github.com/nasa-jpl/vectormagnet/pathway"
)

// Params is the YAML sidecar of a saved sweep
type Params struct {
	RunID    string               `yaml:"RunID"`
	Sweep    pathway.Sweep        `yaml:"Sweep"`
	Axis0    []float64            `yaml:"Axis0"`
	Axis1    []float64            `yaml:"Axis1"`
	Pathway  pathway.Pathway      `yaml:"Pathway"`
	Backmap  pathway.Backmap      `yaml:"Backmap"`
	Intended []map[string]float64 `yaml:"Intended"`
	Reached  []map[string]float64 `yaml:"Reached"`
	Errors   []float64            `yaml:"Errors"`
	Filled   int                  `yaml:"Filled"`
	Start    string               `yaml:"Start"`
	Stop     string               `yaml:"Stop,omitempty"`
}

// ParamsOf extracts the sidecar of r
func ParamsOf(r align.Result) Params {
	p := Params{
		RunID:    r.RunID,
		Sweep:    r.Sweep,
		Axis0:    r.Axis0,
		Axis1:    r.Axis1,
		Pathway:  r.Pathway,
		Backmap:  r.Backmap,
		Intended: r.Intended,
		Reached:  r.Reached,
		Errors:   r.Errors,
		Filled:   r.Filled,
		Start:    r.Start.Format(time.RFC3339Nano),
	}
	if !r.Stop.IsZero() {
		p.Stop = r.Stop.Format(time.RFC3339Nano)
	}
	return p
}

// WriteParams writes the YAML sidecar of r to w
func WriteParams(w io.Writer, r align.Result) error {
	b, err := yaml.Marshal(ParamsOf(r))
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadParams is the inverse of WriteParams
func ReadParams(rd io.Reader) (Params, error) {
	var p Params
	b, err := io.ReadAll(rd)
	if err != nil {
		return p, err
	}
	err = yaml.Unmarshal(b, &p)
	return p, err
}
