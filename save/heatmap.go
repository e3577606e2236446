package save

import (
	"fmt"
	"io"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/nasa-jpl/vectormagnet/align"
)

// HeatmapSize is the edge length of the rendered heatmap
var HeatmapSize = 5 * vg.Inch

// grid adapts the data matrix to plotter.GridXYZ, axis1 along x
type grid struct {
	data   *mat.Dense
	a0, a1 []float64
}

func (g grid) Dims() (c, r int) {
	rows, cols := g.data.Dims()
	return cols, rows
}

func (g grid) Z(c, r int) float64 { return g.data.At(r, c) }

func (g grid) X(c int) float64 {
	if c < len(g.a1) {
		return g.a1[c]
	}
	return float64(c)
}

func (g grid) Y(r int) float64 {
	if r < len(g.a0) {
		return g.a0[r]
	}
	return float64(r)
}

// Heatmap builds a plot of the data matrix of r
func Heatmap(r align.Result) *plot.Plot {
	g := grid{data: r.Data, a0: r.Axis0, a1: r.Axis1}
	hm := plotter.NewHeatMap(g, palette.Heat(64, 1))
	if hm.Max <= hm.Min {
		hm.Max = hm.Min + 1
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("sweep %s, %d of %d cells", r.RunID, r.Filled, len(r.Pathway))
	p.X.Label.Text = r.Sweep.Axis1.Name
	p.Y.Label.Text = r.Sweep.Axis0.Name
	p.Add(hm)
	return p
}

// WriteHeatmap renders the data matrix of r as a PNG to w
func WriteHeatmap(w io.Writer, r align.Result) error {
	wt, err := Heatmap(r).WriterTo(HeatmapSize, HeatmapSize, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
