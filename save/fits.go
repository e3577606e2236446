/*Package save persists alignment sweeps.

A saved sweep is a FITS image of the data matrix, a YAML sidecar with
everything needed to reproduce or re-plot it, a PNG heatmap, and a row in
a SQLite catalog pointing to the three files.
*/
package save

import (
	"io"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/nasa-jpl/vectormagnet/align"
)

// header cards describing a sweep
func cards(r align.Result) []fitsio.Card {
	cs := []fitsio.Card{
		{Name: "RUNID", Value: r.RunID, Comment: "sweep identifier"},
		{Name: "AXIS0", Value: r.Sweep.Axis0.Name, Comment: "axis along NAXIS2"},
		{Name: "RANGE0", Value: r.Sweep.Axis0.Range},
		{Name: "STEP0", Value: r.Sweep.Axis0.Step},
		{Name: "AXIS1", Value: r.Sweep.Axis1.Name, Comment: "axis along NAXIS1"},
		{Name: "RANGE1", Value: r.Sweep.Axis1.Range},
		{Name: "STEP1", Value: r.Sweep.Axis1.Step},
		{Name: "PATHMODE", Value: string(r.Sweep.Mode)},
		{Name: "FILLED", Value: r.Filled, Comment: "cells measured"},
		{Name: "NSTEPS", Value: len(r.Pathway), Comment: "pathway length"},
		{Name: "DATE-BEG", Value: r.Start.UTC().Format(time.RFC3339)},
	}
	if len(r.Axis0) > 0 {
		cs = append(cs, fitsio.Card{Name: "CRVAL2", Value: r.Axis0[0], Comment: "first " + r.Sweep.Axis0.Name})
	}
	if len(r.Axis1) > 0 {
		cs = append(cs, fitsio.Card{Name: "CRVAL1", Value: r.Axis1[0], Comment: "first " + r.Sweep.Axis1.Name})
	}
	cs = append(cs,
		fitsio.Card{Name: "CDELT2", Value: r.Sweep.Axis0.Step},
		fitsio.Card{Name: "CDELT1", Value: r.Sweep.Axis1.Step},
	)
	if !r.Stop.IsZero() {
		cs = append(cs, fitsio.Card{Name: "DATE-END", Value: r.Stop.UTC().Format(time.RFC3339)})
	}
	return cs
}

// WriteFITS streams the data matrix of r to w as a float64 image.  Rows of
// the matrix (axis0) run along NAXIS2.
func WriteFITS(w io.Writer, r align.Result) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	rows, cols := r.Data.Dims()
	im := fitsio.NewImage(-64, []int{cols, rows})
	defer im.Close()
	if err = im.Header().Append(cards(r)...); err != nil {
		return err
	}
	buf := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		buf = append(buf, r.Data.RawRowView(i)...)
	}
	if err = im.Write(buf); err != nil {
		return err
	}
	return fits.Write(im)
}
