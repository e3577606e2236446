package save

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/nasa-jpl/vectormagnet/align"
)

// ErrNoData is returned when saving before any sweep has run
var ErrNoData = errors.New("no sweep data to save")

var unsafe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Store writes saved sweeps into a directory and optionally catalogs them
type Store struct {
	Dir     string
	Catalog *Catalog
}

func (s Store) write(name string, fn func(io.Writer, align.Result) error, r align.Result) (string, error) {
	path := filepath.Join(s.Dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	err = fn(f, r)
	err = multierr.Append(err, f.Close())
	if err != nil {
		return "", errors.Wrapf(err, "writing %s", path)
	}
	return path, nil
}

// Label is the file prefix used for r: the tag if not empty, else the start
// time, followed by the first eight characters of the run id
func Label(r align.Result, tag string) string {
	prefix := unsafe.ReplaceAllString(tag, "_")
	if prefix == "" {
		prefix = r.Start.Format("2006-01-02T15-04-05")
	}
	id := r.RunID
	if len(id) > 8 {
		id = id[:8]
	}
	return prefix + "_" + id
}

// Save writes the FITS matrix, YAML sidecar and heatmap of r into Dir and
// records them in the catalog.  A failed heatmap is logged; the other files
// are required.
func (s Store) Save(r align.Result, tag string) (Files, error) {
	var f Files
	if r.Data == nil {
		return f, ErrNoData
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return f, err
	}
	label := Label(r, tag)
	var err error
	if f.FITS, err = s.write(label+"_matrix.fits", WriteFITS, r); err != nil {
		return f, err
	}
	if f.Params, err = s.write(label+"_params.yaml", WriteParams, r); err != nil {
		return f, err
	}
	if f.Heatmap, err = s.write(label+"_heatmap.png", WriteHeatmap, r); err != nil {
		log.Printf("save: %v", err)
	}
	if s.Catalog != nil {
		if _, err = s.Catalog.Record(r, tag, f); err != nil {
			return f, err
		}
	}
	return f, nil
}
