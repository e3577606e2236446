package save

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"

	// registers the "sqlite" driver
	_ "modernc.org/sqlite"

	"github.com/nasa-jpl/vectormagnet/align"
)

const schema = `
CREATE TABLE IF NOT EXISTS sweeps (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	tag TEXT,
	axis0 TEXT,
	axis1 TEXT,
	filled INTEGER,
	total INTEGER,
	started TEXT,
	stopped TEXT,
	fits TEXT,
	params TEXT,
	heatmap TEXT,
	saved TEXT DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS sweeps_run ON sweeps(run_id);
`

// Files are the paths written for one saved sweep.  Empty paths were not written.
type Files struct {
	FITS    string `json:"fits"`
	Params  string `json:"params"`
	Heatmap string `json:"heatmap"`
}

// Entry is one row of the catalog
type Entry struct {
	ID      int64     `json:"id"`
	RunID   string    `json:"runId"`
	Tag     string    `json:"tag"`
	Axis0   string    `json:"axis0"`
	Axis1   string    `json:"axis1"`
	Filled  int       `json:"filled"`
	Total   int       `json:"total"`
	Started time.Time `json:"started"`
	Stopped time.Time `json:"stopped"`
	Files   Files     `json:"files"`
}

// Catalog is an index of saved sweeps in a SQLite database
type Catalog struct {
	db *sql.DB
}

// Open opens or creates the catalog at path.  ":memory:" gives a catalog
// that lives as long as the process.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single connection keeps :memory: databases shared
	db.SetMaxOpenConns(1)
	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating catalog schema")
	}
	return &Catalog{db: db}, nil
}

// Record adds a saved sweep to the catalog and returns its row id
func (c *Catalog) Record(r align.Result, tag string, f Files) (int64, error) {
	var stopped string
	if !r.Stop.IsZero() {
		stopped = r.Stop.Format(time.RFC3339Nano)
	}
	res, err := c.db.Exec(`INSERT INTO sweeps
		(run_id, tag, axis0, axis1, filled, total, started, stopped, fits, params, heatmap)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, tag, r.Sweep.Axis0.Name, r.Sweep.Axis1.Name, r.Filled, len(r.Pathway),
		r.Start.Format(time.RFC3339Nano), stopped, f.FITS, f.Params, f.Heatmap)
	if err != nil {
		return 0, errors.Wrap(err, "recording sweep")
	}
	return res.LastInsertId()
}

// List returns every entry, oldest first
func (c *Catalog) List() ([]Entry, error) {
	rows, err := c.db.Query(`SELECT id, run_id, tag, axis0, axis1, filled, total,
		started, stopped, fits, params, heatmap FROM sweeps ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e                Entry
			started, stopped string
		)
		err = rows.Scan(&e.ID, &e.RunID, &e.Tag, &e.Axis0, &e.Axis1, &e.Filled, &e.Total,
			&started, &stopped, &e.Files.FITS, &e.Files.Params, &e.Files.Heatmap)
		if err != nil {
			return nil, err
		}
		e.Started, _ = time.Parse(time.RFC3339Nano, started)
		if stopped != "" {
			e.Stopped, _ = time.Parse(time.RFC3339Nano, stopped)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database
func (c *Catalog) Close() error {
	return c.db.Close()
}
