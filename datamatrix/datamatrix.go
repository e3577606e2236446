// Package datamatrix holds the 2D grid of alignment results.
//
// Each cell takes one scalar measurement and an optional metadata map.  The
// sweep writes each cell once; displays may read while the sweep runs.
package datamatrix

import (
	"errors"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrShape is returned by New for a shape with a zero dimension
	ErrShape = errors.New("matrix dimensions must be positive")

	// ErrIndex is returned for a cell outside the matrix
	ErrIndex = errors.New("cell index out of range")
)

// Matrix is a (rows, cols) grid of float64 measurements with per-cell metadata.
// It is safe for concurrent use.
type Matrix struct {
	mu     sync.RWMutex
	data   *mat.Dense
	meta   [][]map[string]interface{}
	filled int
	set    []bool
}

// New returns a zeroed matrix
func New(rows, cols int) (*Matrix, error) {
	if rows < 1 || cols < 1 {
		return nil, fmt.Errorf("%w: (%d, %d)", ErrShape, rows, cols)
	}
	meta := make([][]map[string]interface{}, rows)
	for i := range meta {
		meta[i] = make([]map[string]interface{}, cols)
	}
	return &Matrix{
		data: mat.NewDense(rows, cols, nil),
		meta: meta,
		set:  make([]bool, rows*cols),
	}, nil
}

// Dims returns the shape of the matrix
func (m *Matrix) Dims() (rows, cols int) {
	return m.data.Dims()
}

func (m *Matrix) inBounds(i0, i1 int) bool {
	r, c := m.data.Dims()
	return i0 >= 0 && i0 < r && i1 >= 0 && i1 < c
}

// Set stores the measurement v and its metadata in cell (i0, i1)
func (m *Matrix) Set(i0, i1 int, v float64, meta map[string]interface{}) error {
	if !m.inBounds(i0, i1) {
		return fmt.Errorf("%w: (%d, %d)", ErrIndex, i0, i1)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.Set(i0, i1, v)
	m.meta[i0][i1] = meta
	_, c := m.data.Dims()
	if k := i0*c + i1; !m.set[k] {
		m.set[k] = true
		m.filled++
	}
	return nil
}

// At returns the measurement in cell (i0, i1), zero if it has not been set
// or is out of range
func (m *Matrix) At(i0, i1 int) float64 {
	if !m.inBounds(i0, i1) {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.At(i0, i1)
}

// Meta returns the metadata of cell (i0, i1)
func (m *Matrix) Meta(i0, i1 int) map[string]interface{} {
	if !m.inBounds(i0, i1) {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta[i0][i1]
}

// Filled returns how many cells have been written
func (m *Matrix) Filled() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filled
}

// Dense returns a copy of the measurements
func (m *Matrix) Dense() *mat.Dense {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return mat.DenseCopyOf(m.data)
}

// Rows returns a copy of the measurements as a slice of rows, for encoding
func (m *Matrix) Rows() [][]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, _ := m.data.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = mat.Row(nil, i, m.data)
	}
	return out
}

// Range returns the smallest and largest measurement
func (m *Matrix) Range() (lo, hi float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return mat.Min(m.data), mat.Max(m.data)
}
