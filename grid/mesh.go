// Package grid implements the uniform Cartesian lattice and the Jacobi
// relaxation kernel the solver iterates. A Mesh holds either a whole grid or
// a window of contiguous rows owned by one process of a row-decomposed run.
package grid

import (
	"fmt"
	"math"

	"github.com/exascience/pargo/parallel"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Mesh is a rows x cols scalar field over a rectangular domain, flattened
// row-major. A Mesh may be a window onto a larger lattice: local row i is
// global row start+i of a globalRows-row grid, and forcing coordinates and
// spacing are always computed against the global lattice, so a decomposed
// sweep reproduces the whole-grid sweep exactly.
type Mesh struct {
	vals    *mat.Dense // current field
	scratch *mat.Dense // sweep target, swapped with vals after each update

	rows, cols int
	start      int // global index of local row 0
	globalRows int

	hx, hy float64
	dom    Domain
	force  ForceFunc

	err float64 // error metric of the most recent sweep
}

// New wraps a complete flattened grid with n columns. The row count is
// len(values)/n. The slice becomes the mesh backing store.
func New(values []float64, n int, d Domain, f ForceFunc) (*Mesh, error) {
	if n < 2 {
		return nil, fmt.Errorf("grid: need at least 2 columns, got %d", n)
	}
	if len(values) == 0 || len(values)%n != 0 {
		return nil, fmt.Errorf("grid: buffer length %d not a multiple of %d columns",
			len(values), n)
	}
	return NewWindow(values, n, 0, len(values)/n, d, f)
}

// NewWindow wraps a window of a larger grid: the slice holds contiguous rows
// starting at global row start of a lattice with globalRows rows and n
// columns. Halo rows included in the slice count toward start.
func NewWindow(values []float64, n, start, globalRows int, d Domain, f ForceFunc) (*Mesh, error) {
	if n < 2 || globalRows < 2 {
		return nil, fmt.Errorf("grid: lattice %dx%d too small", globalRows, n)
	}
	if len(values) == 0 || len(values)%n != 0 {
		return nil, fmt.Errorf("grid: buffer length %d not a multiple of %d columns",
			len(values), n)
	}
	rows := len(values) / n
	if start < 0 || start+rows > globalRows {
		return nil, fmt.Errorf("grid: window rows [%d,%d) outside lattice of %d rows",
			start, start+rows, globalRows)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if f == nil {
		f = Zero
	}
	hx, hy := d.Spacing(globalRows, n)
	return &Mesh{
		vals:       mat.NewDense(rows, n, values),
		scratch:    mat.NewDense(rows, n, nil),
		rows:       rows,
		cols:       n,
		start:      start,
		globalRows: globalRows,
		hx:         hx,
		hy:         hy,
		dom:        d,
		force:      f,
	}, nil
}

// Size returns the local row and column counts
func (m *Mesh) Size() (rows, cols int) { return m.rows, m.cols }

// Start returns the global index of local row 0
func (m *Mesh) Start() int { return m.start }

// Domain returns the region the global lattice covers
func (m *Mesh) Domain() Domain { return m.dom }

// Forcing returns the source term
func (m *Mesh) Forcing() ForceFunc { return m.force }

// Error returns the metric from the most recent sweep,
// sqrt(h * sum of squared point updates)
func (m *Mesh) Error() float64 { return m.err }

// At returns the value at local row i, column j
func (m *Mesh) At(i, j int) float64 { return m.vals.At(i, j) }

// Set assigns the value at local row i, column j
func (m *Mesh) Set(i, j int, v float64) { m.vals.Set(i, j, v) }

// Values returns the live row-major backing slice. Callers that need a
// stable snapshot must copy it.
func (m *Mesh) Values() []float64 {
	return m.vals.RawMatrix().Data
}

// SetValues replaces the field with a copy of buf
func (m *Mesh) SetValues(buf []float64) error {
	dst := m.vals.RawMatrix().Data
	if len(buf) != len(dst) {
		return fmt.Errorf("grid: buffer length %d, mesh holds %d", len(buf), len(dst))
	}
	copy(dst, buf)
	return nil
}

// Update performs one Jacobi sweep: every point of local rows 1..rows-2 and
// columns 1..cols-2 is replaced by the average of its four neighbors plus the
// h^2-weighted forcing, reading only the pre-sweep field. First and last
// local rows are never written; they are halo rows or physical boundary.
//
// threads > 1 splits the row range into that many contiguous chunks swept
// concurrently. The error metric is accumulated per row and combined in row
// order, so the result is identical for every thread count. Assumes uniform
// spacing.
func (m *Mesh) Update(threads int) {
	if m.rows < 3 || m.cols < 3 {
		m.err = 0
		return
	}
	if threads < 1 || threads > m.rows-2 {
		threads = 1
	}

	old := m.vals.RawMatrix().Data
	next := m.scratch.RawMatrix().Data
	copy(next, old)

	h2 := m.hx * m.hx
	partial := make([]float64, m.rows)
	parallel.Range(1, m.rows-1, threads, func(low, high int) {
		for i := low; i < high; i++ {
			up := m.vals.RawRowView(i - 1)
			row := m.vals.RawRowView(i)
			down := m.vals.RawRowView(i + 1)
			dst := m.scratch.RawRowView(i)
			y := m.dom.YMin + float64(m.start+i)*m.hy
			var sum float64
			for j := 1; j < m.cols-1; j++ {
				x := m.dom.XMin + float64(j)*m.hx
				v := 0.25 * (up[j] + down[j] + row[j-1] + row[j+1] + h2*m.force(x, y))
				dst[j] = v
				d := v - row[j]
				sum += d * d
			}
			partial[i] = sum
		}
	})

	m.vals, m.scratch = m.scratch, m.vals
	m.err = math.Sqrt(m.hx * floats.Sum(partial))
}

// MaxDiff returns the L-infinity distance between two meshes of equal shape.
// Panics if the shapes differ.
func (m *Mesh) MaxDiff(o *Mesh) float64 {
	if m.rows != o.rows || m.cols != o.cols {
		panic(fmt.Sprintf("grid: MaxDiff shape mismatch %dx%d vs %dx%d",
			m.rows, m.cols, o.rows, o.cols))
	}
	return parallel.RangeReduceFloat64(0, m.rows, 0, func(low, high int) float64 {
		max := 0.0
		for i := low; i < high; i++ {
			a := m.vals.RawRowView(i)
			b := o.vals.RawRowView(i)
			for j := range a {
				if d := math.Abs(a[j] - b[j]); d > max {
					max = d
				}
			}
		}
		return max
	}, math.Max)
}
