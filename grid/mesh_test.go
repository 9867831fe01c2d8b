package grid

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sineSource is a smooth forcing with variation in both directions, so
// window placement mistakes change the numbers immediately
func sineSource(x, y float64) float64 {
	return 8 * math.Pi * math.Pi * math.Sin(2*math.Pi*x) * math.Sin(2*math.Pi*y)
}

// borderedGrid returns an n x n flattened grid with boundary points set to
// border and interior points set to fill
func borderedGrid(n int, border, fill float64) []float64 {
	vals := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == 0 || j == 0 || i == n-1 || j == n-1 {
				vals[i*n+j] = border
			} else {
				vals[i*n+j] = fill
			}
		}
	}
	return vals
}

func TestMeshConstruction(t *testing.T) {
	t.Run("RejectsTinyLattice", func(t *testing.T) {
		if _, err := New([]float64{1, 2}, 1, UnitSquare(), nil); err == nil {
			t.Error("expected error for single-column grid")
		}
	})

	t.Run("RejectsRaggedBuffer", func(t *testing.T) {
		if _, err := New(make([]float64, 7), 3, UnitSquare(), nil); err == nil {
			t.Error("expected error for buffer not divisible by column count")
		}
	})

	t.Run("RejectsWindowOutsideLattice", func(t *testing.T) {
		_, err := NewWindow(make([]float64, 12), 4, 3, 5, UnitSquare(), nil)
		if err == nil {
			t.Error("expected error for window past the last lattice row")
		}
	})

	t.Run("RejectsDegenerateDomain", func(t *testing.T) {
		d := Domain{XMin: 1, XMax: 1, YMin: 0, YMax: 1}
		if _, err := New(make([]float64, 16), 4, d, nil); err == nil {
			t.Error("expected error for zero-width domain")
		}
	})

	t.Run("NilForcingMeansZero", func(t *testing.T) {
		m, err := New(make([]float64, 16), 4, UnitSquare(), nil)
		require.NoError(t, err)
		assert.Zero(t, m.Forcing()(0.3, 0.7))
	})

	t.Run("Shape", func(t *testing.T) {
		m, err := NewWindow(make([]float64, 20), 5, 2, 8, UnitSquare(), nil)
		require.NoError(t, err)
		rows, cols := m.Size()
		assert.Equal(t, 4, rows)
		assert.Equal(t, 5, cols)
		assert.Equal(t, 2, m.Start())
	})
}

func TestUpdateHandComputed(t *testing.T) {
	// 4x4 grid, unit boundary, zero interior, zero forcing. Every interior
	// point has two boundary neighbors, so one sweep gives 0.5 everywhere
	// inside and the next gives 0.75.
	m, err := New(borderedGrid(4, 1, 0), 4, UnitSquare(), nil)
	require.NoError(t, err)
	hx := 1.0 / 3.0

	m.Update(1)
	for _, ij := range [][2]int{{1, 1}, {1, 2}, {2, 1}, {2, 2}} {
		assert.InDelta(t, 0.5, m.At(ij[0], ij[1]), 1e-15)
	}
	assert.InDelta(t, math.Sqrt(hx*4*0.25), m.Error(), 1e-15)

	m.Update(1)
	for _, ij := range [][2]int{{1, 1}, {1, 2}, {2, 1}, {2, 2}} {
		assert.InDelta(t, 0.75, m.At(ij[0], ij[1]), 1e-15)
	}
	assert.InDelta(t, math.Sqrt(hx*4*0.0625), m.Error(), 1e-15)

	// boundary never moves
	for j := 0; j < 4; j++ {
		assert.Equal(t, 1.0, m.At(0, j))
		assert.Equal(t, 1.0, m.At(3, j))
	}
}

func TestUpdateForcingTerm(t *testing.T) {
	// Zero field with constant forcing c: one sweep sets every interior
	// point to h^2*c/4 exactly.
	const c = 12.0
	n := 5
	m, err := New(make([]float64, n*n), n, UnitSquare(), func(x, y float64) float64 { return c })
	require.NoError(t, err)
	h := 1.0 / float64(n-1)

	m.Update(1)
	want := 0.25 * h * h * c
	for i := 1; i < n-1; i++ {
		for j := 1; j < n-1; j++ {
			assert.InDelta(t, want, m.At(i, j), 1e-15)
		}
	}
}

func TestUpdateThreadCountInvariance(t *testing.T) {
	n := 16
	build := func() *Mesh {
		vals := borderedGrid(n, 1, 0)
		// deterministic interior wiggle
		for i := 1; i < n-1; i++ {
			for j := 1; j < n-1; j++ {
				vals[i*n+j] = math.Sin(float64(3*i+7*j)) * 0.1
			}
		}
		m, err := New(vals, n, UnitSquare(), sineSource)
		require.NoError(t, err)
		return m
	}

	ref := build()
	for sweep := 0; sweep < 5; sweep++ {
		ref.Update(1)
	}

	for _, threads := range []int{2, 3, 4, 7} {
		m := build()
		for sweep := 0; sweep < 5; sweep++ {
			m.Update(threads)
		}
		if ref.Error() != m.Error() {
			t.Errorf("threads=%d: error %v differs from single-thread %v",
				threads, m.Error(), ref.Error())
		}
		a, b := ref.Values(), m.Values()
		for k := range a {
			if a[k] != b[k] {
				t.Fatalf("threads=%d: value[%d] = %v, single-thread %v",
					threads, k, b[k], a[k])
			}
		}
	}
}

func TestWindowedSweepMatchesWholeGrid(t *testing.T) {
	// Decompose an 8x8 grid into three overlapping windows whose interior
	// rows tile the whole interior, sweep each window independently, and
	// check every updated point bitwise against the whole-grid sweep.
	n := 8
	whole := borderedGrid(n, 2, 0)
	for i := 1; i < n-1; i++ {
		for j := 1; j < n-1; j++ {
			whole[i*n+j] = math.Cos(float64(i*n+j)) * 0.3
		}
	}

	full, err := New(append([]float64(nil), whole...), n, UnitSquare(), sineSource)
	require.NoError(t, err)
	full.Update(1)

	windows := [][2]int{{0, 4}, {2, 6}, {4, 8}} // start row, end row
	for _, w := range windows {
		slab := append([]float64(nil), whole[w[0]*n:w[1]*n]...)
		win, err := NewWindow(slab, n, w[0], n, UnitSquare(), sineSource)
		require.NoError(t, err)
		win.Update(1)

		for i := w[0] + 1; i < w[1]-1; i++ {
			for j := 0; j < n; j++ {
				got := win.At(i-w[0], j)
				want := full.At(i, j)
				if got != want {
					t.Fatalf("window %v: point (%d,%d) = %v, whole grid %v",
						w, i, j, got, want)
				}
			}
		}
	}
}

func TestSetValues(t *testing.T) {
	m, err := New(make([]float64, 16), 4, UnitSquare(), nil)
	require.NoError(t, err)

	if err := m.SetValues(make([]float64, 15)); err == nil {
		t.Error("expected length mismatch error")
	}

	buf := make([]float64, 16)
	buf[5] = 3.25
	require.NoError(t, m.SetValues(buf))
	assert.Equal(t, 3.25, m.At(1, 1))

	// installed copy, not alias
	buf[5] = -1
	assert.Equal(t, 3.25, m.At(1, 1))
}

func TestMaxDiff(t *testing.T) {
	a, err := New(make([]float64, 36), 6, UnitSquare(), nil)
	require.NoError(t, err)
	b, err := New(make([]float64, 36), 6, UnitSquare(), nil)
	require.NoError(t, err)

	assert.Zero(t, a.MaxDiff(b))

	b.Set(4, 2, -2.5)
	b.Set(1, 1, 0.5)
	assert.Equal(t, 2.5, a.MaxDiff(b))

	assert.Panics(t, func() {
		c, _ := New(make([]float64, 16), 4, UnitSquare(), nil)
		a.MaxDiff(c)
	})
}
