package grid

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// Write stores the field as a legacy ASCII VTK structured-points dataset at
// path, creating the parent directory if needed. Point (i, j) maps to
// physical coordinates (XMin + j*hx, YMin + (start+i)*hy).
func (m *Mesh) Write(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("grid: create %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("grid: create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "# vtk DataFile Version 3.0")
	fmt.Fprintln(w, "scalar field")
	fmt.Fprintln(w, "ASCII")
	fmt.Fprintln(w, "DATASET STRUCTURED_POINTS")
	fmt.Fprintf(w, "DIMENSIONS %d %d 1\n", m.cols, m.rows)
	fmt.Fprintf(w, "ORIGIN %g %g 0\n", m.dom.XMin, m.dom.YMin+float64(m.start)*m.hy)
	fmt.Fprintf(w, "SPACING %g %g 1\n", m.hx, m.hy)
	fmt.Fprintf(w, "POINT_DATA %d\n", m.rows*m.cols)
	fmt.Fprintln(w, "SCALARS u double 1")
	fmt.Fprintln(w, "LOOKUP_TABLE default")
	for i := 0; i < m.rows; i++ {
		row := m.vals.RawRowView(i)
		for _, v := range row {
			fmt.Fprintf(w, "%.10e\n", v)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("grid: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("grid: close %s: %w", path, err)
	}
	return nil
}
