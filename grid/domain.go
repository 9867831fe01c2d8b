package grid

import (
	"fmt"
)

// Domain is the rectangular region a grid discretizes
type Domain struct {
	XMin, XMax float64
	YMin, YMax float64
}

// UnitSquare returns the [0,1]x[0,1] domain
func UnitSquare() Domain {
	return Domain{XMin: 0, XMax: 1, YMin: 0, YMax: 1}
}

// Validate checks that the domain has positive extent in both directions
func (d Domain) Validate() error {
	if d.XMax <= d.XMin || d.YMax <= d.YMin {
		return fmt.Errorf("grid: degenerate domain [%g,%g]x[%g,%g]",
			d.XMin, d.XMax, d.YMin, d.YMax)
	}
	return nil
}

// Spacing returns the distance between adjacent lattice points when the
// domain is covered by a rows x cols point lattice
func (d Domain) Spacing(rows, cols int) (hx, hy float64) {
	hx = (d.XMax - d.XMin) / float64(cols-1)
	hy = (d.YMax - d.YMin) / float64(rows-1)
	return hx, hy
}

// ForceFunc is the source term f(x, y) of the equation being relaxed
type ForceFunc func(x, y float64) float64

// Zero is the homogeneous forcing
func Zero(x, y float64) float64 { return 0 }
