package solver

import (
	"fmt"

	"github.com/gridworks-hpc/relax/comm"
	"github.com/gridworks-hpc/relax/partition"
)

// scatter hands every rank its slice of the initial grid, halo rows
// included. Rank 0 holds the global grid and copies its own slice directly;
// every other rank receives exactly the slice length its row block calls
// for. Returns the local slice.
func scatter(c comm.Communicator, lay *partition.Layout, global []float64) ([]float64, error) {
	n := lay.N
	if c.Rank() != 0 {
		local := make([]float64, lay.SliceLen(c.Rank()))
		if err := c.Recv(local, 0, tagScatter); err != nil {
			return nil, fmt.Errorf("solver: scatter to rank %d: %w", c.Rank(), err)
		}
		return local, nil
	}

	if len(global) != n*n {
		return nil, fmt.Errorf("%w: %d values for a %dx%d lattice", ErrGridSize, len(global), n, n)
	}
	for r := 1; r < c.Size(); r++ {
		start := lay.Block(r).Start() * n
		slice := global[start : start+lay.SliceLen(r)]
		if err := c.Send(slice, r, tagScatter); err != nil {
			return nil, fmt.Errorf("solver: scatter to rank %d: %w", r, err)
		}
	}
	local := make([]float64, lay.SliceLen(0))
	copy(local, global[:len(local)])
	return local, nil
}

// gatherGrid reassembles the complete grid at rank 0 from every rank's owned
// rows, halos trimmed, in rank order. Returns nil on other ranks.
func gatherGrid(c comm.Communicator, lay *partition.Layout, local []float64) ([]float64, error) {
	n := lay.N
	b := lay.Block(c.Rank())
	ownStart := 0
	if b.HaloAbove {
		ownStart = n
	}
	owned := local[ownStart : ownStart+b.Owned*n]

	parts, err := c.Gather(owned, 0)
	if err != nil {
		return nil, fmt.Errorf("solver: gather: %w", err)
	}
	if c.Rank() != 0 {
		return nil, nil
	}

	full := make([]float64, 0, n*n)
	for r := 0; r < c.Size(); r++ {
		want := lay.Block(r).Owned * n
		if len(parts[r]) != want {
			return nil, fmt.Errorf("%w: rank %d contributed %d values, expected %d",
				ErrGridSize, r, len(parts[r]), want)
		}
		full = append(full, parts[r]...)
	}
	return full, nil
}
