// Package partition computes the row-block decomposition of a square lattice
// across a fixed set of ranks, and the buffer offsets each rank's halo
// exchange uses.
package partition

import (
	"fmt"
)

// RowBlock is the contiguous band of rows one rank owns, plus its halo shape
type RowBlock struct {
	Rank int

	First int // global index of the first owned row
	Owned int // number of owned rows

	// Halo rows adjacent to the owned band. Edge ranks have one-sided halos.
	HaloAbove bool
	HaloBelow bool
}

// Halos returns the number of halo rows in the rank's local slice
func (b RowBlock) Halos() int {
	h := 0
	if b.HaloAbove {
		h++
	}
	if b.HaloBelow {
		h++
	}
	return h
}

// Rows returns the local slice height, owned plus halo rows
func (b RowBlock) Rows() int { return b.Owned + b.Halos() }

// Start returns the global index of the slice's first row, halo included.
// This is also the row the scatter transmission for the rank begins at.
func (b RowBlock) Start() int {
	if b.HaloAbove {
		return b.First - 1
	}
	return b.First
}

// Offsets are the scalar positions in a rank's flattened local slice that
// the halo exchange reads from and writes to. A position is -1 when the rank
// has no neighbor on that side.
type Offsets struct {
	SendTop    int // first owned row, sent to the rank above
	RecvTop    int // top halo row, filled from the rank above
	SendBottom int // last owned row, sent to the rank below
	RecvBottom int // bottom halo row, filled from the rank below
}

// Layout is the decomposition of an n-row, n-column lattice over size ranks:
// each rank owns n/size contiguous rows and the last rank also takes the
// remainder, so the owned bands tile [0, n) exactly.
type Layout struct {
	N      int // lattice rows and columns
	Size   int // number of ranks
	Blocks []RowBlock
}

// New builds the layout for an n x n lattice over size ranks. Every rank
// must own at least one row, so size cannot exceed n.
func New(n, size int) (*Layout, error) {
	if n < 2 {
		return nil, fmt.Errorf("partition: lattice needs at least 2 rows, got %d", n)
	}
	if size < 1 {
		return nil, fmt.Errorf("partition: need at least 1 rank, got %d", size)
	}
	if size > n {
		return nil, fmt.Errorf("partition: %d ranks over %d rows leaves empty ranks", size, n)
	}

	l := &Layout{N: n, Size: size, Blocks: make([]RowBlock, size)}
	base := n / size
	for r := 0; r < size; r++ {
		owned := base
		if r == size-1 {
			owned += n % size
		}
		l.Blocks[r] = RowBlock{
			Rank:      r,
			First:     r * base,
			Owned:     owned,
			HaloAbove: r > 0,
			HaloBelow: r < size-1,
		}
	}
	return l, nil
}

// Block returns rank's row block
func (l *Layout) Block(rank int) RowBlock { return l.Blocks[rank] }

// SliceLen returns the flattened length of rank's local slice, halos included
func (l *Layout) SliceLen(rank int) int { return l.Blocks[rank].Rows() * l.N }

// MaxRows returns the largest local slice height across all ranks
func (l *Layout) MaxRows() int {
	max := 0
	for _, b := range l.Blocks {
		if b.Rows() > max {
			max = b.Rows()
		}
	}
	return max
}

// RankOfRow returns the rank owning a global row, or -1 if out of range
func (l *Layout) RankOfRow(row int) int {
	if row < 0 || row >= l.N {
		return -1
	}
	for _, b := range l.Blocks {
		if row < b.First+b.Owned {
			return b.Rank
		}
	}
	return l.Size - 1
}

// OffsetsFor computes the exchange offsets for rank from its slice length
// and the halo width n: the top halo occupies the first n scalars when
// present, the bottom halo the last n.
func (l *Layout) OffsetsFor(rank int) Offsets {
	b := l.Blocks[rank]
	length := b.Rows() * l.N
	o := Offsets{SendTop: -1, RecvTop: -1, SendBottom: -1, RecvBottom: -1}
	if b.HaloAbove {
		o.RecvTop = 0
		o.SendTop = l.N
	}
	if b.HaloBelow {
		o.SendBottom = length - 2*l.N
		o.RecvBottom = length - l.N
	}
	return o
}

// Validate checks decomposition consistency: the owned bands are contiguous,
// disjoint, and cover the lattice exactly, and halo flags match rank position
func (l *Layout) Validate() error {
	if len(l.Blocks) != l.Size {
		return fmt.Errorf("partition: %d blocks for %d ranks", len(l.Blocks), l.Size)
	}
	next := 0
	total := 0
	for r, b := range l.Blocks {
		if b.Rank != r {
			return fmt.Errorf("partition: block %d carries rank %d", r, b.Rank)
		}
		if b.Owned < 1 {
			return fmt.Errorf("partition: rank %d owns no rows", r)
		}
		if b.First != next {
			return fmt.Errorf("partition: rank %d starts at row %d, expected %d", r, b.First, next)
		}
		if b.HaloAbove != (r > 0) || b.HaloBelow != (r < l.Size-1) {
			return fmt.Errorf("partition: rank %d has wrong halo shape", r)
		}
		next = b.First + b.Owned
		total += b.Owned
	}
	if total != l.N {
		return fmt.Errorf("partition: blocks cover %d rows, lattice has %d", total, l.N)
	}
	return nil
}
