package solver

// Chain is the linear rank topology a row-block decomposition induces: rank r
// borders rank r-1 above and rank r+1 below, and nobody else. All neighbor
// arithmetic lives here.
type Chain struct {
	Rank int
	Size int
}

// HasAbove reports whether a rank exists above this one
func (c Chain) HasAbove() bool { return c.Rank > 0 }

// HasBelow reports whether a rank exists below this one
func (c Chain) HasBelow() bool { return c.Rank < c.Size-1 }

// Above returns the neighbor rank holding the rows just above this rank's band
func (c Chain) Above() int { return c.Rank - 1 }

// Below returns the neighbor rank holding the rows just below this rank's band
func (c Chain) Below() int { return c.Rank + 1 }

// Neighbors lists the adjacent ranks in the fixed exchange order, above first
func (c Chain) Neighbors() []int {
	var ns []int
	if c.HasAbove() {
		ns = append(ns, c.Above())
	}
	if c.HasBelow() {
		ns = append(ns, c.Below())
	}
	return ns
}
