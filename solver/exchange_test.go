package solver

import (
	"fmt"
	"sync"
	"testing"

	"github.com/gridworks-hpc/relax/comm"
	"github.com/gridworks-hpc/relax/partition"
	"github.com/stretchr/testify/require"
)

// runRanks drives one goroutine per endpoint and fails on the first error
func runRanks(t *testing.T, cs []*comm.Local, f func(c comm.Communicator) error) {
	t.Helper()
	var wg sync.WaitGroup
	errs := make([]error, len(cs))
	for i, c := range cs {
		wg.Add(1)
		go func(i int, c comm.Communicator) {
			defer wg.Done()
			errs[i] = f(c)
		}(i, c)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", i, err)
		}
	}
}

// haloSlice builds a rank's local slice with every owned row filled by its
// global row index and every halo row filled with -1
func haloSlice(lay *partition.Layout, rank int) []float64 {
	n := lay.N
	b := lay.Block(rank)
	buf := make([]float64, lay.SliceLen(rank))
	ownStart := 0
	if b.HaloAbove {
		ownStart = 1
	}
	for localRow := 0; localRow < b.Rows(); localRow++ {
		v := float64(b.Start() + localRow)
		if localRow < ownStart || localRow >= ownStart+b.Owned {
			v = -1
		}
		for j := 0; j < n; j++ {
			buf[localRow*n+j] = v
		}
	}
	return buf
}

func TestHaloExchange(t *testing.T) {
	for _, size := range []int{2, 3, 4} {
		t.Run(fmt.Sprintf("P%d", size), func(t *testing.T) {
			n := 8
			lay, err := partition.New(n, size)
			require.NoError(t, err)
			cs, err := comm.NewLocalGroup(size)
			require.NoError(t, err)
			defer cs[0].Close()

			runRanks(t, cs, func(c comm.Communicator) error {
				rank := c.Rank()
				b := lay.Block(rank)
				buf := haloSlice(lay, rank)
				ex := newExchanger(c, Chain{Rank: rank, Size: size}, lay.OffsetsFor(rank), n)
				if err := ex.exchange(buf); err != nil {
					return err
				}

				// the top halo must now hold the row just above the owned
				// band, the bottom halo the row just below
				if b.HaloAbove {
					want := float64(b.First - 1)
					for j := 0; j < n; j++ {
						if buf[j] != want {
							return fmt.Errorf("rank %d top halo[%d] = %v, want %v",
								rank, j, buf[j], want)
						}
					}
				}
				if b.HaloBelow {
					want := float64(b.First + b.Owned)
					off := (b.Rows() - 1) * n
					for j := 0; j < n; j++ {
						if buf[off+j] != want {
							return fmt.Errorf("rank %d bottom halo[%d] = %v, want %v",
								rank, j, buf[off+j], want)
						}
					}
				}

				// owned rows must be untouched
				ownStart := 0
				if b.HaloAbove {
					ownStart = 1
				}
				for r := ownStart; r < ownStart+b.Owned; r++ {
					want := float64(b.Start() + r)
					for j := 0; j < n; j++ {
						if buf[r*n+j] != want {
							return fmt.Errorf("rank %d owned row %d modified: %v",
								rank, r, buf[r*n+j])
						}
					}
				}
				return nil
			})
		})
	}
}

func TestExchangeSingleRankNoOp(t *testing.T) {
	lay, err := partition.New(4, 1)
	require.NoError(t, err)
	cs, err := comm.NewLocalGroup(1)
	require.NoError(t, err)
	defer cs[0].Close()

	buf := haloSlice(lay, 0)
	before := append([]float64(nil), buf...)
	ex := newExchanger(cs[0], Chain{Rank: 0, Size: 1}, lay.OffsetsFor(0), 4)
	require.NoError(t, ex.exchange(buf))
	require.Equal(t, before, buf)
}
