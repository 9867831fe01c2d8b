package solver

import (
	"fmt"

	"github.com/gridworks-hpc/relax/comm"
	"github.com/gridworks-hpc/relax/partition"
)

// Point-to-point tags of the run protocol. Collectives carry their own.
const (
	tagScatter = 1
	tagHalo    = 2
)

// exchanger moves boundary rows between chain neighbors after each sweep.
// Both transfers of a neighbor pair run as one combined SendRecv, and every
// rank works its neighbors in the same order, above first, so the chain can
// never circular-wait.
type exchanger struct {
	comm comm.Communicator
	topo Chain
	off  partition.Offsets
	n    int // halo width, one full row
}

func newExchanger(c comm.Communicator, topo Chain, off partition.Offsets, n int) *exchanger {
	return &exchanger{comm: c, topo: topo, off: off, n: n}
}

// exchange sends this rank's boundary rows and installs the neighbors'
// boundary rows into the halo positions of buf
func (e *exchanger) exchange(buf []float64) error {
	if e.topo.HasAbove() {
		send := buf[e.off.SendTop : e.off.SendTop+e.n]
		recv := buf[e.off.RecvTop : e.off.RecvTop+e.n]
		if err := e.comm.SendRecv(send, recv, e.topo.Above(), tagHalo); err != nil {
			return fmt.Errorf("solver: halo exchange with rank %d: %w", e.topo.Above(), err)
		}
	}
	if e.topo.HasBelow() {
		send := buf[e.off.SendBottom : e.off.SendBottom+e.n]
		recv := buf[e.off.RecvBottom : e.off.RecvBottom+e.n]
		if err := e.comm.SendRecv(send, recv, e.topo.Below(), tagHalo); err != nil {
			return fmt.Errorf("solver: halo exchange with rank %d: %w", e.topo.Below(), err)
		}
	}
	return nil
}
