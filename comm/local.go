package comm

import (
	"fmt"
	"sync"
)

type message struct {
	tag  int
	data []float64
}

// localGroup is the shared state of an in-process group: one buffered channel
// per directed rank pair, and a teardown signal
type localGroup struct {
	links [][]chan message // links[src][dst]
	done  chan struct{}
	once  sync.Once
}

func (g *localGroup) shutdown() {
	g.once.Do(func() { close(g.done) })
}

// Local is one rank's endpoint of an in-process group. Each directed pair of
// ranks is connected by a channel of capacity one; messages are copied on
// send, never shared.
type Local struct {
	rank, size int
	g          *localGroup
}

// NewLocalGroup wires size endpoints together and returns them indexed by
// rank. Each endpoint must be driven by its own goroutine.
func NewLocalGroup(size int) ([]*Local, error) {
	if size < 1 {
		return nil, fmt.Errorf("comm: group size %d", size)
	}
	g := &localGroup{
		links: make([][]chan message, size),
		done:  make(chan struct{}),
	}
	for src := 0; src < size; src++ {
		g.links[src] = make([]chan message, size)
		for dst := 0; dst < size; dst++ {
			if src != dst {
				g.links[src][dst] = make(chan message, 1)
			}
		}
	}
	ranks := make([]*Local, size)
	for r := 0; r < size; r++ {
		ranks[r] = &Local{rank: r, size: size, g: g}
	}
	return ranks, nil
}

// Rank returns this endpoint's rank
func (c *Local) Rank() int { return c.rank }

// Size returns the group size
func (c *Local) Size() int { return c.size }

// Send delivers a copy of buf to dest
func (c *Local) Send(buf []float64, dest, tag int) error {
	if err := checkPeer(c.rank, c.size, dest); err != nil {
		return err
	}
	select {
	case <-c.g.done:
		return ErrClosed
	default:
	}
	msg := message{tag: tag, data: append([]float64(nil), buf...)}
	select {
	case c.g.links[c.rank][dest] <- msg:
		return nil
	case <-c.g.done:
		return ErrClosed
	}
}

// Recv fills buf with the next message from src
func (c *Local) Recv(buf []float64, src, tag int) error {
	if err := checkPeer(c.rank, c.size, src); err != nil {
		return err
	}
	select {
	case <-c.g.done:
		return ErrClosed
	default:
	}
	select {
	case msg := <-c.g.links[src][c.rank]:
		if msg.tag != tag {
			return fmt.Errorf("%w: rank %d sent tag %d, rank %d expected %d",
				ErrTagMismatch, src, msg.tag, c.rank, tag)
		}
		if len(msg.data) != len(buf) {
			return fmt.Errorf("%w: rank %d sent %d values, rank %d expected %d",
				ErrSizeMismatch, src, len(msg.data), c.rank, len(buf))
		}
		copy(buf, msg.data)
		return nil
	case <-c.g.done:
		return ErrClosed
	}
}

// SendRecv exchanges one message with peer in both directions as a single
// operation. The send runs concurrently with the receive, so mutual
// exchanges complete regardless of call order on the two sides.
func (c *Local) SendRecv(send, recv []float64, peer, tag int) error {
	sent := make(chan error, 1)
	go func() { sent <- c.Send(send, peer, tag) }()
	if err := c.Recv(recv, peer, tag); err != nil {
		return err
	}
	return <-sent
}

// AllReduceBool combines v across the group with logical AND
func (c *Local) AllReduceBool(v bool) (bool, error) {
	return allReduceBool(c, v)
}

// AllReduceSum sums v across the group in rank order
func (c *Local) AllReduceSum(v float64) (float64, error) {
	return allReduce(c, v, func(a, b float64) float64 { return a + b })
}

// Gather collects every rank's buffer at root, indexed by rank
func (c *Local) Gather(buf []float64, root int) ([][]float64, error) {
	return gather(c, buf, root)
}

// Close tears down the whole group; pending operations on every endpoint
// return ErrClosed
func (c *Local) Close() error {
	c.g.shutdown()
	return nil
}
