// Package comm provides the message transport a decomposed solver run is
// wired over: explicit rank and group size, tagged point-to-point transfers,
// a paired neighbor exchange, and the blocking collectives the convergence
// protocol needs. Two transports are included: an in-process channel group
// for multi-goroutine runs and tests, and a TCP mesh for one-process-per-rank
// runs. All operations block until the transfer completes; a failure is fatal
// to the run and is returned, never retried.
package comm

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed reports an operation on a torn-down communicator
	ErrClosed = errors.New("comm: communicator closed")
	// ErrSizeMismatch reports a receive buffer that does not match the
	// incoming message length
	ErrSizeMismatch = errors.New("comm: message size mismatch")
	// ErrTagMismatch reports a protocol violation: the next message from the
	// source carried a different tag than the receive expected
	ErrTagMismatch = errors.New("comm: tag mismatch")
	// ErrUnknownRank reports a peer outside the group, or the rank itself
	ErrUnknownRank = errors.New("comm: rank out of range")
	// ErrTimeout reports that the transport could not be established in time
	ErrTimeout = errors.New("comm: timed out")
)

// Reserved tags used by the collectives. Caller tags must be >= 0.
const (
	tagReduce    = -1
	tagBcast     = -2
	tagHello     = -3
	tagGatherLen = -4
	tagGather    = -5
)

// Communicator is one rank's endpoint in a fixed group of cooperating ranks.
//
// Rank and Size never change for the lifetime of the endpoint. Every rank of
// a group must reach each collective call the same number of times; the
// collectives block until the whole group participates.
type Communicator interface {
	Rank() int
	Size() int

	// Send delivers a copy of buf to dest with the given tag. It may block
	// until the destination collects earlier messages.
	Send(buf []float64, dest, tag int) error

	// Recv fills buf with the next message from src, which must carry the
	// given tag and exactly len(buf) values.
	Recv(buf []float64, src, tag int) error

	// SendRecv runs a combined exchange with peer: the send and the receive
	// complete as one operation, so two ranks exchanging with each other
	// cannot deadlock.
	SendRecv(send, recv []float64, peer, tag int) error

	// AllReduceBool combines v across the group with logical AND and
	// returns the result on every rank.
	AllReduceBool(v bool) (bool, error)

	// AllReduceSum combines v across the group by summation, accumulated in
	// rank order so the result is identical on every run.
	AllReduceSum(v float64) (float64, error)

	// Gather collects every rank's buffer at root, indexed by rank; buffers
	// may differ in length. Returns nil on non-root ranks.
	Gather(buf []float64, root int) ([][]float64, error)

	// Close tears down the endpoint. For group transports, closing any
	// endpoint tears down the whole group.
	Close() error
}

// transport is the primitive surface the shared collectives are built on
type transport interface {
	Rank() int
	Size() int
	Send(buf []float64, dest, tag int) error
	Recv(buf []float64, src, tag int) error
}

// allReduce gathers one scalar per rank at rank 0, combines in rank order,
// and broadcasts the result back. Rank-ordered accumulation keeps floating
// point reductions identical across runs and transports.
func allReduce(c transport, v float64, combine func(a, b float64) float64) (float64, error) {
	if c.Size() == 1 {
		return v, nil
	}
	buf := make([]float64, 1)
	if c.Rank() == 0 {
		acc := v
		for src := 1; src < c.Size(); src++ {
			if err := c.Recv(buf, src, tagReduce); err != nil {
				return 0, fmt.Errorf("reduce from rank %d: %w", src, err)
			}
			acc = combine(acc, buf[0])
		}
		buf[0] = acc
		for dst := 1; dst < c.Size(); dst++ {
			if err := c.Send(buf, dst, tagBcast); err != nil {
				return 0, fmt.Errorf("broadcast to rank %d: %w", dst, err)
			}
		}
		return acc, nil
	}
	buf[0] = v
	if err := c.Send(buf, 0, tagReduce); err != nil {
		return 0, fmt.Errorf("reduce to root: %w", err)
	}
	if err := c.Recv(buf, 0, tagBcast); err != nil {
		return 0, fmt.Errorf("reduce result: %w", err)
	}
	return buf[0], nil
}

func allReduceBool(c transport, v bool) (bool, error) {
	x := 0.0
	if v {
		x = 1.0
	}
	out, err := allReduce(c, x, func(a, b float64) float64 {
		if a != 0 && b != 0 {
			return 1
		}
		return 0
	})
	if err != nil {
		return false, err
	}
	return out != 0, nil
}

// gather collects variable-length buffers at root, rank order, two-phase:
// each sender announces its length, then ships the data.
func gather(c transport, buf []float64, root int) ([][]float64, error) {
	if root < 0 || root >= c.Size() {
		return nil, fmt.Errorf("%w: gather root %d of %d", ErrUnknownRank, root, c.Size())
	}
	if c.Rank() != root {
		hdr := []float64{float64(len(buf))}
		if err := c.Send(hdr, root, tagGatherLen); err != nil {
			return nil, fmt.Errorf("gather header: %w", err)
		}
		if err := c.Send(buf, root, tagGather); err != nil {
			return nil, fmt.Errorf("gather payload: %w", err)
		}
		return nil, nil
	}

	out := make([][]float64, c.Size())
	out[root] = append([]float64(nil), buf...)
	hdr := make([]float64, 1)
	for src := 0; src < c.Size(); src++ {
		if src == root {
			continue
		}
		if err := c.Recv(hdr, src, tagGatherLen); err != nil {
			return nil, fmt.Errorf("gather header from rank %d: %w", src, err)
		}
		part := make([]float64, int(hdr[0]))
		if err := c.Recv(part, src, tagGather); err != nil {
			return nil, fmt.Errorf("gather payload from rank %d: %w", src, err)
		}
		out[src] = part
	}
	return out, nil
}

// checkPeer validates a point-to-point counterpart
func checkPeer(rank, size, peer int) error {
	if peer < 0 || peer >= size {
		return fmt.Errorf("%w: peer %d of %d", ErrUnknownRank, peer, size)
	}
	if peer == rank {
		return fmt.Errorf("%w: rank %d addressing itself", ErrUnknownRank, rank)
	}
	return nil
}
