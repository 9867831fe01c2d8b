package comm

import (
	"encoding/gob"
	"fmt"
	"net"
	"sync"
	"time"
)

// frame is the unit of transfer on a network link
type frame struct {
	Src  int
	Tag  int
	Data []float64
}

// peerLink is one established connection: a persistent gob stream in each
// direction plus the inbox its reader goroutine fills
type peerLink struct {
	conn net.Conn
	enc  *gob.Encoder
	dec  *gob.Decoder

	mu sync.Mutex // serializes writers on enc

	in chan frame // closed when the connection dies
}

func (p *peerLink) write(f frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(f)
}

func (p *peerLink) read(done <-chan struct{}) {
	for {
		var f frame
		if err := p.dec.Decode(&f); err != nil {
			close(p.in)
			return
		}
		select {
		case p.in <- f:
		case <-done:
			return
		}
	}
}

// Network is one rank's endpoint of a TCP mesh: rank i accepts a connection
// from every higher rank and dials every lower one, giving each pair exactly
// one connection. Frames are gob encoded. Message order per directed pair
// follows send order.
type Network struct {
	rank, size int
	peers      []*peerLink // indexed by rank, nil at self

	done chan struct{}
	once sync.Once
}

// NewNetwork establishes the mesh for this rank. addrs lists one listen
// address per rank, identical on all ranks; the endpoint listens on
// addrs[rank] and keeps redialing unreachable peers until timeout. All ranks
// must start within the timeout window.
func NewNetwork(rank int, addrs []string, timeout time.Duration) (*Network, error) {
	if len(addrs) < 1 {
		return nil, fmt.Errorf("comm: empty address list")
	}
	if rank < 0 || rank >= len(addrs) {
		return nil, fmt.Errorf("%w: rank %d of %d", ErrUnknownRank, rank, len(addrs))
	}
	if len(addrs) == 1 {
		return &Network{rank: 0, size: 1, peers: make([]*peerLink, 1), done: make(chan struct{})}, nil
	}
	ln, err := net.Listen("tcp", addrs[rank])
	if err != nil {
		return nil, fmt.Errorf("comm: listen %s: %w", addrs[rank], err)
	}
	return newNetwork(rank, addrs, timeout, ln)
}

// newNetwork completes the mesh over an already-bound listener
func newNetwork(rank int, addrs []string, timeout time.Duration, ln net.Listener) (*Network, error) {
	size := len(addrs)
	nw := &Network{
		rank:  rank,
		size:  size,
		peers: make([]*peerLink, size),
		done:  make(chan struct{}),
	}
	deadline := time.Now().Add(timeout)
	defer ln.Close()

	if tl, ok := ln.(*net.TCPListener); ok {
		tl.SetDeadline(deadline)
	}

	// higher ranks dial us; collect their connections concurrently while we
	// dial the lower ranks
	type inbound struct {
		link *peerLink
		src  int
		err  error
	}
	pending := size - 1 - rank
	acceptCh := make(chan inbound, pending)
	go func() {
		for i := 0; i < pending; i++ {
			conn, err := ln.Accept()
			if err != nil {
				acceptCh <- inbound{err: fmt.Errorf("%w: accept: %v", ErrTimeout, err)}
				return
			}
			link := &peerLink{
				conn: conn,
				enc:  gob.NewEncoder(conn),
				dec:  gob.NewDecoder(conn),
				in:   make(chan frame, 4),
			}
			var hello frame
			if err := link.dec.Decode(&hello); err != nil {
				acceptCh <- inbound{err: fmt.Errorf("comm: handshake: %w", err)}
				return
			}
			if hello.Tag != tagHello || hello.Src <= rank || hello.Src >= size {
				acceptCh <- inbound{err: fmt.Errorf("comm: bad handshake from %s", conn.RemoteAddr())}
				return
			}
			acceptCh <- inbound{link: link, src: hello.Src}
		}
	}()

	fail := func(err error) (*Network, error) {
		nw.Close()
		return nil, err
	}

	for dst := 0; dst < rank; dst++ {
		conn, err := dialRetry(addrs[dst], deadline)
		if err != nil {
			return fail(err)
		}
		link := &peerLink{
			conn: conn,
			enc:  gob.NewEncoder(conn),
			dec:  gob.NewDecoder(conn),
			in:   make(chan frame, 4),
		}
		if err := link.write(frame{Src: rank, Tag: tagHello}); err != nil {
			return fail(fmt.Errorf("comm: handshake to rank %d: %w", dst, err))
		}
		nw.peers[dst] = link
	}

	for i := 0; i < pending; i++ {
		in := <-acceptCh
		if in.err != nil {
			return fail(in.err)
		}
		if nw.peers[in.src] != nil {
			return fail(fmt.Errorf("comm: duplicate connection from rank %d", in.src))
		}
		nw.peers[in.src] = in.link
	}

	for _, p := range nw.peers {
		if p != nil {
			go p.read(nw.done)
		}
	}
	return nw, nil
}

func dialRetry(addr string, deadline time.Time) (net.Conn, error) {
	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			return nil, fmt.Errorf("%w: dial %s", ErrTimeout, addr)
		}
		conn, err := net.DialTimeout("tcp", addr, remain)
		if err == nil {
			return conn, nil
		}
		time.Sleep(25 * time.Millisecond)
	}
}

// Rank returns this endpoint's rank
func (c *Network) Rank() int { return c.rank }

// Size returns the group size
func (c *Network) Size() int { return c.size }

func (c *Network) link(peer int) (*peerLink, error) {
	if err := checkPeer(c.rank, c.size, peer); err != nil {
		return nil, err
	}
	p := c.peers[peer]
	if p == nil {
		return nil, fmt.Errorf("%w: no link to rank %d", ErrClosed, peer)
	}
	return p, nil
}

// Send delivers a copy of buf to dest
func (c *Network) Send(buf []float64, dest, tag int) error {
	p, err := c.link(dest)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	// the frame owns its payload; callers may reuse buf immediately
	f := frame{Src: c.rank, Tag: tag, Data: append([]float64(nil), buf...)}
	if err := p.write(f); err != nil {
		return fmt.Errorf("comm: send to rank %d: %w", dest, err)
	}
	return nil
}

// Recv fills buf with the next message from src
func (c *Network) Recv(buf []float64, src, tag int) error {
	p, err := c.link(src)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case f, ok := <-p.in:
		if !ok {
			return fmt.Errorf("%w: connection to rank %d lost", ErrClosed, src)
		}
		if f.Tag != tag {
			return fmt.Errorf("%w: rank %d sent tag %d, rank %d expected %d",
				ErrTagMismatch, src, f.Tag, c.rank, tag)
		}
		if len(f.Data) != len(buf) {
			return fmt.Errorf("%w: rank %d sent %d values, rank %d expected %d",
				ErrSizeMismatch, src, len(f.Data), c.rank, len(buf))
		}
		copy(buf, f.Data)
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// SendRecv exchanges one message with peer in both directions as a single
// operation
func (c *Network) SendRecv(send, recv []float64, peer, tag int) error {
	sent := make(chan error, 1)
	go func() { sent <- c.Send(send, peer, tag) }()
	if err := c.Recv(recv, peer, tag); err != nil {
		return err
	}
	return <-sent
}

// AllReduceBool combines v across the group with logical AND
func (c *Network) AllReduceBool(v bool) (bool, error) {
	return allReduceBool(c, v)
}

// AllReduceSum sums v across the group in rank order
func (c *Network) AllReduceSum(v float64) (float64, error) {
	return allReduce(c, v, func(a, b float64) float64 { return a + b })
}

// Gather collects every rank's buffer at root, indexed by rank
func (c *Network) Gather(buf []float64, root int) ([][]float64, error) {
	return gather(c, buf, root)
}

// Close tears down this endpoint and its connections
func (c *Network) Close() error {
	c.once.Do(func() {
		close(c.done)
		for _, p := range c.peers {
			if p != nil {
				p.conn.Close()
			}
		}
	})
	return nil
}
