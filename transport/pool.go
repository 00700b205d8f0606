// Connection pool for client-side reuse.
//
// A borrowed Conn is used exclusively until returned, which lines up with
// the one-exchange-in-flight-per-connection rule: the pool hands out a
// connection, the caller runs a full request/response round trip on it, then
// puts it back.
//
// Pool design: two buffered channels. idle queues returned connections;
// slots holds one capacity token per connection the pool may still create.
// Every live connection owns a token, and discarding a dead connection puts
// its token back on slots, so a Get blocked at capacity wakes up and dials
// a replacement instead of waiting on a connection that no longer exists.
package transport

import (
	"errors"
	"sync"
)

// ErrPoolClosed is returned by Get after Close.
var ErrPoolClosed = errors.New("transport: pool closed")

// Factory creates a new framed connection, typically by dialing.
type Factory func() (*Conn, error)

// Pool manages reusable connections to a single address.
type Pool struct {
	idle    chan *Conn
	slots   chan struct{}
	factory Factory

	mu     sync.Mutex
	closed bool
}

// NewPool creates a pool with the given max size. Connections are created
// lazily: the pool starts empty and grows on demand.
func NewPool(maxConns int, factory Factory) *Pool {
	if maxConns <= 0 {
		maxConns = 1
	}
	p := &Pool{
		idle:    make(chan *Conn, maxConns),
		slots:   make(chan struct{}, maxConns),
		factory: factory,
	}
	for i := 0; i < maxConns; i++ {
		p.slots <- struct{}{}
	}
	return p
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Get retrieves a connection from the pool.
// Strategy:
//  1. Take an idle connection if one is queued (non-blocking select)
//  2. Otherwise block until either an idle connection or a capacity slot
//     becomes available; a slot means dial a new connection
//
// A dead connection popped from the idle queue frees its slot and the loop
// tries again, so Get never parks on capacity the pool no longer uses.
func (p *Pool) Get() (*Conn, error) {
	for {
		if p.isClosed() {
			return nil, ErrPoolClosed
		}

		select {
		case conn := <-p.idle:
			if conn.IsClosed() {
				p.slots <- struct{}{}
				continue
			}
			return conn, nil
		default:
		}

		select {
		case conn := <-p.idle:
			if conn.IsClosed() {
				p.slots <- struct{}{}
				continue
			}
			return conn, nil
		case <-p.slots:
			if p.isClosed() {
				p.slots <- struct{}{}
				return nil, ErrPoolClosed
			}
			conn, err := p.factory()
			if err != nil {
				p.slots <- struct{}{}
				return nil, err
			}
			return conn, nil
		}
	}
}

// Put returns a connection to the pool. A closed connection is discarded
// and its capacity slot released, waking any Get blocked at capacity.
func (p *Pool) Put(conn *Conn) {
	if conn == nil {
		return
	}

	if p.isClosed() || conn.IsClosed() {
		conn.Close()
		p.slots <- struct{}{}
		return
	}

	p.idle <- conn

	// Close may have set the flag and drained between the check above and
	// the send. Sweep one idle connection so nothing outlives the pool.
	if p.isClosed() {
		select {
		case c := <-p.idle:
			c.Close()
			p.slots <- struct{}{}
		default:
		}
	}
}

// Close shuts down the pool and closes all idle connections. Connections
// currently borrowed are closed when returned. The idle channel is never
// closed, so a Put racing Close cannot panic; it sees the flag and
// discards.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case conn := <-p.idle:
			conn.Close()
			p.slots <- struct{}{}
		default:
			return nil
		}
	}
}
