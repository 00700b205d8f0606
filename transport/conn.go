// Package transport implements the framed connection: the only layer that
// touches raw socket reads and writes. Everything above it operates on whole
// messages.
//
// A Conn owns one net.Conn. Send and Receive may run concurrently with each
// other, but each side is serialized by its own mutex: a second concurrent
// Receive would interleave partial frames and corrupt the stream, a second
// concurrent Send would interleave frame bytes on the wire.
package transport

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"tcplink/codec"
	"tcplink/message"
	"tcplink/protocol"
)

var (
	// ErrClosed is returned when sending or receiving on a closed Conn.
	ErrClosed = errors.New("transport: connection closed")
	// ErrTimeout is returned when a send or receive misses its deadline.
	ErrTimeout = errors.New("transport: deadline exceeded")
)

// Option configures a Conn.
type Option func(*Conn)

// WithMaxFrameSize bounds the body length accepted from the peer.
// Zero means protocol.DefaultMaxFrameSize.
func WithMaxFrameSize(n uint32) Option {
	return func(c *Conn) {
		c.maxFrame = n
	}
}

// WithTimeout sets a per-operation deadline applied before every Send and
// Receive. Zero means block indefinitely.
func WithTimeout(d time.Duration) Option {
	return func(c *Conn) {
		c.timeout = d
	}
}

// Conn is a framed connection over a reliable, ordered byte stream.
// It pairs a codec with the frame protocol so callers exchange whole
// messages and never see partial reads or writes.
type Conn struct {
	raw      net.Conn
	reader   *bufio.Reader
	codec    codec.Codec
	maxFrame uint32
	timeout  time.Duration

	sendMu sync.Mutex
	recvMu sync.Mutex
	closed atomic.Bool
}

// NewConn wraps an established net.Conn. The codec converts messages to and
// from frame bodies; it must match the codec on the peer.
func NewConn(raw net.Conn, c codec.Codec, opts ...Option) *Conn {
	conn := &Conn{
		raw:    raw,
		reader: bufio.NewReader(raw),
		codec:  c,
	}
	for _, opt := range opts {
		opt(conn)
	}
	return conn
}

// Send encodes m and writes the complete frame to the transport.
func (c *Conn) Send(m message.Message) error {
	if c.closed.Load() {
		return ErrClosed
	}

	body, err := c.codec.Encode(m)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.timeout > 0 {
		if err := c.raw.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return err
		}
	}

	if err := protocol.WriteFrame(c.raw, body); err != nil {
		return c.mapError(err)
	}
	return nil
}

// Receive blocks until one complete frame arrives, then decodes it.
//
// A clean close between frames surfaces as protocol.ErrConnectionClosed; a
// close mid-frame as protocol.ErrTruncatedFrame. Both leave the Conn in a
// state where only Close is useful.
func (c *Conn) Receive() (message.Message, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	if c.timeout > 0 {
		if err := c.raw.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, err
		}
	}

	body, err := protocol.ReadFrame(c.reader, c.maxFrame)
	if err != nil {
		return nil, c.mapError(err)
	}
	return c.codec.Decode(body)
}

// SetDeadline sets an absolute deadline on the underlying transport for both
// reads and writes. It overrides the per-operation timeout until the next
// Send or Receive re-arms it. A zero time clears the deadline.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.raw.SetDeadline(t)
}

// Close releases the underlying transport. Idempotent: the first call closes
// the socket and unblocks any in-progress Send or Receive, later calls
// return nil.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.raw.Close()
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// LocalAddr returns the local endpoint of the connection.
func (c *Conn) LocalAddr() net.Addr {
	return c.raw.LocalAddr()
}

// RemoteAddr returns the peer endpoint of the connection.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// mapError normalizes transport-level failures: deadline misses become
// ErrTimeout, errors after a local Close become ErrClosed.
func (c *Conn) mapError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	if c.closed.Load() {
		return ErrClosed
	}
	return err
}
