// Package client implements the connection-initiating side of a tcplink
// peer: dial a server, send a request, block for the response.
//
// A Client owns exactly one framed connection. Exchange is a single
// synchronous round trip; a mutex serializes callers so at most one
// exchange is ever in flight on the connection, matching the protocol's
// no-pipelining rule.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tcplink/codec"
	"tcplink/message"
	"tcplink/transport"
)

var (
	// ErrConnect wraps dial failures: refusal, timeout, bad address.
	ErrConnect = errors.New("client: connect failed")
	// ErrClosed is returned when exchanging on a closed client.
	ErrClosed = errors.New("client: closed")
)

// Option configures a Client.
type Option func(*Client)

// WithDialTimeout bounds connection establishment. Zero blocks until the
// OS gives up.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.dialTimeout = d
	}
}

// WithConnOptions forwards options to the framed connection (max frame
// size, per-operation timeout).
func WithConnOptions(opts ...transport.Option) Option {
	return func(c *Client) {
		c.connOpts = opts
	}
}

// WithLogger sets the logger. Default is zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client holds one connection to one server.
type Client struct {
	conn   *transport.Conn
	logger *zap.Logger

	dialTimeout time.Duration
	connOpts    []transport.Option

	mu     sync.Mutex // serializes exchanges: one round trip at a time
	closed atomic.Bool
}

// Dial connects to the server at addr. The codec must match the server's.
func Dial(network, addr string, c codec.Codec, opts ...Option) (*Client, error) {
	cli := &Client{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(cli)
	}

	var raw net.Conn
	var err error
	if cli.dialTimeout > 0 {
		raw, err = net.DialTimeout(network, addr, cli.dialTimeout)
	} else {
		raw, err = net.Dial(network, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	cli.conn = transport.NewConn(raw, c, cli.connOpts...)
	cli.logger.Debug("connected",
		zap.String("local", cli.conn.LocalAddr().String()),
		zap.String("remote", cli.conn.RemoteAddr().String()))
	return cli, nil
}

// Exchange sends req and blocks until the matching response arrives, the
// connection fails, or ctx expires. The error reports which of the three
// happened: transport.ErrTimeout for a deadline, protocol errors for a
// dropped or misbehaving peer, codec errors for a malformed response.
func (c *Client) Exchange(ctx context.Context, req message.Message) (message.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return nil, ErrClosed
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
		defer c.conn.SetDeadline(time.Time{})
	}

	if err := c.conn.Send(req); err != nil {
		return nil, err
	}
	return c.conn.Receive()
}

// Close releases the connection. Idempotent, and safe to call while an
// Exchange is blocked: closing the transport unblocks it with an error.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}
