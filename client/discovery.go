package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tcplink/codec"
	"tcplink/loadbalance"
	"tcplink/message"
	"tcplink/registry"
	"tcplink/transport"
)

// DiscoveryClient resolves a service name through a registry before every
// exchange: discover endpoints, pick one with the balancer, borrow a pooled
// connection to it, run the round trip, return the connection.
type DiscoveryClient struct {
	registry registry.Registry
	balancer loadbalance.Balancer
	codec    codec.Codec
	logger   *zap.Logger

	dialTimeout time.Duration
	connOpts    []transport.Option
	poolSize    int

	mu    sync.Mutex
	pools map[string]*transport.Pool // keyed by endpoint address
}

// DiscoveryOption configures a DiscoveryClient.
type DiscoveryOption func(*DiscoveryClient)

// WithPoolSize caps the number of pooled connections per endpoint.
// Default is 4.
func WithPoolSize(n int) DiscoveryOption {
	return func(c *DiscoveryClient) {
		c.poolSize = n
	}
}

// WithDiscoveryDialTimeout bounds each dial to a resolved endpoint.
func WithDiscoveryDialTimeout(d time.Duration) DiscoveryOption {
	return func(c *DiscoveryClient) {
		c.dialTimeout = d
	}
}

// WithDiscoveryConnOptions forwards options to every pooled connection.
func WithDiscoveryConnOptions(opts ...transport.Option) DiscoveryOption {
	return func(c *DiscoveryClient) {
		c.connOpts = opts
	}
}

// WithDiscoveryLogger sets the logger. Default is zap.NewNop().
func WithDiscoveryLogger(logger *zap.Logger) DiscoveryOption {
	return func(c *DiscoveryClient) {
		c.logger = logger
	}
}

// NewDiscoveryClient creates a client that resolves servers by name.
func NewDiscoveryClient(reg registry.Registry, bal loadbalance.Balancer, c codec.Codec, opts ...DiscoveryOption) *DiscoveryClient {
	cli := &DiscoveryClient{
		registry: reg,
		balancer: bal,
		codec:    c,
		logger:   zap.NewNop(),
		poolSize: 4,
		pools:    make(map[string]*transport.Pool),
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// Exchange resolves service, picks an endpoint, and runs one round trip on
// a pooled connection. A connection that failed mid-exchange is closed
// rather than returned, so the next call gets a fresh one.
func (c *DiscoveryClient) Exchange(ctx context.Context, service string, req message.Message) (message.Message, error) {
	eps, err := c.registry.Discover(service)
	if err != nil {
		return nil, fmt.Errorf("client: discover %s: %w", service, err)
	}

	ep, err := c.balancer.Pick(eps)
	if err != nil {
		return nil, fmt.Errorf("client: pick endpoint for %s: %w", service, err)
	}

	pool := c.pool(ep.Addr)
	conn, err := pool.Get()
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			pool.Put(conn)
			return nil, err
		}
	}

	resp, err := c.roundTrip(conn, req)
	if err != nil {
		conn.Close()
		pool.Put(conn)
		return nil, err
	}

	// A connection whose deadline cannot be cleared would spuriously time
	// out for the next borrower; discard it instead of pooling it.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
	}
	pool.Put(conn)
	return resp, nil
}

func (c *DiscoveryClient) roundTrip(conn *transport.Conn, req message.Message) (message.Message, error) {
	if err := conn.Send(req); err != nil {
		return nil, err
	}
	return conn.Receive()
}

// pool returns the connection pool for addr, creating it on first use.
func (c *DiscoveryClient) pool(addr string) *transport.Pool {
	c.mu.Lock()
	defer c.mu.Unlock()

	pool, ok := c.pools[addr]
	if !ok {
		pool = transport.NewPool(c.poolSize, c.factory(addr))
		c.pools[addr] = pool
	}
	return pool
}

func (c *DiscoveryClient) factory(addr string) transport.Factory {
	return func() (*transport.Conn, error) {
		cli, err := Dial("tcp", addr, c.codec,
			WithDialTimeout(c.dialTimeout),
			WithConnOptions(c.connOpts...))
		if err != nil {
			return nil, err
		}
		c.logger.Debug("dialed endpoint", zap.String("addr", addr))
		return cli.conn, nil
	}
}

// Close shuts down every pool and its connections.
func (c *DiscoveryClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for addr, pool := range c.pools {
		pool.Close()
		delete(c.pools, addr)
	}
	return nil
}
