package client

import (
	"context"

	"github.com/sony/gobreaker"

	"tcplink/message"
)

// BreakerClient wraps a Client with a circuit breaker. After enough
// consecutive failures the breaker opens and Exchange fails fast with
// gobreaker.ErrOpenState instead of hammering a dead server; it closes
// again once a probe succeeds.
type BreakerClient struct {
	breaker *gobreaker.CircuitBreaker
	client  *Client
}

// NewBreakerClient wraps client with the given breaker. Pass a breaker
// built from gobreaker.Settings tuned for the application; the zero
// Settings trip after five consecutive failures.
func NewBreakerClient(client *Client, breaker *gobreaker.CircuitBreaker) *BreakerClient {
	return &BreakerClient{
		breaker: breaker,
		client:  client,
	}
}

// Exchange runs one round trip through the breaker.
func (c *BreakerClient) Exchange(ctx context.Context, req message.Message) (message.Message, error) {
	reply, err := c.breaker.Execute(func() (interface{}, error) {
		return c.client.Exchange(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return reply.(message.Message), nil
}

// Close closes the underlying client.
func (c *BreakerClient) Close() error {
	return c.client.Close()
}
