package loadbalance

import (
	"sync/atomic"

	"tcplink/registry"
)

// RoundRobin cycles through endpoints in order. An atomic counter keeps
// Pick lock-free and goroutine-safe.
type RoundRobin struct {
	counter atomic.Int64
}

func (b *RoundRobin) Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	index := b.counter.Add(1) % int64(len(endpoints))
	return &endpoints[index], nil
}

func (b *RoundRobin) Name() string {
	return "RoundRobin"
}
