package registry

import (
	"fmt"
	"sync"
)

// Static is an in-memory Registry for tests and single-process setups where
// etcd is overkill. TTLs are ignored; entries live until Deregister.
type Static struct {
	mu        sync.RWMutex
	endpoints map[string][]Endpoint
}

// NewStatic creates an empty static registry.
func NewStatic() *Static {
	return &Static{endpoints: make(map[string][]Endpoint)}
}

func (s *Static) Register(service string, ep Endpoint, ttl int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.endpoints[service] {
		if existing.Addr == ep.Addr {
			return fmt.Errorf("registry: %s already registered for %s", ep.Addr, service)
		}
	}
	s.endpoints[service] = append(s.endpoints[service], ep)
	return nil
}

func (s *Static) Deregister(service string, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	eps := s.endpoints[service]
	for i, ep := range eps {
		if ep.Addr == addr {
			s.endpoints[service] = append(eps[:i], eps[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *Static) Discover(service string) ([]Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	eps := make([]Endpoint, len(s.endpoints[service]))
	copy(eps, s.endpoints[service])
	return eps, nil
}

// Watch is not supported for the static registry; it returns a closed
// channel so a caller ranging over it stops immediately instead of
// blocking on a nil channel.
func (s *Static) Watch(service string) <-chan []Endpoint {
	ch := make(chan []Endpoint)
	close(ch)
	return ch
}
