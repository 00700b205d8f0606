// Package registry provides optional service discovery for tcplink peers:
// a server publishes the address it listens on under a service name, and
// clients resolve that name to an endpoint before dialing. Discovery is
// purely an addressing concern; every connection remains point-to-point.
package registry

// Endpoint describes one published server address.
type Endpoint struct {
	Addr    string // host:port the server accepts connections on
	Weight  int    // relative weight for endpoint selection
	Version string // application-defined, carried as metadata
}

// Registry publishes and resolves server endpoints.
type Registry interface {
	// Register publishes an endpoint under the service name with the given
	// TTL in seconds. The entry is kept alive until Deregister or process
	// death.
	Register(service string, ep Endpoint, ttl int64) error
	// Deregister removes a previously published endpoint.
	Deregister(service string, addr string) error
	// Discover returns all currently published endpoints for a service.
	Discover(service string) ([]Endpoint, error)
	// Watch emits the updated endpoint list whenever it changes.
	Watch(service string) <-chan []Endpoint
}
