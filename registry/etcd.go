// etcd-backed Registry implementation.
//
// Layout in etcd:
//
//	Key:   /tcplink/{service}/{addr}
//	Value: JSON-encoded Endpoint
//
// Registration uses TTL-based leases: if the server crashes, the lease
// expires and the entry disappears on its own, so clients never resolve a
// dead address for longer than the TTL.
package registry

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/tcplink/"

// EtcdRegistry implements Registry on top of etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c}, nil
}

// Register publishes the endpoint with a TTL lease and starts background
// lease renewal. The lease ID stays local to this call so one EtcdRegistry
// can safely serve several servers.
func (r *EtcdRegistry) Register(service string, ep Endpoint, ttl int64) error {
	ctx := context.TODO()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(ep)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, keyPrefix+service+"/"+ep.Addr, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}

	// Drain keepalive responses so the channel never fills up.
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes the endpoint. Called during graceful shutdown before
// the listener closes.
func (r *EtcdRegistry) Deregister(service string, addr string) error {
	_, err := r.client.Delete(context.TODO(), keyPrefix+service+"/"+addr)
	return err
}

// Watch monitors a service prefix and emits the full endpoint list on every
// change (registration, deregistration, lease expiry).
func (r *EtcdRegistry) Watch(service string) <-chan []Endpoint {
	ctx := context.TODO()
	ch := make(chan []Endpoint, 1)
	prefix := keyPrefix + service + "/"

	go func() {
		watchChan := r.client.Watch(ctx, prefix, clientv3.WithPrefix())
		for range watchChan {
			// Re-fetch the full list rather than applying individual events.
			eps, _ := r.Discover(service)
			ch <- eps
		}
	}()

	return ch
}

// Discover lists all endpoints currently published for a service.
func (r *EtcdRegistry) Discover(service string) ([]Endpoint, error) {
	resp, err := r.client.Get(context.TODO(), keyPrefix+service+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	eps := make([]Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var ep Endpoint
		if err := json.Unmarshal(kv.Value, &ep); err != nil {
			continue // skip malformed entries
		}
		eps = append(eps, ep)
	}
	return eps, nil
}

// Close releases the etcd client connection.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
