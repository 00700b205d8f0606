package loadbalance

import (
	"math/rand"

	"tcplink/registry"
)

// WeightedRandom picks endpoints with probability proportional to their
// weight. Endpoints with non-positive weight count as weight 1 so they are
// never starved by a misconfigured entry.
type WeightedRandom struct{}

func (b *WeightedRandom) Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	weights := make([]int, len(endpoints))
	total := 0
	for i, ep := range endpoints {
		w := ep.Weight
		if w <= 0 {
			w = 1
		}
		weights[i] = w
		total += w
	}

	r := rand.Intn(total)
	for i := range endpoints {
		r -= weights[i]
		if r < 0 {
			return &endpoints[i], nil
		}
	}
	return &endpoints[len(endpoints)-1], nil
}

func (b *WeightedRandom) Name() string {
	return "WeightedRandom"
}
