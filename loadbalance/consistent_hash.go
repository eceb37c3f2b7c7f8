package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"

	"echo-rpc/registry"
)

const defaultReplicas = 100

// ConsistentHashBalancer maps a fixed client key onto a hash ring of
// instances. The same key keeps landing on the same instance while the
// instance set is stable, and only moves for a fraction of keys when it
// changes.
//
// Each instance is placed on the ring as replicas virtual nodes hashed from
// "{addr}#{i}", which keeps the distribution even with few instances.
type ConsistentHashBalancer struct {
	key      string
	replicas int
}

// NewConsistentHashBalancer creates a balancer for key with 100 virtual nodes
// per instance.
func NewConsistentHashBalancer(key string) *ConsistentHashBalancer {
	return &ConsistentHashBalancer{key: key, replicas: defaultReplicas}
}

// Pick builds the ring for instances and walks clockwise from the key's hash
// to the first virtual node.
func (b *ConsistentHashBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	return b.PickKey(b.key, instances)
}

// PickKey is Pick for an explicit key.
func (b *ConsistentHashBalancer) PickKey(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, registry.ErrNoInstances
	}

	ring := make([]uint32, 0, len(instances)*b.replicas)
	nodes := make(map[uint32]int, len(instances)*b.replicas)
	for i := range instances {
		for r := 0; r < b.replicas; r++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", instances[i].Addr, r)))
			if _, taken := nodes[hash]; taken {
				continue
			}
			ring = append(ring, hash)
			nodes[hash] = i
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i] < ring[j] })

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(ring), func(i int) bool { return ring[i] >= hash })
	if idx == len(ring) {
		idx = 0
	}
	return &instances[nodes[ring[idx]]], nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
