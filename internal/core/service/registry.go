package service

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/buildnet/build-scheduler/internal/core/domain"
)

// nodeRegistry tracks registered worker nodes and their heartbeat state.
// It is owned by the Scheduler and accessed only under the Scheduler's lock.
type nodeRegistry struct {
	nodes            map[string]*domain.WorkerNode
	heartbeatTimeout time.Duration
	log              *zap.Logger
}

func newNodeRegistry(heartbeatTimeout time.Duration, log *zap.Logger) *nodeRegistry {
	return &nodeRegistry{
		nodes:            make(map[string]*domain.WorkerNode),
		heartbeatTimeout: heartbeatTimeout,
		log:              log,
	}
}

// register adds or overwrites a node by id.
func (r *nodeRegistry) register(node *domain.WorkerNode) {
	if node.LastHeartbeat.IsZero() {
		node.LastHeartbeat = time.Now()
	}
	r.nodes[node.ID] = node
}

// unregister removes a node, returning it if it was present.
func (r *nodeRegistry) unregister(id string) (*domain.WorkerNode, bool) {
	node, ok := r.nodes[id]
	if ok {
		delete(r.nodes, id)
	}
	return node, ok
}

func (r *nodeRegistry) get(id string) (*domain.WorkerNode, bool) {
	node, ok := r.nodes[id]
	return node, ok
}

// NodeUpdate is a partial node state refresh. Nil fields keep the current
// value. Applying any update counts as a heartbeat.
type NodeUpdate struct {
	Status                *domain.NodeStatus
	CurrentLoad           *domain.NodeLoad
	Capabilities          []string
	HasCachedDependencies *bool
}

// update merges the partial state into the node and refreshes its
// heartbeat. This is the sole heartbeat mechanism; there is no separate
// ping primitive.
func (r *nodeRegistry) update(id string, partial NodeUpdate) bool {
	node, ok := r.nodes[id]
	if !ok {
		return false
	}
	if partial.Status != nil {
		node.Status = *partial.Status
	}
	if partial.CurrentLoad != nil {
		node.CurrentLoad = *partial.CurrentLoad
	}
	if partial.Capabilities != nil {
		node.Capabilities = partial.Capabilities
	}
	if partial.HasCachedDependencies != nil {
		node.HasCachedDependencies = *partial.HasCachedDependencies
	}
	node.LastHeartbeat = time.Now()
	return true
}

// healthyNodes returns nodes eligible for assignment: status healthy and a
// heartbeat within the timeout. Staleness is evaluated lazily, only when
// health is queried; a node missing its timeout is flipped to unhealthy on
// first detection, with a warning. Results are sorted by id so iteration
// order is stable across ticks.
func (r *nodeRegistry) healthyNodes(now time.Time) []*domain.WorkerNode {
	var healthy []*domain.WorkerNode
	for _, node := range r.nodes {
		if node.Status != domain.NodeStatusHealthy {
			continue
		}
		if now.Sub(node.LastHeartbeat) > r.heartbeatTimeout {
			node.Status = domain.NodeStatusUnhealthy
			r.log.Warn("node missed heartbeat timeout, marking unhealthy",
				zap.String("node_id", node.ID),
				zap.Time("last_heartbeat", node.LastHeartbeat),
				zap.Duration("timeout", r.heartbeatTimeout))
			continue
		}
		healthy = append(healthy, node)
	}
	sort.Slice(healthy, func(i, j int) bool { return healthy[i].ID < healthy[j].ID })
	return healthy
}

// all returns every registered node sorted by id.
func (r *nodeRegistry) all() []*domain.WorkerNode {
	nodes := make([]*domain.WorkerNode, 0, len(r.nodes))
	for _, node := range r.nodes {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}
