package domain

import (
	"slices"
	"time"
)

type NodeStatus string

const (
	NodeStatusHealthy   NodeStatus = "healthy"
	NodeStatusUnhealthy NodeStatus = "unhealthy"
	NodeStatusDraining  NodeStatus = "draining"
	NodeStatusOffline   NodeStatus = "offline"
)

// NodeResources is a node's total declared capacity.
type NodeResources struct {
	CPUCores float64 `json:"cpu_cores"`
	MemoryGB float64 `json:"memory_gb"`
}

// NodeLoad is the portion of a node's capacity currently consumed.
type NodeLoad struct {
	CPUUsed      float64 `json:"cpu_used"`
	MemoryUsedGB float64 `json:"memory_used_gb"`
}

// NodeConstraints caps how much work a node accepts.
type NodeConstraints struct {
	MaxConcurrentBuilds int `json:"max_concurrent_builds"`
}

// NodeNormalization expresses a node's speed relative to a baseline unit
// node. A factor of 1.0 is the baseline; faster hardware declares more.
type NodeNormalization struct {
	CPUFactor    float64 `json:"cpu_factor"`
	MemoryFactor float64 `json:"memory_factor"`
}

// WorkerNode is a registered build execution target.
type WorkerNode struct {
	ID                    string            `json:"id"`
	Host                  string            `json:"host"`
	Status                NodeStatus        `json:"status"`
	Capabilities          []string          `json:"capabilities,omitempty"`
	Resources             NodeResources     `json:"resources"`
	CurrentLoad           NodeLoad          `json:"current_load"`
	Constraints           NodeConstraints   `json:"constraints"`
	Normalization         NodeNormalization `json:"normalization"`
	PreferredFor          []string          `json:"preferred_for,omitempty"`
	HasCachedDependencies bool              `json:"has_cached_dependencies,omitempty"`
	LastHeartbeat         time.Time         `json:"last_heartbeat"`
}

// HasCapability reports whether the node declares the given capability tag.
func (n *WorkerNode) HasCapability(tag string) bool {
	return slices.Contains(n.Capabilities, tag)
}

// FreeMemoryGB returns memory not yet consumed by running work.
func (n *WorkerNode) FreeMemoryGB() float64 {
	return n.Resources.MemoryGB - n.CurrentLoad.MemoryUsedGB
}

// CanRun reports whether the node satisfies a task's hard requirements:
// every required capability tag must be declared, and if the task sets a
// memory floor the node must have that much free. Both checks gate
// candidacy before any scoring happens.
func (n *WorkerNode) CanRun(task *BuildTask) bool {
	for _, tag := range task.RequiresCapabilities {
		if !n.HasCapability(tag) {
			return false
		}
	}
	if task.MemoryRequiredGB > 0 && n.FreeMemoryGB() < task.MemoryRequiredGB {
		return false
	}
	return true
}

// PrefersTask reports whether the node declares an affinity for tasks with
// this name.
func (n *WorkerNode) PrefersTask(name string) bool {
	return slices.Contains(n.PreferredFor, name)
}

// NodeScore is an explainable ranking of a node's fitness for one task.
// It is produced for inspection only and never persisted.
type NodeScore struct {
	Node    *WorkerNode `json:"node"`
	Score   float64     `json:"score"`
	Reasons []string    `json:"reasons"`
}

// NodeMetrics is a point-in-time usage sample for a node, as reported by
// the monitoring backend.
type NodeMetrics struct {
	CPUUsage float64 `json:"cpu_usage"`
	MemUsage float64 `json:"mem_usage"`
}
