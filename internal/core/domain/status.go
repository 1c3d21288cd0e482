package domain

import "time"

// NodeStatusEntry is the per-node slice of a status snapshot.
type NodeStatusEntry struct {
	ID           string     `json:"id"`
	Status       NodeStatus `json:"status"`
	Load         NodeLoad   `json:"load"`
	RunningTasks int        `json:"running_tasks"`
}

// QueueEntry is a bounded view of one queued task.
type QueueEntry struct {
	ID       string       `json:"id"`
	TaskName string       `json:"task_name"`
	Priority TaskPriority `json:"priority"`
	QueuedAt time.Time    `json:"queued_at"`
}

// ClusterStats summarizes fleet capacity and usage.
type ClusterStats struct {
	TotalWorkers   int     `json:"total_workers"`
	ActiveWorkers  int     `json:"active_workers"`
	TotalCapacity  int     `json:"total_capacity"`
	ActiveTasks    int     `json:"active_tasks"`
	UtilizationPct float64 `json:"utilization_pct"`
}

// StatusSnapshot is a read-only view of scheduler state, bounded so it is
// safe to serve to dashboards. Queue holds at most the first 20 entries.
type StatusSnapshot struct {
	QueueLength  int               `json:"queue_length"`
	RunningCount int               `json:"running_count"`
	Nodes        []NodeStatusEntry `json:"nodes"`
	Queue        []QueueEntry      `json:"queue"`
	Cluster      ClusterStats      `json:"cluster"`
}
