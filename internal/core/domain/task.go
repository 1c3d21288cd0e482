package domain

import (
	"time"
)

// TaskPriority orders tasks in the scheduler queue. Lower values are more
// urgent and drain first.
type TaskPriority int

const (
	PriorityCritical   TaskPriority = 0
	PriorityHigh       TaskPriority = 1
	PriorityNormal     TaskPriority = 2
	PriorityLow        TaskPriority = 3
	PriorityBackground TaskPriority = 4
)

func (p TaskPriority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	case PriorityBackground:
		return "BACKGROUND"
	}
	return "UNKNOWN"
}

// QueuedTaskSchemaVersion is the wire schema version for persisted
// QueuedTask records. Recovery rejects records carrying a different version.
const QueuedTaskSchemaVersion = 1

// BuildTask is a caller-supplied unit of build work. The scheduler never
// inspects what the task actually does; it only honors the declared
// capability and memory requirements.
type BuildTask struct {
	Name                 string   `json:"name"`
	RequiresCapabilities []string `json:"requires_capabilities,omitempty"`
	MemoryRequiredGB     float64  `json:"memory_required_gb,omitempty"`
}

// QueuedTask wraps a BuildTask with scheduling metadata. An instance lives
// in exactly one of the queue or the running set at any time.
type QueuedTask struct {
	SchemaVersion int          `json:"schema_version"`
	ID            string       `json:"id"`
	Task          BuildTask    `json:"task"`
	Priority      TaskPriority `json:"priority"`
	QueuedAt      time.Time    `json:"queued_at"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	AssignedNode  string       `json:"assigned_node,omitempty"`
	RetryCount    int          `json:"retry_count"`
	MaxRetries    int          `json:"max_retries"`
}

// OutcomeStatus is the terminal disposition of a task.
type OutcomeStatus string

const (
	OutcomeCompleted OutcomeStatus = "COMPLETED"
	OutcomeFailed    OutcomeStatus = "FAILED"
	OutcomeExhausted OutcomeStatus = "EXHAUSTED"
	OutcomeCancelled OutcomeStatus = "CANCELLED"
)

// TaskOutcome records how a task left the scheduler.
type TaskOutcome struct {
	TaskID      string        `json:"task_id"`
	TaskName    string        `json:"task_name"`
	NodeID      string        `json:"node_id,omitempty"`
	Status      OutcomeStatus `json:"status"`
	RetryCount  int           `json:"retry_count"`
	DurationMS  int64         `json:"duration_ms"`
	Error       string        `json:"error,omitempty"`
	CompletedAt time.Time     `json:"completed_at"`
}
