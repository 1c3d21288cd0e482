// Package port provides behavior interfaces that connect the scheduler
// service to its storage, queue and monitoring adapters.
package port

import (
	"context"
	"errors"
	"time"

	"github.com/buildnet/build-scheduler/internal/core/domain"
)

// ErrKeyNotFound is returned by StateManager.Get for missing keys.
var ErrKeyNotFound = errors.New("state: key not found")

// StateManager is the durable key/value store plus publish channel the
// scheduler persists to and announces assignments through (Redis). Values
// are scheduler-chosen JSON strings.
type StateManager interface {
	Get(ctx context.Context, key string) (string, error)
	// Set writes a value. A zero ttl means the key does not expire.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes a key, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// Keys lists keys matching a glob-style pattern, e.g. "queue:*".
	Keys(ctx context.Context, pattern string) ([]string, error)
	Publish(ctx context.Context, channel, message string) error
}

// Notifier pushes assignment envelopes onto a broker so worker agents can
// consume them off-box (RabbitMQ).
type Notifier interface {
	PublishAssignment(ctx context.Context, nodeID string, task *domain.QueuedTask) error
}

// TaskArchive records terminal task outcomes for audit and reporting.
type TaskArchive interface {
	RecordOutcome(ctx context.Context, outcome *domain.TaskOutcome) error
}

// MetricsSource fetches live node usage from the monitoring backend
// (Prometheus).
type MetricsSource interface {
	NodeMetrics(ctx context.Context, nodeID string) (cpu, mem float64, err error)
	AllNodeMetrics(ctx context.Context) (map[string]domain.NodeMetrics, error)
}
