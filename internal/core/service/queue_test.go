package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildnet/build-scheduler/internal/core/domain"
)

func queued(id string, priority domain.TaskPriority) *domain.QueuedTask {
	return &domain.QueuedTask{
		SchemaVersion: domain.QueuedTaskSchemaVersion,
		ID:            id,
		Task:          domain.BuildTask{Name: id},
		Priority:      priority,
		QueuedAt:      time.Now(),
	}
}

func queueIDs(q *taskQueue) []string {
	ids := make([]string, 0, q.len())
	for _, item := range q.items {
		ids = append(ids, item.ID)
	}
	return ids
}

func TestQueueInsertOrdersByPriority(t *testing.T) {
	var q taskQueue
	q.insert(queued("normal", domain.PriorityNormal))
	q.insert(queued("background", domain.PriorityBackground))
	q.insert(queued("critical", domain.PriorityCritical))
	q.insert(queued("low", domain.PriorityLow))
	q.insert(queued("high", domain.PriorityHigh))

	assert.Equal(t, []string{"critical", "high", "normal", "low", "background"}, queueIDs(&q))
}

func TestQueueInsertFIFOWithinBand(t *testing.T) {
	var q taskQueue
	q.insert(queued("first", domain.PriorityNormal))
	q.insert(queued("second", domain.PriorityNormal))
	q.insert(queued("third", domain.PriorityNormal))

	assert.Equal(t, []string{"first", "second", "third"}, queueIDs(&q))
}

func TestQueuePushFrontBypassesPriority(t *testing.T) {
	var q taskQueue
	q.insert(queued("critical", domain.PriorityCritical))
	q.pushFront(queued("orphan", domain.PriorityBackground))

	assert.Equal(t, []string{"orphan", "critical"}, queueIDs(&q))
}

func TestQueueRemove(t *testing.T) {
	var q taskQueue
	q.insert(queued("a", domain.PriorityNormal))
	q.insert(queued("b", domain.PriorityNormal))

	item, ok := q.remove("a")
	require.True(t, ok)
	assert.Equal(t, "a", item.ID)
	assert.Equal(t, []string{"b"}, queueIDs(&q))

	_, ok = q.remove("a")
	assert.False(t, ok)
}

func TestQueueRemoveAt(t *testing.T) {
	var q taskQueue
	q.insert(queued("a", domain.PriorityNormal))
	q.insert(queued("b", domain.PriorityNormal))
	q.insert(queued("c", domain.PriorityNormal))

	item := q.removeAt(1)
	assert.Equal(t, "b", item.ID)
	assert.Equal(t, []string{"a", "c"}, queueIDs(&q))
}
