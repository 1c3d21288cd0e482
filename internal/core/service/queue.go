package service

import (
	"github.com/buildnet/build-scheduler/internal/core/domain"
)

// taskQueue holds not-yet-assigned tasks sorted by ascending priority
// value. Insertion preserves FIFO order within a priority band. Only the
// Scheduler touches it, under the Scheduler's lock.
type taskQueue struct {
	items []*domain.QueuedTask
}

// insert places the task before the first entry with a numerically greater
// (less urgent) priority, keeping the queue non-decreasing by priority and
// FIFO among equals.
func (q *taskQueue) insert(task *domain.QueuedTask) {
	pos := len(q.items)
	for i, item := range q.items {
		if item.Priority > task.Priority {
			pos = i
			break
		}
	}
	q.items = append(q.items, nil)
	copy(q.items[pos+1:], q.items[pos:])
	q.items[pos] = task
}

// pushFront bypasses priority ordering so orphaned work retries ahead of
// everything else.
func (q *taskQueue) pushFront(task *domain.QueuedTask) {
	q.items = append([]*domain.QueuedTask{task}, q.items...)
}

// remove drops the task with the given id, reporting whether it was found.
func (q *taskQueue) remove(id string) (*domain.QueuedTask, bool) {
	for i, item := range q.items {
		if item.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return item, true
		}
	}
	return nil, false
}

// removeAt drops the entry at index i.
func (q *taskQueue) removeAt(i int) *domain.QueuedTask {
	item := q.items[i]
	q.items = append(q.items[:i], q.items[i+1:]...)
	return item
}

func (q *taskQueue) len() int {
	return len(q.items)
}
