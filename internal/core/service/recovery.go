package service

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/buildnet/build-scheduler/internal/core/domain"
)

// loadStateLocked rebuilds the queue from the state backend. Recovery is
// conservative: records found under running:* belong to a previous process
// whose nodes may be gone, so each one is demoted to the front of the queue
// with its assignment stripped rather than presumed in flight. Read or
// decode failures degrade to a partial queue instead of refusing to start.
func (s *Scheduler) loadStateLocked(ctx context.Context) {
	queued := s.readTaskRecords(ctx, "queue:*")
	sort.SliceStable(queued, func(i, j int) bool {
		if queued[i].Priority != queued[j].Priority {
			return queued[i].Priority < queued[j].Priority
		}
		return queued[i].QueuedAt.Before(queued[j].QueuedAt)
	})
	s.queue.items = queued

	orphaned := s.readTaskRecords(ctx, "running:*")
	for _, qt := range orphaned {
		if _, err := s.state.Delete(ctx, runningKey(qt.ID)); err != nil {
			s.log.Warn("failed to delete stale running record", zap.String("task_id", qt.ID), zap.Error(err))
		}
		qt.AssignedNode = ""
		qt.StartedAt = nil
		s.queue.pushFront(qt)
		if err := s.persistQueuedLocked(ctx, qt); err != nil {
			s.log.Warn("failed to persist demoted task", zap.String("task_id", qt.ID), zap.Error(err))
		}
		s.log.Info("recovered in-flight task into queue", zap.String("task_id", qt.ID))
	}

	if s.queue.len() > 0 {
		s.log.Info("state recovered",
			zap.Int("queued", len(queued)),
			zap.Int("demoted", len(orphaned)))
	}
}

// readTaskRecords fetches and decodes every task record matching the
// pattern, skipping entries that cannot be read or parsed.
func (s *Scheduler) readTaskRecords(ctx context.Context, pattern string) []*domain.QueuedTask {
	keys, err := s.state.Keys(ctx, pattern)
	if err != nil {
		s.log.Warn("failed to list state keys, starting with empty set",
			zap.String("pattern", pattern), zap.Error(err))
		return nil
	}

	var tasks []*domain.QueuedTask
	for _, key := range keys {
		raw, err := s.state.Get(ctx, key)
		if err != nil {
			s.log.Warn("failed to read state record", zap.String("key", key), zap.Error(err))
			continue
		}
		qt, err := decodeTask(raw)
		if err != nil {
			s.log.Warn("skipping unparseable state record", zap.String("key", key), zap.Error(err))
			continue
		}
		tasks = append(tasks, qt)
	}
	return tasks
}

// saveStateLocked flushes the in-memory queue back to queue:* keys.
func (s *Scheduler) saveStateLocked(ctx context.Context) {
	for _, qt := range s.queue.items {
		if err := s.persistQueuedLocked(ctx, qt); err != nil {
			s.log.Error("failed to flush queued task", zap.String("task_id", qt.ID), zap.Error(err))
		}
	}
}
