// Package service implements the build scheduler: priority queuing, node
// registry and health tracking, node scoring, the periodic assignment tick,
// and crash recovery through the external state backend.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/buildnet/build-scheduler/internal/core/domain"
	"github.com/buildnet/build-scheduler/internal/core/port"
)

const (
	defaultProcessInterval  = 1000 * time.Millisecond
	defaultMaxRetries       = 3
	defaultHeartbeatTimeout = 15000 * time.Millisecond

	// cancelRequestTTL bounds how long a cooperative cancel marker stays
	// visible to the executing node.
	cancelRequestTTL = 60 * time.Second
)

// Config tunes the scheduler. Zero values fall back to defaults.
type Config struct {
	ProcessInterval  time.Duration
	MaxRetries       int
	HeartbeatTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ProcessInterval <= 0 {
		c.ProcessInterval = defaultProcessInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = defaultHeartbeatTimeout
	}
}

// assignmentMessage is the envelope published on a node's task channel.
type assignmentMessage struct {
	Type string             `json:"type"`
	Task *domain.QueuedTask `json:"task"`
}

// Scheduler owns the task queue, the running set and the node registry.
// All three are mutated only through its public methods, serialized by one
// mutex, so no caller ever observes a task in both the queue and the
// running set.
type Scheduler struct {
	mu       sync.Mutex
	cfg      Config
	state    port.StateManager
	notifier port.Notifier    // optional
	archive  port.TaskArchive // optional
	log      *zap.Logger

	queue    taskQueue
	running  map[string]*domain.QueuedTask
	registry *nodeRegistry

	now func() time.Time

	started bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewScheduler wires a scheduler. notifier and archive may be nil; the
// state backend is required.
func NewScheduler(cfg Config, state port.StateManager, notifier port.Notifier, archive port.TaskArchive, log *zap.Logger) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		cfg:      cfg,
		state:    state,
		notifier: notifier,
		archive:  archive,
		log:      log,
		running:  make(map[string]*domain.QueuedTask),
		registry: newNodeRegistry(cfg.HeartbeatTimeout, log),
		now:      time.Now,
	}
}

func queueKey(id string) string   { return "queue:" + id }
func runningKey(id string) string { return "running:" + id }
func cancelKey(id string) string  { return "cancel:" + id }
func nodeChannel(id string) string {
	return fmt.Sprintf("node:%s:tasks", id)
}

// Start recovers persisted state and begins the periodic assignment tick.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.loadStateLocked(ctx)
	s.mu.Unlock()

	go s.run(ctx)
	s.log.Info("scheduler started",
		zap.Duration("process_interval", s.cfg.ProcessInterval),
		zap.Int("max_retries", s.cfg.MaxRetries),
		zap.Duration("heartbeat_timeout", s.cfg.HeartbeatTimeout))
	return nil
}

// Stop halts the tick loop and flushes the queue back to the state
// backend. The running set is not persisted here; the next Start
// reconciles it conservatively.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveStateLocked(ctx)
	s.log.Info("scheduler stopped", zap.Int("queued", s.queue.len()), zap.Int("running", len(s.running)))
}

// run drives the tick. Ticks are processed sequentially; a slow tick delays
// the next one rather than overlapping it.
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.ProcessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.processQueue(ctx)
		}
	}
}

// QueueTask wraps the task with scheduling metadata, inserts it in priority
// order and persists it before returning. On a write failure the task stays
// queued in memory and the error is returned alongside the generated id.
func (s *Scheduler) QueueTask(ctx context.Context, task domain.BuildTask, priority domain.TaskPriority) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qt := &domain.QueuedTask{
		SchemaVersion: domain.QueuedTaskSchemaVersion,
		ID:            uuid.NewString(),
		Task:          task,
		Priority:      priority,
		QueuedAt:      s.now(),
		MaxRetries:    s.cfg.MaxRetries,
	}
	s.queue.insert(qt)

	err := s.persistQueuedLocked(ctx, qt)
	s.log.Info("task queued",
		zap.String("task_id", qt.ID),
		zap.String("task_name", task.Name),
		zap.String("priority", priority.String()),
		zap.Int("queue_length", s.queue.len()))
	return qt.ID, err
}

// CancelTask removes a queued task outright. A running task cannot be
// preempted; instead a time-boxed cancel marker is written for the
// executing node to observe cooperatively. Returns false for unknown ids.
func (s *Scheduler) CancelTask(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if qt, ok := s.queue.remove(id); ok {
		if _, err := s.state.Delete(ctx, queueKey(id)); err != nil {
			s.log.Error("failed to delete queued record on cancel", zap.String("task_id", id), zap.Error(err))
		}
		s.recordOutcome(ctx, &domain.TaskOutcome{
			TaskID:      qt.ID,
			TaskName:    qt.Task.Name,
			Status:      domain.OutcomeCancelled,
			RetryCount:  qt.RetryCount,
			CompletedAt: s.now(),
		})
		s.log.Info("queued task cancelled", zap.String("task_id", id))
		return true
	}

	if _, ok := s.running[id]; ok {
		if err := s.state.Set(ctx, cancelKey(id), "cancel_requested", cancelRequestTTL); err != nil {
			s.log.Error("failed to write cancel marker", zap.String("task_id", id), zap.Error(err))
		}
		s.log.Info("cancel requested for running task", zap.String("task_id", id))
		return true
	}

	return false
}

// RegisterNode adds or overwrites a worker node.
func (s *Scheduler) RegisterNode(node *domain.WorkerNode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry.register(node)
	s.log.Info("node registered",
		zap.String("node_id", node.ID),
		zap.String("host", node.Host),
		zap.Int("max_concurrent_builds", node.Constraints.MaxConcurrentBuilds),
		zap.Strings("capabilities", node.Capabilities))
}

// UnregisterNode removes a node and immediately requeues its in-flight
// tasks at the front of the queue so orphaned work retries ahead of newly
// arriving work.
func (s *Scheduler) UnregisterNode(ctx context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.registry.unregister(id); !ok {
		return
	}
	s.log.Info("node unregistered", zap.String("node_id", id))

	for taskID, qt := range s.running {
		if qt.AssignedNode != id {
			continue
		}
		delete(s.running, taskID)
		if _, err := s.state.Delete(ctx, runningKey(taskID)); err != nil {
			s.log.Error("failed to delete running record on failover", zap.String("task_id", taskID), zap.Error(err))
		}
		qt.AssignedNode = ""
		qt.StartedAt = nil

		if qt.RetryCount >= qt.MaxRetries {
			s.dropExhaustedLocked(ctx, qt, id, "node removed while task in flight")
			continue
		}
		qt.RetryCount++
		s.queue.pushFront(qt)
		if err := s.persistQueuedLocked(ctx, qt); err != nil {
			s.log.Error("failed to persist requeued task on failover", zap.String("task_id", taskID), zap.Error(err))
		}
		s.log.Warn("task requeued after node failure",
			zap.String("task_id", taskID),
			zap.String("node_id", id),
			zap.Int("retry_count", qt.RetryCount))
	}
}

// UpdateNodeStatus merges partial node state and refreshes the node's
// heartbeat. Returns false for unknown node ids.
func (s *Scheduler) UpdateNodeStatus(id string, partial NodeUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.registry.update(id, partial)
	if ok {
		s.log.Debug("node status updated", zap.String("node_id", id))
	}
	return ok
}

// TaskCompleted reports the result of a task the scheduler handed out.
// Unknown ids are a no-op. A failed task is requeued with its priority
// promoted one band toward critical, until retries run out.
func (s *Scheduler) TaskCompleted(ctx context.Context, id string, success bool, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qt, ok := s.running[id]
	if !ok {
		s.log.Debug("completion report for unknown task", zap.String("task_id", id))
		return
	}

	var duration time.Duration
	if qt.StartedAt != nil {
		duration = s.now().Sub(*qt.StartedAt)
	}

	delete(s.running, id)
	if _, err := s.state.Delete(ctx, runningKey(id)); err != nil {
		s.log.Error("failed to delete running record", zap.String("task_id", id), zap.Error(err))
	}

	if success {
		s.recordOutcome(ctx, &domain.TaskOutcome{
			TaskID:      qt.ID,
			TaskName:    qt.Task.Name,
			NodeID:      qt.AssignedNode,
			Status:      domain.OutcomeCompleted,
			RetryCount:  qt.RetryCount,
			DurationMS:  duration.Milliseconds(),
			CompletedAt: s.now(),
		})
		s.log.Info("task completed",
			zap.String("task_id", id),
			zap.String("node_id", qt.AssignedNode),
			zap.Duration("duration", duration))
		return
	}

	s.log.Warn("task failed",
		zap.String("task_id", id),
		zap.String("node_id", qt.AssignedNode),
		zap.Duration("duration", duration),
		zap.String("detail", detail),
		zap.Int("retry_count", qt.RetryCount),
		zap.Int("max_retries", qt.MaxRetries))

	failedOn := qt.AssignedNode
	if qt.RetryCount >= qt.MaxRetries {
		qt.AssignedNode = ""
		qt.StartedAt = nil
		s.dropExhaustedLocked(ctx, qt, failedOn, detail)
		return
	}

	s.recordOutcome(ctx, &domain.TaskOutcome{
		TaskID:      qt.ID,
		TaskName:    qt.Task.Name,
		NodeID:      failedOn,
		Status:      domain.OutcomeFailed,
		RetryCount:  qt.RetryCount,
		DurationMS:  duration.Milliseconds(),
		Error:       detail,
		CompletedAt: s.now(),
	})

	qt.RetryCount++
	qt.AssignedNode = ""
	qt.StartedAt = nil
	if qt.Priority > domain.PriorityCritical {
		qt.Priority--
	}
	s.queue.insert(qt)
	if err := s.persistQueuedLocked(ctx, qt); err != nil {
		s.log.Error("failed to persist retried task", zap.String("task_id", id), zap.Error(err))
	}
	s.log.Info("task requeued for retry",
		zap.String("task_id", id),
		zap.Int("retry_count", qt.RetryCount),
		zap.String("priority", qt.Priority.String()))
}

// ScoreNodesForTask ranks every healthy, capable node for the task, best
// first. It is an advisory query; the assignment tick does not use it.
func (s *Scheduler) ScoreNodesForTask(task domain.BuildTask) []domain.NodeScore {
	s.mu.Lock()
	defer s.mu.Unlock()
	healthy := s.registry.healthyNodes(s.now())
	return scoreNodes(healthy, &task, s.runningCountLocked)
}

// GetStatus returns a bounded snapshot of scheduler state.
func (s *Scheduler) GetStatus() domain.StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodes := s.registry.all()
	snapshot := domain.StatusSnapshot{
		QueueLength:  s.queue.len(),
		RunningCount: len(s.running),
		Nodes:        make([]domain.NodeStatusEntry, 0, len(nodes)),
	}

	totalCapacity := 0
	activeWorkers := 0
	for _, node := range nodes {
		snapshot.Nodes = append(snapshot.Nodes, domain.NodeStatusEntry{
			ID:           node.ID,
			Status:       node.Status,
			Load:         node.CurrentLoad,
			RunningTasks: s.runningCountLocked(node.ID),
		})
		totalCapacity += node.Constraints.MaxConcurrentBuilds
		if node.Status != domain.NodeStatusOffline {
			activeWorkers++
		}
	}

	limit := s.queue.len()
	if limit > 20 {
		limit = 20
	}
	snapshot.Queue = make([]domain.QueueEntry, 0, limit)
	for _, qt := range s.queue.items[:limit] {
		snapshot.Queue = append(snapshot.Queue, domain.QueueEntry{
			ID:       qt.ID,
			TaskName: qt.Task.Name,
			Priority: qt.Priority,
			QueuedAt: qt.QueuedAt,
		})
	}

	snapshot.Cluster = domain.ClusterStats{
		TotalWorkers:  len(nodes),
		ActiveWorkers: activeWorkers,
		TotalCapacity: totalCapacity,
		ActiveTasks:   len(s.running),
	}
	if totalCapacity > 0 {
		snapshot.Cluster.UtilizationPct = float64(len(s.running)) / float64(totalCapacity) * 100
	}
	return snapshot
}

// processQueue is one assignment tick: match queued tasks to healthy nodes
// with free capacity. Matching is greedy and node-first; each available
// node takes the first queue entry it is eligible for, so the best-priority
// task wins, not necessarily the best-scoring node. Full scoring stays an
// advisory query.
func (s *Scheduler) processQueue(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue.len() == 0 {
		return
	}

	now := s.now()
	healthy := s.registry.healthyNodes(now)
	if len(healthy) == 0 {
		return
	}

	for _, node := range healthy {
		if s.queue.len() == 0 {
			return
		}
		if !s.canNodeAcceptTaskLocked(node) {
			continue
		}
		for i, qt := range s.queue.items {
			if !node.CanRun(&qt.Task) {
				continue
			}
			s.queue.removeAt(i)
			s.assignLocked(ctx, qt, node, now)
			break
		}
	}
}

// assignLocked moves a task from the queue to the running set, persists the
// transition and announces it on the node's channel.
func (s *Scheduler) assignLocked(ctx context.Context, qt *domain.QueuedTask, node *domain.WorkerNode, now time.Time) {
	started := now
	qt.AssignedNode = node.ID
	qt.StartedAt = &started
	s.running[qt.ID] = qt

	if err := s.state.Set(ctx, runningKey(qt.ID), s.encodeTask(qt), 0); err != nil {
		s.log.Error("failed to persist running record", zap.String("task_id", qt.ID), zap.Error(err))
	}
	if _, err := s.state.Delete(ctx, queueKey(qt.ID)); err != nil {
		s.log.Error("failed to delete queued record", zap.String("task_id", qt.ID), zap.Error(err))
	}

	msg, err := json.Marshal(assignmentMessage{Type: "task_assigned", Task: qt})
	if err == nil {
		if err := s.state.Publish(ctx, nodeChannel(node.ID), string(msg)); err != nil {
			s.log.Error("failed to publish assignment", zap.String("task_id", qt.ID), zap.Error(err))
		}
	}
	if s.notifier != nil {
		if err := s.notifier.PublishAssignment(ctx, node.ID, qt); err != nil {
			s.log.Error("failed to notify broker of assignment", zap.String("task_id", qt.ID), zap.Error(err))
		}
	}

	s.log.Info("task assigned",
		zap.String("task_id", qt.ID),
		zap.String("task_name", qt.Task.Name),
		zap.String("node_id", node.ID),
		zap.String("priority", qt.Priority.String()))
}

// canNodeAcceptTaskLocked reports whether the node has free capacity.
// Draining nodes keep their running tasks but take no new ones.
func (s *Scheduler) canNodeAcceptTaskLocked(node *domain.WorkerNode) bool {
	if node.Status == domain.NodeStatusDraining {
		return false
	}
	return s.runningCountLocked(node.ID) < node.Constraints.MaxConcurrentBuilds
}

// runningCountLocked counts tasks currently assigned to a node.
func (s *Scheduler) runningCountLocked(nodeID string) int {
	count := 0
	for _, qt := range s.running {
		if qt.AssignedNode == nodeID {
			count++
		}
	}
	return count
}

// dropExhaustedLocked terminally drops a task whose retries ran out. The
// archive record is the only programmatic terminal-failure signal.
func (s *Scheduler) dropExhaustedLocked(ctx context.Context, qt *domain.QueuedTask, nodeID, detail string) {
	s.recordOutcome(ctx, &domain.TaskOutcome{
		TaskID:      qt.ID,
		TaskName:    qt.Task.Name,
		NodeID:      nodeID,
		Status:      domain.OutcomeExhausted,
		RetryCount:  qt.RetryCount,
		Error:       detail,
		CompletedAt: s.now(),
	})
	s.log.Error("task dropped, retries exhausted",
		zap.String("task_id", qt.ID),
		zap.String("task_name", qt.Task.Name),
		zap.Int("retry_count", qt.RetryCount),
		zap.String("detail", detail))
}

func (s *Scheduler) recordOutcome(ctx context.Context, outcome *domain.TaskOutcome) {
	if s.archive == nil {
		return
	}
	if err := s.archive.RecordOutcome(ctx, outcome); err != nil {
		s.log.Error("failed to archive task outcome",
			zap.String("task_id", outcome.TaskID),
			zap.String("status", string(outcome.Status)),
			zap.Error(err))
	}
}

func (s *Scheduler) persistQueuedLocked(ctx context.Context, qt *domain.QueuedTask) error {
	if err := s.state.Set(ctx, queueKey(qt.ID), s.encodeTask(qt), 0); err != nil {
		return fmt.Errorf("persist queued task %s: %w", qt.ID, err)
	}
	return nil
}

func (s *Scheduler) encodeTask(qt *domain.QueuedTask) string {
	data, err := json.Marshal(qt)
	if err != nil {
		// QueuedTask contains nothing unmarshalable; keep the path total.
		s.log.Error("failed to encode task", zap.String("task_id", qt.ID), zap.Error(err))
		return "{}"
	}
	return string(data)
}

func decodeTask(raw string) (*domain.QueuedTask, error) {
	var qt domain.QueuedTask
	if err := json.Unmarshal([]byte(raw), &qt); err != nil {
		return nil, fmt.Errorf("decode task record: %w", err)
	}
	if qt.SchemaVersion != domain.QueuedTaskSchemaVersion {
		return nil, fmt.Errorf("unknown task schema version %d", qt.SchemaVersion)
	}
	return &qt, nil
}
