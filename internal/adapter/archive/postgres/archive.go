// Package postgres persists terminal task outcomes. The archive is the
// scheduler's only durable record that a task will never run again.
package postgres

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	storage "github.com/buildnet/build-scheduler/config/storage/postgresql"
	"github.com/buildnet/build-scheduler/internal/core/domain"
	"github.com/buildnet/build-scheduler/internal/core/port"
)

// TaskArchive records terminal outcomes in the task_outcomes table.
type TaskArchive struct {
	db  *storage.DB
	log *zap.Logger
}

var _ port.TaskArchive = (*TaskArchive)(nil)

// NewTaskArchive creates a Postgres-backed task archive.
func NewTaskArchive(db *storage.DB, log *zap.Logger) *TaskArchive {
	return &TaskArchive{
		db:  db,
		log: log,
	}
}

func (a *TaskArchive) RecordOutcome(ctx context.Context, outcome *domain.TaskOutcome) error {
	query, args, err := a.db.QueryBuilder.
		Insert("task_outcomes").
		Columns("task_id", "task_name", "node_id", "status", "retry_count", "duration_ms", "error", "completed_at").
		Values(outcome.TaskID, outcome.TaskName, outcome.NodeID, string(outcome.Status),
			outcome.RetryCount, outcome.DurationMS, outcome.Error, outcome.CompletedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build outcome insert: %w", err)
	}

	if _, err := a.db.Exec(ctx, query, args...); err != nil {
		a.log.Error("failed to insert task outcome", zap.String("task_id", outcome.TaskID), zap.Error(err))
		return fmt.Errorf("insert outcome for %s: %w", outcome.TaskID, err)
	}
	return nil
}

// RecentOutcomes returns the latest archived outcomes, newest first.
func (a *TaskArchive) RecentOutcomes(ctx context.Context, limit int) ([]*domain.TaskOutcome, error) {
	query, args, err := a.db.QueryBuilder.
		Select("task_id", "task_name", "node_id", "status", "retry_count", "duration_ms", "error", "completed_at").
		From("task_outcomes").
		OrderBy("completed_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build outcome select: %w", err)
	}

	rows, err := a.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []*domain.TaskOutcome
	for rows.Next() {
		var o domain.TaskOutcome
		var status string
		if err := rows.Scan(&o.TaskID, &o.TaskName, &o.NodeID, &status,
			&o.RetryCount, &o.DurationMS, &o.Error, &o.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan outcome row: %w", err)
		}
		o.Status = domain.OutcomeStatus(status)
		outcomes = append(outcomes, &o)
	}
	return outcomes, rows.Err()
}
