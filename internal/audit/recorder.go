// Package audit writes the dispatch and task lifecycle log.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"chatreminder/internal/domain"
	"chatreminder/internal/store"
	"chatreminder/internal/webhook"
)

type Recorder struct {
	logs store.LogStore
	loc  *time.Location
	now  func() time.Time
}

func NewRecorder(logs store.LogStore, loc *time.Location) *Recorder {
	if loc == nil {
		loc = time.Local
	}
	return &Recorder{logs: logs, loc: loc, now: time.Now}
}

// Record appends one entry built from a snapshot of task.
func (r *Recorder) Record(ctx context.Context, task domain.Task, op domain.Operation, message string, details map[string]any) error {
	now := r.now()
	entry := domain.LogEntry{
		ID:                 "log_" + uuid.NewString(),
		TaskName:           task.Name,
		MobileList:         append([]string{}, task.MobileNumbers...),
		Operation:          op,
		Message:            message,
		Details:            details,
		Timestamp:          now.UTC(),
		TimestampFormatted: now.In(r.loc).Format(domain.FormattedLayout),
	}
	if entry.Details == nil {
		entry.Details = map[string]any{}
	}
	if err := r.logs.Append(ctx, entry); err != nil {
		log.Error().Err(err).
			Str("task_id", task.ID).
			Str("operation", string(op)).
			Msg("append log entry")
		return &domain.PersistenceError{Op: "append log", Err: err}
	}
	return nil
}

// Dispatched records the outcome of one firing.
func (r *Recorder) Dispatched(ctx context.Context, task domain.Task, out webhook.Outcome) error {
	if out.OK {
		return r.Record(ctx, task, domain.OpSendSuccess, task.Message, map[string]any{
			"taskId":   task.ID,
			"response": out.Response,
		})
	}
	return r.Record(ctx, task, domain.OpSendFailure, task.Message, map[string]any{
		"taskId": task.ID,
		"error":  out.Error,
	})
}

// Lifecycle records a task transition such as task_added or delete_task.
func (r *Recorder) Lifecycle(ctx context.Context, task domain.Task, op domain.Operation) error {
	return r.Record(ctx, task, op, task.Message, map[string]any{
		"taskId": task.ID,
		"cron":   task.CronExpression,
	})
}

func (r *Recorder) Query(ctx context.Context, q domain.LogQuery) (domain.LogPage, error) {
	page, err := r.logs.Query(ctx, q)
	if err != nil {
		return domain.LogPage{}, &domain.PersistenceError{Op: "query logs", Err: err}
	}
	return page, nil
}
