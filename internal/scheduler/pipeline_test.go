package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatreminder/internal/domain"
	"chatreminder/internal/webhook"
)

type stubDispatcher struct {
	out   webhook.Outcome
	calls int
	msg   string
	to    []string
}

func (d *stubDispatcher) Dispatch(ctx context.Context, message string, recipients []string) webhook.Outcome {
	d.calls++
	d.msg = message
	d.to = recipients
	return d.out
}

type stubRecorder struct {
	outcomes []webhook.Outcome
	err      error
}

func (r *stubRecorder) Dispatched(ctx context.Context, task domain.Task, out webhook.Outcome) error {
	r.outcomes = append(r.outcomes, out)
	return r.err
}

func standup() domain.Task {
	return domain.Task{
		ID:             "tsk_standup",
		Name:           "standup",
		Message:        "daily standup",
		CronExpression: "0 9 * * 1-5",
		MobileNumbers:  []string{"13800000000"},
		ActiveDays:     []int{1, 2, 3, 4, 5},
		Enabled:        true,
	}
}

func clockAt(ts time.Time) func() time.Time { return func() time.Time { return ts } }

func TestPipelineSuppressedOnInactiveDay(t *testing.T) {
	t.Parallel()
	d := &stubDispatcher{out: webhook.Outcome{OK: true}}
	rec := &stubRecorder{}
	saturday := time.Date(2026, 10, 24, 9, 0, 0, 0, time.UTC)
	p := NewPipeline(d, rec, time.UTC).WithClock(clockAt(saturday))

	assert.Equal(t, StateSuppressed, p.Fire(context.Background(), standup()))
	assert.Zero(t, d.calls)
	assert.Empty(t, rec.outcomes)
}

func TestPipelineDispatchesAndRecords(t *testing.T) {
	t.Parallel()
	d := &stubDispatcher{out: webhook.Outcome{OK: true, Response: map[string]any{"errcode": float64(0)}}}
	rec := &stubRecorder{}
	wednesday := time.Date(2026, 10, 21, 9, 0, 0, 0, time.UTC)
	p := NewPipeline(d, rec, time.UTC).WithClock(clockAt(wednesday))

	assert.Equal(t, StateRecorded, p.Fire(context.Background(), standup()))
	assert.Equal(t, 1, d.calls)
	assert.Equal(t, "daily standup", d.msg)
	assert.Equal(t, []string{"13800000000"}, d.to)
	require.Len(t, rec.outcomes, 1)
	assert.True(t, rec.outcomes[0].OK)
}

func TestPipelineRecordsFailureWithoutRetry(t *testing.T) {
	t.Parallel()
	d := &stubDispatcher{out: webhook.Outcome{Error: "invalid key"}}
	rec := &stubRecorder{err: errors.New("disk full")}
	wednesday := time.Date(2026, 10, 21, 9, 0, 0, 0, time.UTC)
	p := NewPipeline(d, rec, time.UTC).WithClock(clockAt(wednesday))

	assert.Equal(t, StateRecorded, p.Fire(context.Background(), standup()))
	assert.Equal(t, 1, d.calls)
	require.Len(t, rec.outcomes, 1)
	assert.Equal(t, "invalid key", rec.outcomes[0].Error)
}
