package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"chatreminder/internal/domain"
	"chatreminder/internal/webhook"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, message string, recipients []string) webhook.Outcome
}

type Recorder interface {
	Dispatched(ctx context.Context, task domain.Task, out webhook.Outcome) error
}

// State is where a single firing ended.
type State string

const (
	StateSuppressed State = "suppressed"
	StateRecorded   State = "recorded"
)

// Pipeline runs one firing: gate, dispatch, record. It never retries.
type Pipeline struct {
	dispatcher Dispatcher
	recorder   Recorder
	loc        *time.Location
	now        func() time.Time
}

func NewPipeline(d Dispatcher, rec Recorder, loc *time.Location) *Pipeline {
	if loc == nil {
		loc = time.Local
	}
	return &Pipeline{dispatcher: d, recorder: rec, loc: loc, now: time.Now}
}

// WithClock overrides the wall clock used by the gate.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

func (p *Pipeline) Fire(ctx context.Context, task domain.Task) State {
	now := p.now().In(p.loc)
	if !ShouldFire(task, now, p.loc) {
		log.Debug().
			Str("task_id", task.ID).
			Str("weekday", now.Weekday().String()).
			Msg("firing suppressed by active days")
		return StateSuppressed
	}

	out := p.dispatcher.Dispatch(ctx, task.Message, task.MobileNumbers)
	if out.OK {
		log.Info().Str("task_id", task.ID).Str("task_name", task.Name).Msg("reminder sent")
	} else {
		log.Warn().Str("task_id", task.ID).Str("task_name", task.Name).Str("cause", out.Error).Msg("reminder failed")
	}

	if err := p.recorder.Dispatched(ctx, task, out); err != nil {
		log.Error().Err(err).Str("task_id", task.ID).Msg("record dispatch outcome")
	}
	return StateRecorded
}
