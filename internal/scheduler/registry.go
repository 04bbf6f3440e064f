package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"chatreminder/internal/domain"
)

// FireFunc is invoked on every trigger with the task as it was registered.
type FireFunc func(task domain.Task)

// Registry owns the live cron entries, at most one per task id. Nothing else
// holds cron handles.
type Registry struct {
	mu      sync.Mutex
	cron    *cron.Cron
	loc     *time.Location
	entries map[string]cron.EntryID
	fire    FireFunc
}

func NewRegistry(loc *time.Location, fire FireFunc) *Registry {
	if loc == nil {
		loc = time.Local
	}
	cl := newCronLogger()
	return &Registry{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithParser(parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		loc:     loc,
		entries: make(map[string]cron.EntryID),
		fire:    fire,
	}
}

func (r *Registry) Location() *time.Location { return r.loc }

func (r *Registry) Start() {
	r.cron.Start()
	log.Info().Str("tz", r.loc.String()).Int("live", r.Len()).Msg("registry started")
}

// Stop halts the engine and waits for running callbacks or ctx.
func (r *Registry) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	log.Info().Msg("registry stopped")
}

// Register replaces any live entry for task.ID with one for the task's
// current expression. An invalid expression leaves the prior entry in place.
func (r *Registry) Register(task domain.Task) error {
	sched, err := ParseExpression(task.CronExpression)
	if err != nil {
		return err
	}
	snapshot := task.Clone()
	job := cron.FuncJob(func() {
		if r.fire != nil {
			r.fire(snapshot)
		}
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.entries[task.ID]; ok {
		r.cron.Remove(old)
	}
	r.entries[task.ID] = r.cron.Schedule(sched, job)

	log.Info().
		Str("task_id", task.ID).
		Str("task_name", task.Name).
		Str("cron", task.CronExpression).
		Msg("task scheduled")
	return nil
}

// Unregister stops future firings for id. In-flight firings are not cancelled.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return
	}
	r.cron.Remove(entry)
	delete(r.entries, id)
	log.Info().Str("task_id", id).Msg("task unscheduled")
}

func (r *Registry) IsLive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// NextRun returns the engine's next fire time for id, if live and started.
func (r *Registry) NextRun(id string) (time.Time, bool) {
	r.mu.Lock()
	entry, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	e := r.cron.Entry(entry)
	if !e.Valid() || e.Next.IsZero() {
		return time.Time{}, false
	}
	return e.Next, true
}

// Live returns the ids of all live tasks, sorted.
func (r *Registry) Live() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
