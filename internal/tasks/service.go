// Package tasks keeps the persisted task collection and the live schedule
// registry in agreement. Every write goes to the store first; the registry is
// only touched once the store write has succeeded.
package tasks

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"chatreminder/internal/domain"
	"chatreminder/internal/scheduler"
	"chatreminder/internal/store"
)

type Scheduler interface {
	Register(task domain.Task) error
	Unregister(id string)
	IsLive(id string) bool
	NextRun(id string) (time.Time, bool)
	Location() *time.Location
}

type Recorder interface {
	Lifecycle(ctx context.Context, task domain.Task, op domain.Operation) error
	Query(ctx context.Context, q domain.LogQuery) (domain.LogPage, error)
}

// TaskView is a task enriched for display.
type TaskView struct {
	domain.Task
	IsActive           bool       `json:"isActive"`
	CronDescription    string     `json:"cronDescription"`
	MobileNumbersCount int        `json:"mobileNumbersCount"`
	ActiveDaysText     string     `json:"activeDaysText"`
	CreatedAtFormatted string     `json:"createdAtFormatted"`
	NextRunAt          *time.Time `json:"nextRunAt,omitempty"`
}

// Service serializes writes so the store and the registry change together.
type Service struct {
	mu       sync.Mutex
	store    store.TaskStore
	registry Scheduler
	recorder Recorder
	now      func() time.Time
}

func NewService(ts store.TaskStore, registry Scheduler, rec Recorder) *Service {
	return &Service{store: ts, registry: registry, recorder: rec, now: time.Now}
}

// Reconcile registers every enabled persisted task. A task whose expression no
// longer parses is logged and skipped.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.store.List(ctx)
	if err != nil {
		return 0, &domain.PersistenceError{Op: "load tasks", Err: err}
	}
	scheduled := 0
	for _, t := range tasks {
		if !t.Enabled {
			continue
		}
		if err := s.registry.Register(t); err != nil {
			log.Error().Err(err).Str("task_id", t.ID).Str("cron", t.CronExpression).Msg("skip task with invalid schedule")
			continue
		}
		scheduled++
	}
	log.Info().Int("tasks", len(tasks)).Int("scheduled", scheduled).Msg("tasks reconciled")
	return scheduled, nil
}

func (s *Service) Create(ctx context.Context, in domain.TaskInput) (domain.Task, error) {
	switch {
	case blank(in.Name):
		return domain.Task{}, domain.Invalid("name", "is required")
	case blank(in.Message):
		return domain.Task{}, domain.Invalid("message", "is required")
	case blank(in.CronExpression):
		return domain.Task{}, domain.Invalid("cron", "is required")
	}
	if err := scheduler.ValidateCronExpression(in.CronExpression); err != nil {
		return domain.Task{}, err
	}
	if err := validateDays(in.ActiveDays); err != nil {
		return domain.Task{}, err
	}
	if err := validateMobiles(in.MobileNumbers); err != nil {
		return domain.Task{}, err
	}

	now := s.now().UTC()
	task := domain.Task{
		ID:             "tsk_" + uuid.NewString(),
		Name:           in.Name,
		Message:        in.Message,
		CronExpression: in.CronExpression,
		MobileNumbers:  append([]string{}, in.MobileNumbers...),
		ActiveDays:     append([]int{}, in.ActiveDays...),
		Enabled:        in.Enabled == nil || *in.Enabled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.store.Mutate(ctx, func(tasks []domain.Task) ([]domain.Task, error) {
		return append(tasks, task), nil
	})
	if err != nil {
		return domain.Task{}, &domain.PersistenceError{Op: "save tasks", Err: err}
	}

	if task.Enabled {
		if err := s.registry.Register(task); err != nil {
			log.Error().Err(err).Str("task_id", task.ID).Msg("register new task")
		}
	}
	_ = s.recorder.Lifecycle(ctx, task, domain.OpTaskAdded)
	return task, nil
}

// Update merges patch into the stored task. The registry entry is always
// dropped and reinstalled if the task is still enabled.
func (s *Service) Update(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	if err := validatePatch(patch); err != nil {
		return domain.Task{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var before, after domain.Task
	err := s.store.Mutate(ctx, func(tasks []domain.Task) ([]domain.Task, error) {
		i := indexOf(tasks, id)
		if i < 0 {
			return nil, domain.NotFound(id)
		}
		before = tasks[i].Clone()
		after = applyPatch(tasks[i].Clone(), patch)
		after.UpdatedAt = s.now().UTC()
		tasks[i] = after
		return tasks, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Task{}, err
		}
		return domain.Task{}, &domain.PersistenceError{Op: "save tasks", Err: err}
	}

	switch {
	case before.Enabled != after.Enabled && after.Enabled:
		_ = s.recorder.Lifecycle(ctx, after, domain.OpTaskEnabled)
	case before.Enabled != after.Enabled:
		_ = s.recorder.Lifecycle(ctx, after, domain.OpTaskDisabled)
	case changed(before, after):
		_ = s.recorder.Lifecycle(ctx, after, domain.OpTaskUpdated)
	}

	s.registry.Unregister(id)
	if after.Enabled {
		if err := s.registry.Register(after); err != nil {
			log.Error().Err(err).Str("task_id", id).Msg("re-register task")
		}
	}
	return after, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed domain.Task
	err := s.store.Mutate(ctx, func(tasks []domain.Task) ([]domain.Task, error) {
		i := indexOf(tasks, id)
		if i < 0 {
			return nil, domain.NotFound(id)
		}
		removed = tasks[i]
		return append(tasks[:i], tasks[i+1:]...), nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return &domain.PersistenceError{Op: "save tasks", Err: err}
	}

	s.registry.Unregister(id)
	_ = s.recorder.Lifecycle(ctx, removed, domain.OpDeleteTask)
	return nil
}

// ListByRecipient returns the tasks that mention phone.
func (s *Service) ListByRecipient(ctx context.Context, phone string) ([]TaskView, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, domain.Invalid("phone", "is required")
	}
	tasks, err := s.store.List(ctx)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load tasks", Err: err}
	}
	views := []TaskView{}
	for _, t := range tasks {
		for _, m := range t.MobileNumbers {
			if m == phone {
				views = append(views, s.view(t))
				break
			}
		}
	}
	return views, nil
}

func (s *Service) Get(ctx context.Context, id string) (TaskView, error) {
	tasks, err := s.store.List(ctx)
	if err != nil {
		return TaskView{}, &domain.PersistenceError{Op: "load tasks", Err: err}
	}
	i := indexOf(tasks, id)
	if i < 0 {
		return TaskView{}, domain.NotFound(id)
	}
	return s.view(tasks[i]), nil
}

// Logs returns one page of the audit log, newest first.
func (s *Service) Logs(ctx context.Context, q domain.LogQuery) (domain.LogPage, error) {
	q.Keyword = strings.TrimSpace(q.Keyword)
	if q.Keyword == "" {
		return domain.LogPage{}, domain.Invalid("keyword", "phone number or task name is required")
	}
	if q.Operation != "" && !q.Operation.Valid() {
		return domain.LogPage{}, domain.Invalid("operation", "unknown operation "+string(q.Operation))
	}
	return s.recorder.Query(ctx, q)
}

func (s *Service) view(t domain.Task) TaskView {
	v := TaskView{
		Task:               t,
		IsActive:           s.registry.IsLive(t.ID),
		CronDescription:    scheduler.Describe(t.CronExpression),
		MobileNumbersCount: len(t.MobileNumbers),
		ActiveDaysText:     scheduler.FormatActiveDays(t.ActiveDays),
		CreatedAtFormatted: t.CreatedAt.In(s.registry.Location()).Format(domain.FormattedLayout),
	}
	if next, ok := s.registry.NextRun(t.ID); ok {
		v.NextRunAt = &next
	}
	return v
}

func indexOf(tasks []domain.Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func validateDays(days []int) error {
	for _, d := range days {
		if d < 0 || d > 6 {
			return domain.Invalid("activeDays", "weekday must be between 0 (Sunday) and 6 (Saturday)")
		}
	}
	return nil
}

func validatePatch(p domain.TaskPatch) error {
	if p.Name != nil && blank(*p.Name) {
		return domain.Invalid("name", "must not be blank")
	}
	if p.Message != nil && blank(*p.Message) {
		return domain.Invalid("message", "must not be blank")
	}
	if p.CronExpression != nil {
		if err := scheduler.ValidateCronExpression(*p.CronExpression); err != nil {
			return err
		}
	}
	if p.MobileNumbers != nil {
		if err := validateMobiles(*p.MobileNumbers); err != nil {
			return err
		}
	}
	if p.ActiveDays != nil {
		return validateDays(*p.ActiveDays)
	}
	return nil
}

func applyPatch(t domain.Task, p domain.TaskPatch) domain.Task {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Message != nil {
		t.Message = *p.Message
	}
	if p.CronExpression != nil {
		t.CronExpression = *p.CronExpression
	}
	if p.MobileNumbers != nil {
		t.MobileNumbers = append([]string{}, (*p.MobileNumbers)...)
	}
	if p.ActiveDays != nil {
		t.ActiveDays = append([]int{}, (*p.ActiveDays)...)
	}
	if p.Enabled != nil {
		t.Enabled = *p.Enabled
	}
	return t
}

func changed(a, b domain.Task) bool {
	return a.Name != b.Name ||
		a.Message != b.Message ||
		a.CronExpression != b.CronExpression ||
		!slices.Equal(a.MobileNumbers, b.MobileNumbers) ||
		!slices.Equal(a.ActiveDays, b.ActiveDays)
}

func validateMobiles(mobiles []string) error {
	for _, m := range mobiles {
		if blank(m) {
			return domain.Invalid("mobileNumbers", "must not contain blank entries")
		}
	}
	return nil
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }
