package tasks

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatreminder/internal/audit"
	"chatreminder/internal/domain"
	"chatreminder/internal/scheduler"
	"chatreminder/internal/store"
)

type fixture struct {
	svc      *Service
	registry *scheduler.Registry
	tasks    store.TaskStore
	logs     store.LogStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ts, ls, err := store.OpenFile(t.TempDir(), 0)
	require.NoError(t, err)
	reg := scheduler.NewRegistry(time.UTC, nil)
	rec := audit.NewRecorder(ls, time.UTC)
	return &fixture{svc: NewService(ts, reg, rec), registry: reg, tasks: ts, logs: ls}
}

func (f *fixture) ops(t *testing.T, keyword string) []domain.Operation {
	t.Helper()
	page, err := f.logs.Query(context.Background(), domain.LogQuery{Keyword: keyword})
	require.NoError(t, err)
	var ops []domain.Operation
	for i := len(page.Logs) - 1; i >= 0; i-- {
		ops = append(ops, page.Logs[i].Operation)
	}
	return ops
}

func boolPtr(b bool) *bool { return &b }
func strPtr(s string) *string { return &s }
func daysPtr(d ...int) *[]int { return &d }

func standupInput() domain.TaskInput {
	return domain.TaskInput{
		Name:           "standup",
		Message:        "daily standup",
		CronExpression: "0 9 * * 1-5",
		MobileNumbers:  []string{"13800000000"},
		ActiveDays:     []int{1, 2, 3, 4, 5},
	}
}

func TestCreateAndListRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.svc.Create(ctx, standupInput())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(created.ID, "tsk_"))
	assert.True(t, created.Enabled)
	assert.False(t, created.CreatedAt.IsZero())
	assert.True(t, f.registry.IsLive(created.ID))

	views, err := f.svc.ListByRecipient(ctx, "13800000000")
	require.NoError(t, err)
	require.Len(t, views, 1)
	v := views[0]
	assert.Equal(t, created.ID, v.ID)
	assert.Equal(t, "standup", v.Name)
	assert.Equal(t, "daily standup", v.Message)
	assert.Equal(t, "0 9 * * 1-5", v.CronExpression)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, v.ActiveDays)
	assert.True(t, v.IsActive)
	assert.Equal(t, "on Mon-Fri at 09:00", v.CronDescription)
	assert.Equal(t, 1, v.MobileNumbersCount)
	assert.Equal(t, "Mon, Tue, Wed, Thu, Fri", v.ActiveDaysText)

	other, err := f.svc.ListByRecipient(ctx, "13900000000")
	require.NoError(t, err)
	assert.Empty(t, other)

	assert.Equal(t, []domain.Operation{domain.OpTaskAdded}, f.ops(t, "standup"))
}

func TestCreateStoresFieldsVerbatim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	in := standupInput()
	in.Name = " standup "
	in.Message = "  daily standup\n- agenda\n"

	created, err := f.svc.Create(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, in.Name, created.Name)
	assert.Equal(t, in.Message, created.Message)

	view, err := f.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, in.Name, view.Name)
	assert.Equal(t, in.Message, view.Message)
	assert.Equal(t, in.MobileNumbers, view.MobileNumbers)

	msg := "\tnew agenda\n"
	updated, err := f.svc.Update(ctx, created.ID, domain.TaskPatch{Message: &msg})
	require.NoError(t, err)
	assert.Equal(t, msg, updated.Message)
}

func TestBlankRecipientRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var ve *domain.ValidationError

	in := standupInput()
	in.MobileNumbers = []string{"13800000000", " "}
	_, err := f.svc.Create(ctx, in)
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "mobileNumbers", ve.Field)

	created, err := f.svc.Create(ctx, standupInput())
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, created.ID, domain.TaskPatch{MobileNumbers: &[]string{""}})
	require.True(t, errors.As(err, &ve))

	view, err := f.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"13800000000"}, view.MobileNumbers)
}

func TestViewFormatsCreatedAtInZone(t *testing.T) {
	ctx := context.Background()
	shanghai := time.FixedZone("CST", 8*3600)
	ts, ls, err := store.OpenFile(t.TempDir(), 0)
	require.NoError(t, err)
	svc := NewService(ts, scheduler.NewRegistry(shanghai, nil), audit.NewRecorder(ls, shanghai))
	svc.now = func() time.Time { return time.Date(2024, 3, 4, 1, 30, 0, 0, time.UTC) }

	created, err := svc.Create(ctx, standupInput())
	require.NoError(t, err)
	view, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-04 09:30:00", view.CreatedAtFormatted)
}

func TestCreateDisabledIsNotLive(t *testing.T) {
	f := newFixture(t)
	in := standupInput()
	in.Enabled = boolPtr(false)
	created, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, created.Enabled)
	assert.False(t, f.registry.IsLive(created.ID))
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]func(*domain.TaskInput){
		"missing name":    func(in *domain.TaskInput) { in.Name = " " },
		"missing message": func(in *domain.TaskInput) { in.Message = "" },
		"missing cron":    func(in *domain.TaskInput) { in.CronExpression = "" },
		"bad cron":        func(in *domain.TaskInput) { in.CronExpression = "every morning" },
		"bad weekday":     func(in *domain.TaskInput) { in.ActiveDays = []int{7} },
	}
	for name, mutate := range cases {
		in := standupInput()
		mutate(&in)
		_, err := f.svc.Create(context.Background(), in)
		var ve *domain.ValidationError
		assert.True(t, errors.As(err, &ve), name)
	}
	all, err := f.tasks.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Zero(t, f.registry.Len())
}

func TestToggleEnabled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	created, err := f.svc.Create(ctx, standupInput())
	require.NoError(t, err)

	updated, err := f.svc.Update(ctx, created.ID, domain.TaskPatch{Enabled: boolPtr(false)})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	assert.False(t, f.registry.IsLive(created.ID))
	assert.Equal(t, []domain.Operation{domain.OpTaskAdded, domain.OpTaskDisabled}, f.ops(t, "standup"))

	_, err = f.svc.Update(ctx, created.ID, domain.TaskPatch{Enabled: boolPtr(true)})
	require.NoError(t, err)
	assert.True(t, f.registry.IsLive(created.ID))
	assert.Equal(t,
		[]domain.Operation{domain.OpTaskAdded, domain.OpTaskDisabled, domain.OpTaskEnabled},
		f.ops(t, "standup"))
}

func TestUpdatePartialPatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	created, err := f.svc.Create(ctx, standupInput())
	require.NoError(t, err)

	updated, err := f.svc.Update(ctx, created.ID, domain.TaskPatch{
		CronExpression: strPtr("30 10 * * *"),
		ActiveDays:     daysPtr(),
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.Equal(t, "standup", updated.Name)
	assert.Equal(t, "daily standup", updated.Message)
	assert.Equal(t, []string{"13800000000"}, updated.MobileNumbers)
	assert.Equal(t, "30 10 * * *", updated.CronExpression)
	assert.Empty(t, updated.ActiveDays)
	assert.True(t, f.registry.IsLive(created.ID))
	assert.Equal(t, 1, f.registry.Len())

	view, err := f.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "30 10 * * *", view.CronExpression)
	assert.Equal(t, []domain.Operation{domain.OpTaskAdded, domain.OpTaskUpdated}, f.ops(t, "standup"))
}

func TestUpdateInvalidCronKeepsTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	created, err := f.svc.Create(ctx, standupInput())
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, created.ID, domain.TaskPatch{CronExpression: strPtr("nope")})
	var ve *domain.ValidationError
	require.True(t, errors.As(err, &ve))

	view, err := f.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "0 9 * * 1-5", view.CronExpression)
	assert.True(t, view.IsActive)
}

func TestUpdateAndDeleteUnknown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.Update(ctx, "tsk_missing", domain.TaskPatch{Name: strPtr("x")})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, "tsk_missing"), domain.ErrNotFound)
	_, err = f.svc.Get(ctx, "tsk_missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	created, err := f.svc.Create(ctx, standupInput())
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, created.ID))
	assert.False(t, f.registry.IsLive(created.ID))

	views, err := f.svc.ListByRecipient(ctx, "13800000000")
	require.NoError(t, err)
	assert.Empty(t, views)

	_, err = f.svc.Update(ctx, created.ID, domain.TaskPatch{Enabled: boolPtr(false)})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, created.ID), domain.ErrNotFound)

	// The log survives the task.
	assert.Equal(t, []domain.Operation{domain.OpTaskAdded, domain.OpDeleteTask}, f.ops(t, "13800000000"))
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seed := []domain.Task{
		{ID: "on", Name: "a", Message: "m", CronExpression: "0 9 * * *", Enabled: true},
		{ID: "off", Name: "b", Message: "m", CronExpression: "0 9 * * *", Enabled: false},
		{ID: "broken", Name: "c", Message: "m", CronExpression: "garbage", Enabled: true},
	}
	require.NoError(t, f.tasks.Mutate(ctx, func([]domain.Task) ([]domain.Task, error) { return seed, nil }))

	n, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"on"}, f.registry.Live())
}

type failingStore struct {
	store.TaskStore
	err error
}

func (s failingStore) Mutate(context.Context, func([]domain.Task) ([]domain.Task, error)) error {
	return s.err
}

func TestStoreFailureSkipsRegistry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	created, err := f.svc.Create(ctx, standupInput())
	require.NoError(t, err)

	f.svc.store = failingStore{TaskStore: f.tasks, err: errors.New("read-only file system")}

	_, err = f.svc.Create(ctx, standupInput())
	var pe *domain.PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 1, f.registry.Len())

	_, err = f.svc.Update(ctx, created.ID, domain.TaskPatch{Enabled: boolPtr(false)})
	require.True(t, errors.As(err, &pe))
	assert.True(t, f.registry.IsLive(created.ID))

	err = f.svc.Delete(ctx, created.ID)
	require.True(t, errors.As(err, &pe))
	assert.True(t, f.registry.IsLive(created.ID))

	assert.Equal(t, []domain.Operation{domain.OpTaskAdded}, f.ops(t, "standup"))
}

func TestListRequiresPhoneAndLogsRequireKeyword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var ve *domain.ValidationError

	_, err := f.svc.ListByRecipient(ctx, "")
	assert.True(t, errors.As(err, &ve))

	_, err = f.svc.Logs(ctx, domain.LogQuery{})
	assert.True(t, errors.As(err, &ve))

	_, err = f.svc.Logs(ctx, domain.LogQuery{Keyword: "x", Operation: "bogus"})
	assert.True(t, errors.As(err, &ve))

	page, err := f.svc.Logs(ctx, domain.LogQuery{Keyword: "x"})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
}

// slowUnregister stalls the first Unregister call so overlapping writes
// would interleave their registry changes.
type slowUnregister struct {
	*scheduler.Registry
	stalled atomic.Bool
}

func (s *slowUnregister) Unregister(id string) {
	if s.stalled.CompareAndSwap(false, true) {
		time.Sleep(50 * time.Millisecond)
	}
	s.Registry.Unregister(id)
}

func TestConcurrentTogglesKeepRegistryInStep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	created, err := f.svc.Create(ctx, standupInput())
	require.NoError(t, err)
	f.svc.registry = &slowUnregister{Registry: f.registry}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.svc.Update(ctx, created.ID, domain.TaskPatch{Enabled: boolPtr(false)})
		assert.NoError(t, err)
	}()
	time.Sleep(10 * time.Millisecond)
	go func() {
		defer wg.Done()
		_, err := f.svc.Update(ctx, created.ID, domain.TaskPatch{Enabled: boolPtr(true)})
		assert.NoError(t, err)
	}()
	wg.Wait()

	view, err := f.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, view.Enabled, f.registry.IsLive(created.ID))
	assert.Equal(t, view.Enabled, view.IsActive)
}
