// Package store persists tasks and the dispatch log.
//
// Both stores expose whole-collection semantics: TaskStore.Mutate loads every
// task, hands the slice to a callback and saves what the callback returns, all
// under one lock or transaction so concurrent writers never lose updates.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"chatreminder/internal/domain"
)

// DefaultRetention is the number of log entries kept.
const DefaultRetention = 10000

// ErrNoChange may be returned from a Mutate callback to skip the save.
var ErrNoChange = errors.New("no change")

type TaskStore interface {
	List(ctx context.Context) ([]domain.Task, error)
	Mutate(ctx context.Context, fn func(tasks []domain.Task) ([]domain.Task, error)) error
	Close() error
}

type LogStore interface {
	Append(ctx context.Context, e domain.LogEntry) error
	Query(ctx context.Context, q domain.LogQuery) (domain.LogPage, error)
	Close() error
}

type Config struct {
	Driver    string // "file" or "sqlite"
	Dir       string
	Retention int
}

// Open returns the task and log stores for cfg.Driver.
func Open(cfg Config) (TaskStore, LogStore, error) {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		return OpenFile(cfg.Dir, cfg.Retention)
	case "sqlite":
		s, err := OpenSQLite(cfg.Dir, cfg.Retention)
		if err != nil {
			return nil, nil, err
		}
		return s.Tasks(), s.Logs(), nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// trimToCap drops the oldest entries so at most limit remain.
func trimToCap(entries []domain.LogEntry, limit int) []domain.LogEntry {
	if limit <= 0 || len(entries) <= limit {
		return entries
	}
	return append([]domain.LogEntry(nil), entries[len(entries)-limit:]...)
}

// Matches reports whether e satisfies the keyword and operation filters of q.
func Matches(e domain.LogEntry, q domain.LogQuery) bool {
	if q.Operation != "" && e.Operation != q.Operation {
		return false
	}
	if q.Keyword == "" {
		return true
	}
	if e.TaskName == q.Keyword {
		return true
	}
	for _, m := range e.MobileList {
		if strings.Contains(m, q.Keyword) {
			return true
		}
	}
	return false
}

// filterPage applies q to entries held oldest first.
func filterPage(entries []domain.LogEntry, q domain.LogQuery) domain.LogPage {
	q = q.Normalize()
	var hits []domain.LogEntry
	for i := len(entries) - 1; i >= 0; i-- {
		if Matches(entries[i], q) {
			hits = append(hits, entries[i])
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Timestamp.After(hits[j].Timestamp)
	})
	page := domain.LogPage{Logs: []domain.LogEntry{}, Total: len(hits), Limit: q.Limit, Offset: q.Offset}
	if q.Offset >= len(hits) {
		return page
	}
	end := q.Offset + q.Limit
	if end > len(hits) {
		end = len(hits)
	}
	page.Logs = hits[q.Offset:end]
	return page
}

func normalizeTask(t *domain.Task) {
	if t.MobileNumbers == nil {
		t.MobileNumbers = []string{}
	}
	if t.ActiveDays == nil {
		t.ActiveDays = []int{}
	}
}
