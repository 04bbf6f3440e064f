package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"chatreminder/internal/domain"
)

// Files under the data directory:
//   - tasks.json (array of tasks)
//   - logs.json  (array of log entries, oldest first)
//
// Every write replaces the whole file through a temp file and rename.
const (
	tasksFile = "tasks.json"
	logsFile  = "logs.json"
)

type fileTasks struct {
	mu   sync.Mutex
	path string
}

type fileLogs struct {
	mu        sync.Mutex
	path      string
	retention int
}

// OpenFile opens the JSON file stores under dir, creating dir if needed.
func OpenFile(dir string, retention int) (TaskStore, LogStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &fileTasks{path: filepath.Join(dir, tasksFile)},
		&fileLogs{path: filepath.Join(dir, logsFile), retention: retention},
		nil
}

func (s *fileTasks) Close() error { return nil }

func (s *fileTasks) List(_ context.Context) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *fileTasks) Mutate(_ context.Context, fn func([]domain.Task) ([]domain.Task, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, err := s.loadLocked()
	if err != nil {
		return err
	}
	next, err := fn(tasks)
	if err != nil {
		if errors.Is(err, ErrNoChange) {
			return nil
		}
		return err
	}
	if next == nil {
		next = []domain.Task{}
	}
	return writeJSON(s.path, next)
}

func (s *fileTasks) loadLocked() ([]domain.Task, error) {
	var tasks []domain.Task
	if err := readJSON(s.path, &tasks); err != nil {
		return nil, err
	}
	for i := range tasks {
		normalizeTask(&tasks[i])
	}
	return tasks, nil
}

func (s *fileLogs) Close() error { return nil }

func (s *fileLogs) Append(_ context.Context, e domain.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []domain.LogEntry
	if err := readJSON(s.path, &entries); err != nil {
		return err
	}
	entries = trimToCap(append(entries, e), s.retention)
	return writeJSON(s.path, entries)
}

func (s *fileLogs) Query(_ context.Context, q domain.LogQuery) (domain.LogPage, error) {
	s.mu.Lock()
	var entries []domain.LogEntry
	err := readJSON(s.path, &entries)
	s.mu.Unlock()
	if err != nil {
		return domain.LogPage{}, err
	}
	return filterPage(entries, q), nil
}

// readJSON decodes path into v. A missing file leaves v untouched.
func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
