package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"chatreminder/internal/domain"
)

const sqliteFile = "chatreminder.db"

// tsLayout is fixed width so stored timestamps sort as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  position INTEGER NOT NULL,
  name TEXT NOT NULL,
  message TEXT NOT NULL,
  cron_expr TEXT NOT NULL,
  mobile_numbers TEXT NOT NULL DEFAULT '[]',
  active_days TEXT NOT NULL DEFAULT '[]',
  enabled INTEGER NOT NULL DEFAULT 1,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS dispatch_logs (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  task_name TEXT NOT NULL,
  mobile_list TEXT NOT NULL DEFAULT '[]',
  operation TEXT NOT NULL CHECK(operation IN ('send_success','send_failure','task_added','task_enabled','task_disabled','task_updated','delete_task')),
  message TEXT NOT NULL DEFAULT '',
  details TEXT NOT NULL DEFAULT '{}',
  ts TEXT NOT NULL,
  ts_formatted TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_dispatch_logs_ts ON dispatch_logs(ts DESC, seq DESC);
CREATE INDEX IF NOT EXISTS idx_dispatch_logs_task ON dispatch_logs(task_name);
`
	_, err := db.Exec(schema)
	return err
}

// SQLite holds one database shared by the task and log stores.
type SQLite struct {
	db        *sql.DB
	retention int
	closeOnce sync.Once
	closeErr  error
}

// OpenSQLite opens (or creates) the database in dir.
func OpenSQLite(dir string, retention int) (*SQLite, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?mode=rwc&_pragma=busy_timeout(5000)", filepath.Join(dir, sqliteFile))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &SQLite{db: db, retention: retention}, nil
}

// DB returns the underlying database connection.
func (s *SQLite) DB() *sql.DB { return s.db }

func (s *SQLite) Tasks() TaskStore { return &sqliteTasks{s} }

func (s *SQLite) Logs() LogStore { return &sqliteLogs{s} }

func (s *SQLite) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.db.Close() })
	return s.closeErr
}

type sqliteTasks struct{ *SQLite }

type sqliteLogs struct{ *SQLite }

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *sqliteTasks) List(ctx context.Context) ([]domain.Task, error) {
	return listTasks(ctx, r.db)
}

func listTasks(ctx context.Context, q querier) ([]domain.Task, error) {
	rows, err := q.QueryContext(ctx, `
SELECT id,name,message,cron_expr,mobile_numbers,active_days,enabled,created_at,updated_at
FROM tasks ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		var (
			t                domain.Task
			mobiles, days    string
			created, updated string
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.Message, &t.CronExpression, &mobiles, &days, &t.Enabled, &created, &updated); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(mobiles), &t.MobileNumbers); err != nil {
			return nil, fmt.Errorf("task %s mobile_numbers: %w", t.ID, err)
		}
		if err := json.Unmarshal([]byte(days), &t.ActiveDays); err != nil {
			return nil, fmt.Errorf("task %s active_days: %w", t.ID, err)
		}
		t.CreatedAt, _ = time.Parse(tsLayout, created)
		t.UpdatedAt, _ = time.Parse(tsLayout, updated)
		normalizeTask(&t)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Mutate replaces the whole task table inside one transaction.
func (r *sqliteTasks) Mutate(ctx context.Context, fn func([]domain.Task) ([]domain.Task, error)) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	tasks, err := listTasks(ctx, tx)
	if err != nil {
		return err
	}
	next, err := fn(tasks)
	if err != nil {
		if errors.Is(err, ErrNoChange) {
			err = nil
			return tx.Rollback()
		}
		return err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return err
	}
	for i, t := range next {
		normalizeTask(&t)
		mobiles, _ := json.Marshal(t.MobileNumbers)
		days, _ := json.Marshal(t.ActiveDays)
		_, err = tx.ExecContext(ctx, `
INSERT INTO tasks (id,position,name,message,cron_expr,mobile_numbers,active_days,enabled,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
			t.ID, i, t.Name, t.Message, t.CronExpression, string(mobiles), string(days), t.Enabled,
			t.CreatedAt.UTC().Format(tsLayout), t.UpdatedAt.UTC().Format(tsLayout))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Append inserts e and evicts everything older than the newest retention rows.
func (r *sqliteLogs) Append(ctx context.Context, e domain.LogEntry) (err error) {
	mobiles, err := json.Marshal(nonNil(e.MobileList))
	if err != nil {
		return err
	}
	details := []byte("{}")
	if e.Details != nil {
		if details, err = json.Marshal(e.Details); err != nil {
			return err
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
INSERT INTO dispatch_logs (id,task_name,mobile_list,operation,message,details,ts,ts_formatted)
VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, e.TaskName, string(mobiles), string(e.Operation), e.Message, string(details),
		e.Timestamp.UTC().Format(tsLayout), e.TimestampFormatted)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
DELETE FROM dispatch_logs
WHERE seq <= (SELECT seq FROM dispatch_logs ORDER BY seq DESC LIMIT 1 OFFSET ?)`, r.retention)
	if err != nil {
		return err
	}
	return tx.Commit()
}

const logFilter = `
WHERE (? = '' OR l.operation = ?)
  AND (? = '' OR l.task_name = ? OR EXISTS (
        SELECT 1 FROM json_each(l.mobile_list) j WHERE instr(j.value, ?) > 0))`

func (r *sqliteLogs) Query(ctx context.Context, q domain.LogQuery) (domain.LogPage, error) {
	q = q.Normalize()
	op := string(q.Operation)
	args := []any{op, op, q.Keyword, q.Keyword, q.Keyword}

	page := domain.LogPage{Logs: []domain.LogEntry{}, Limit: q.Limit, Offset: q.Offset}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dispatch_logs l`+logFilter, args...).Scan(&page.Total); err != nil {
		return domain.LogPage{}, err
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT l.id,l.task_name,l.mobile_list,l.operation,l.message,l.details,l.ts,l.ts_formatted
FROM dispatch_logs l`+logFilter+`
ORDER BY l.ts DESC, l.seq DESC LIMIT ? OFFSET ?`, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return domain.LogPage{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e                domain.LogEntry
			mobiles, details string
			op, ts           string
		)
		if err := rows.Scan(&e.ID, &e.TaskName, &mobiles, &op, &e.Message, &details, &ts, &e.TimestampFormatted); err != nil {
			return domain.LogPage{}, err
		}
		e.Operation = domain.Operation(op)
		_ = json.Unmarshal([]byte(mobiles), &e.MobileList)
		_ = json.Unmarshal([]byte(details), &e.Details)
		e.Timestamp, _ = time.Parse(tsLayout, ts)
		page.Logs = append(page.Logs, e)
	}
	return page, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
