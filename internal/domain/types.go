package domain

import "time"

// Task is a recurring reminder definition.
type Task struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Message        string    `json:"message"`
	CronExpression string    `json:"cron"`
	MobileNumbers  []string  `json:"mobileNumbers"`
	ActiveDays     []int     `json:"activeDays"`
	Enabled        bool      `json:"enabled"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Clone returns a copy that shares no slices with t.
func (t Task) Clone() Task {
	c := t
	c.MobileNumbers = append([]string{}, t.MobileNumbers...)
	c.ActiveDays = append([]int{}, t.ActiveDays...)
	return c
}

type TaskInput struct {
	Name           string   `json:"name"`
	Message        string   `json:"message"`
	CronExpression string   `json:"cron"`
	MobileNumbers  []string `json:"mobileNumbers"`
	ActiveDays     []int    `json:"activeDays"`
	Enabled        *bool    `json:"enabled"`
}

// TaskPatch is a partial update; nil fields are left as they are.
type TaskPatch struct {
	Name           *string   `json:"name"`
	Message        *string   `json:"message"`
	CronExpression *string   `json:"cron"`
	MobileNumbers  *[]string `json:"mobileNumbers"`
	ActiveDays     *[]int    `json:"activeDays"`
	Enabled        *bool     `json:"enabled"`
}

type Operation string

const (
	OpSendSuccess  Operation = "send_success"
	OpSendFailure  Operation = "send_failure"
	OpTaskAdded    Operation = "task_added"
	OpTaskEnabled  Operation = "task_enabled"
	OpTaskDisabled Operation = "task_disabled"
	OpTaskUpdated  Operation = "task_updated"
	OpDeleteTask   Operation = "delete_task"
)

func (o Operation) Valid() bool {
	switch o {
	case OpSendSuccess, OpSendFailure, OpTaskAdded, OpTaskEnabled, OpTaskDisabled, OpTaskUpdated, OpDeleteTask:
		return true
	}
	return false
}

// LogEntry is one immutable audit record. TaskName and MobileList are copied
// from the task when the entry is written so they survive task deletion.
type LogEntry struct {
	ID                 string         `json:"id"`
	TaskName           string         `json:"taskName"`
	MobileList         []string       `json:"mobileList"`
	Operation          Operation      `json:"operation"`
	Message            string         `json:"message"`
	Details            map[string]any `json:"details"`
	Timestamp          time.Time      `json:"timestamp"`
	TimestampFormatted string         `json:"timestampFormatted"`
}

type LogQuery struct {
	Keyword   string
	Operation Operation
	Limit     int
	Offset    int
}

type LogPage struct {
	Logs   []LogEntry `json:"logs"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// FormattedLayout renders timestamps for display in the configured zone.
const FormattedLayout = "2006-01-02 15:04:05"

const (
	DefaultLogLimit = 100
	MaxLogLimit     = 1000
)

// Normalize clamps limit and offset into their accepted ranges.
func (q LogQuery) Normalize() LogQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultLogLimit
	}
	if q.Limit > MaxLogLimit {
		q.Limit = MaxLogLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
