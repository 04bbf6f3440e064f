package scheduler

import (
	"time"

	"chatreminder/internal/domain"
)

// ShouldFire reports whether task may fire at now. An empty ActiveDays list
// allows every day; otherwise the weekday of now in loc must be listed.
func ShouldFire(task domain.Task, now time.Time, loc *time.Location) bool {
	if len(task.ActiveDays) == 0 {
		return true
	}
	if loc != nil {
		now = now.In(loc)
	}
	today := int(now.Weekday())
	for _, d := range task.ActiveDays {
		if d == today {
			return true
		}
	}
	return false
}
