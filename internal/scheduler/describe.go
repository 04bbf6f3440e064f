package scheduler

import (
	"fmt"
	"strconv"
	"strings"
)

var (
	weekdayNames = []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}
	monthNames   = []string{"", "Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}
)

var descriptors = map[string]string{
	"@yearly":   "every year on Jan 1 at 00:00",
	"@annually": "every year on Jan 1 at 00:00",
	"@monthly":  "every month on day 1 at 00:00",
	"@weekly":   "every Sunday at 00:00",
	"@daily":    "every day at 00:00",
	"@midnight": "every day at 00:00",
	"@hourly":   "every hour",
}

// Describe renders a cron expression as short English text for display. It
// returns "unrecognized expression" when expr cannot be parsed.
func Describe(expr string) string {
	expr = strings.TrimSpace(expr)
	if ValidateCronExpression(expr) != nil {
		return "unrecognized expression"
	}
	if strings.HasPrefix(expr, "@every ") {
		return "every " + strings.TrimSpace(strings.TrimPrefix(expr, "@every "))
	}
	if d, ok := descriptors[expr]; ok {
		return d
	}

	f := strings.Fields(expr)
	if len(f) == 5 {
		f = append([]string{"0"}, f...)
	}
	sec, minute, hour, dom, mon, dow := f[0], f[1], f[2], f[3], f[4], f[5]

	var parts []string
	if mon != "*" && mon != "?" {
		parts = append(parts, "in "+listField(mon, monthNames, "every %s months"))
	}
	if dom != "*" && dom != "?" {
		parts = append(parts, "on day "+listField(dom, nil, "every %s days"))
	}
	if dow != "*" && dow != "?" {
		parts = append(parts, "on "+listField(dow, weekdayNames, "every %s weeks"))
	}

	clock := describeClock(sec, minute, hour)
	if len(parts) == 0 {
		if strings.HasPrefix(clock, "at ") {
			return "every day " + clock
		}
		return clock
	}
	return strings.Join(parts, ", ") + " " + clock
}

func describeClock(sec, minute, hour string) string {
	h, herr := strconv.Atoi(hour)
	m, merr := strconv.Atoi(minute)
	if herr == nil && merr == nil {
		if s, err := strconv.Atoi(sec); err == nil && s != 0 {
			return fmt.Sprintf("at %02d:%02d:%02d", h, m, s)
		}
		return fmt.Sprintf("at %02d:%02d", h, m)
	}

	var out []string
	switch {
	case strings.HasPrefix(sec, "*/"):
		out = append(out, "every "+strings.TrimPrefix(sec, "*/")+" seconds")
	case sec == "*":
		out = append(out, "every second")
	}
	switch {
	case strings.HasPrefix(minute, "*/"):
		out = append(out, "every "+strings.TrimPrefix(minute, "*/")+" minutes")
	case minute == "*":
		if len(out) == 0 {
			out = append(out, "every minute")
		}
	default:
		out = append(out, "at minute "+listField(minute, nil, "every %s minutes"))
	}
	switch {
	case strings.HasPrefix(hour, "*/"):
		out = append(out, "every "+strings.TrimPrefix(hour, "*/")+" hours")
	case hour == "*":
	default:
		out = append(out, "during hour "+listField(hour, nil, "every %s hours"))
	}
	return strings.Join(out, " ")
}

// listField renders lists, ranges and steps, mapping numbers through names
// when given.
func listField(field string, names []string, stepFormat string) string {
	if strings.HasPrefix(field, "*/") {
		return fmt.Sprintf(stepFormat, strings.TrimPrefix(field, "*/"))
	}
	name := func(v string) string {
		n, err := strconv.Atoi(v)
		if err != nil || names == nil || n < 0 || n >= len(names) || names[n] == "" {
			return v
		}
		return names[n]
	}
	items := strings.Split(field, ",")
	for i, it := range items {
		if lo, hi, ok := strings.Cut(it, "-"); ok {
			items[i] = name(lo) + "-" + name(hi)
			continue
		}
		items[i] = name(it)
	}
	return strings.Join(items, ", ")
}

// FormatActiveDays renders an active-days list for display, in weekday
// order with duplicates collapsed.
func FormatActiveDays(days []int) string {
	var seen [7]bool
	for _, d := range days {
		if d >= 0 && d < 7 {
			seen[d] = true
		}
	}
	names := make([]string, 0, 7)
	for d, ok := range seen {
		if ok {
			names = append(names, weekdayNames[d])
		}
	}
	if len(names) == 0 || len(names) == 7 {
		return "every day"
	}
	return strings.Join(names, ", ")
}
