package scheduler

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"chatreminder/internal/domain"
)

// Expressions take five or six fields (seconds first when six) or a descriptor
// such as @daily.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseExpression parses expr into a cron schedule.
func ParseExpression(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, domain.Invalid("cron", "expression is required")
	}
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return nil, domain.Invalid("cron", "time zone prefixes are not supported")
	}
	if !strings.HasPrefix(expr, "@") {
		if n := len(strings.Fields(expr)); n != 5 && n != 6 {
			return nil, domain.Invalid("cron", "expected 5 or 6 fields")
		}
	}
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, domain.Invalid("cron", err.Error())
	}
	return s, nil
}

// ValidateCronExpression validates a cron expression
func ValidateCronExpression(expr string) error {
	_, err := ParseExpression(expr)
	return err
}

// NextRunTime calculates the next run time for a cron expression
func NextRunTime(expr string, from time.Time) (time.Time, error) {
	s, err := ParseExpression(expr)
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(from), nil
}

// cronLogger routes robfig/cron's logging into zerolog.
type cronLogger struct {
	l zerolog.Logger
}

func newCronLogger() cronLogger {
	return cronLogger{l: log.With().Str("component", "cron").Logger()}
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
