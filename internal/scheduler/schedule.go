package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts the standard five-field cron format:
// minute, hour, day-of-month, month, day-of-week.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Named shorthands accepted in place of a cron pattern.
const (
	EveryMinute     = "every-minute"
	Every5Minutes   = "every-5-minutes"
	Every10Minutes  = "every-10-minutes"
	EveryHour       = "every-hour"
	EveryDay        = "every-day"
	EveryWeek       = "every-week"
	Never           = "never"
	everySecondsFmt = "every-%d-seconds"
)

// shorthandPatterns maps fixed shorthands to their cron equivalent.
var shorthandPatterns = map[string]string{
	EveryMinute:    "* * * * *",
	Every5Minutes:  "*/5 * * * *",
	Every10Minutes: "*/10 * * * *",
	EveryHour:      "0 * * * *",
	EveryDay:       "0 0 * * *",
	EveryWeek:      "0 0 * * 0",
}

var everySecondsPattern = regexp.MustCompile(`^every-(\d+)-seconds?$`)

// EverySeconds returns the shorthand for a fixed delay of n seconds.
func EverySeconds(n int) string {
	return fmt.Sprintf(everySecondsFmt, n)
}

// Schedule is a parsed schedule expression.
//
// A Schedule with Never set has no automatic trigger; the job it belongs to
// only runs through a manual trigger or RunOnStart.
type Schedule struct {
	Expression string
	Never      bool
	timing     cron.Schedule
}

// Next returns the next activation time after t. The zero time is returned
// for schedules that never fire.
func (s Schedule) Next(t time.Time) time.Time {
	if s.Never || s.timing == nil {
		return time.Time{}
	}
	return s.timing.Next(t)
}

// ParseSchedule parses a five-field cron pattern or a named shorthand.
func ParseSchedule(expr string) (Schedule, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return Schedule{}, fmt.Errorf("schedule expression is empty")
	}

	if trimmed == Never {
		return Schedule{Expression: trimmed, Never: true}, nil
	}

	if pattern, ok := shorthandPatterns[trimmed]; ok {
		timing, err := cronParser.Parse(pattern)
		if err != nil {
			return Schedule{}, fmt.Errorf("shorthand %q: %w", trimmed, err)
		}
		return Schedule{Expression: trimmed, timing: timing}, nil
	}

	if m := everySecondsPattern.FindStringSubmatch(trimmed); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			return Schedule{}, fmt.Errorf("shorthand %q: seconds must be a positive integer", trimmed)
		}
		return Schedule{Expression: trimmed, timing: cron.Every(time.Duration(n) * time.Second)}, nil
	}

	if len(strings.Fields(trimmed)) != 5 {
		return Schedule{}, fmt.Errorf("invalid schedule %q: expected 5 cron fields or a shorthand", trimmed)
	}
	timing, err := cronParser.Parse(trimmed)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid cron expression %q: %w", trimmed, err)
	}
	return Schedule{Expression: trimmed, timing: timing}, nil
}
