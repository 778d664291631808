// Package schedule derives cron expressions from recurrence descriptions,
// computes next-run instants, and drives the tick loop that fires due
// schedules.
//
// The cron grammar here is deliberately limited: five space-separated
// fields, each either "*" or a single integer. Ranges, lists and steps are
// not supported and must not be added; the schedule-editing UI depends on
// the simple grammar.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mqxerror/qa-guardian/dast/model"
)

// nightlyExpr is 02:00 every day, the fallback for unknown frequencies.
const nightlyExpr = "0 2 * * *"

// BuildCron converts a frequency plus timing fields into a five-field cron
// expression (minute, hour, day-of-month, month, day-of-week).
func BuildCron(freq model.Frequency, hour, minute, dayOfWeek, dayOfMonth int) string {
	switch freq {
	case model.FrequencyHourly:
		return fmt.Sprintf("%d * * * *", minute)
	case model.FrequencyDaily:
		return fmt.Sprintf("%d %d * * *", minute, hour)
	case model.FrequencyNightly:
		return nightlyExpr
	case model.FrequencyWeekly:
		return fmt.Sprintf("%d %d * * %d", minute, hour, dayOfWeek)
	case model.FrequencyMonthly:
		return fmt.Sprintf("%d %d %d * *", minute, hour, dayOfMonth)
	default:
		return nightlyExpr
	}
}

// cronField is one parsed field: either a wildcard or a single value.
type cronField struct {
	explicit bool
	value    int
}

func parseField(s string) (cronField, error) {
	if s == "*" {
		return cronField{}, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return cronField{}, fmt.Errorf("unsupported cron field %q: %w", s, err)
	}
	return cronField{explicit: true, value: v}, nil
}

// ValidateCron rejects expressions outside the supported grammar. Used at
// schedule create/update time so malformed input never reaches the runner.
func ValidateCron(expr string) error {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return fmt.Errorf("cron expression %q must have exactly 5 fields", expr)
	}
	for _, f := range fields {
		if _, err := parseField(f); err != nil {
			return err
		}
	}
	return nil
}

// NextRun computes the next instant the expression fires after now, in the
// given timezone. It returns nil when the expression cannot be evaluated
// (wrong field count or an unsupported field); callers treat nil as "no
// next run", not as an error.
//
// The rollover rules apply in a fixed order: minute, hour, day-of-week,
// day-of-month. The daily/hourly rollover is suppressed whenever
// day-of-week or day-of-month is constrained, because the more specific
// recurrence must win.
func NextRun(expr, timezone string, now time.Time) *time.Time {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil
	}

	parsed := make([]cronField, 5)
	for i, f := range fields {
		cf, err := parseField(f)
		if err != nil {
			return nil
		}
		parsed[i] = cf
	}
	minute, hour, dom, dow := parsed[0], parsed[1], parsed[2], parsed[4]

	loc, err := time.LoadLocation(timezone)
	if err != nil || timezone == "" {
		loc = time.UTC
	}
	t := now.In(loc)

	if minute.explicit {
		t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), minute.value, 0, 0, loc)
	}

	if hour.explicit {
		t = time.Date(t.Year(), t.Month(), t.Day(), hour.value, t.Minute(), 0, 0, loc)
		if minute.explicit && !t.After(now) && !dom.explicit && !dow.explicit {
			t = t.AddDate(0, 0, 1) // daily rollover
		}
	} else if minute.explicit && !t.After(now) {
		t = t.Add(time.Hour) // hourly rollover
	}

	if dow.explicit {
		delta := (dow.value - int(t.Weekday()) + 7) % 7
		if delta == 0 && !t.After(now) {
			delta = 7
		}
		t = t.AddDate(0, 0, delta)
	}

	if dom.explicit {
		t = time.Date(t.Year(), t.Month(), dom.value, t.Hour(), t.Minute(), 0, 0, loc)
		if !t.After(now) {
			t = t.AddDate(0, 1, 0)
		}
	}

	return &t
}
