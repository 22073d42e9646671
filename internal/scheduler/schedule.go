package scheduler

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned for schedule expressions that cannot be parsed.
var ErrInvalidSchedule = errors.New("scheduler: invalid schedule")

// cronParser accepts standard 5-field cron expressions (minute, hour, dom,
// month, dow) and descriptors such as @hourly and @every 90s.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var everyRe = regexp.MustCompile(`^every\s+(?:(\d+)\s*)?([a-z]+)$`)

var unitSuffix = map[string]string{
	"s": "s", "sec": "s", "secs": "s", "second": "s", "seconds": "s",
	"m": "m", "min": "m", "mins": "m", "minute": "m", "minutes": "m",
	"h": "h", "hr": "h", "hrs": "h", "hour": "h", "hours": "h",
}

// normalizeSchedule rewrites the friendly forms ("every 5 minutes",
// "hourly", "daily") into cron descriptors.
func normalizeSchedule(expr string) (string, error) {
	trimmed := strings.TrimSpace(expr)
	lower := strings.ToLower(trimmed)
	switch lower {
	case "hourly", "daily", "weekly", "monthly":
		return "@" + lower, nil
	}
	m := everyRe.FindStringSubmatch(lower)
	if m == nil {
		return trimmed, nil
	}
	suffix, ok := unitSuffix[m[2]]
	if !ok {
		return "", fmt.Errorf("%w: unknown unit %q in %q", ErrInvalidSchedule, m[2], expr)
	}
	n := 1
	if m[1] != "" {
		v, err := strconv.Atoi(m[1])
		if err != nil || v <= 0 {
			return "", fmt.Errorf("%w: interval in %q must be positive", ErrInvalidSchedule, expr)
		}
		n = v
	}
	return fmt.Sprintf("@every %d%s", n, suffix), nil
}

// ParseSchedule parses a job schedule expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidSchedule)
	}
	normalized, err := normalizeSchedule(expr)
	if err != nil {
		return nil, err
	}
	sched, err := cronParser.Parse(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, expr, err)
	}
	return sched, nil
}

// NextRun returns the first fire time of expr after now.
func NextRun(expr string, now time.Time) (time.Time, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(now), nil
}
