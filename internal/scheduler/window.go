package scheduler

import (
	"fmt"
	"time"
)

// Window is a time-of-day range in minutes after midnight. End is
// inclusive. A window whose End precedes its Start crosses midnight.
type Window struct {
	Start int
	End   int
}

// ParseWindow parses an HH:MM pair. ok is false when both are empty.
func ParseWindow(start, end string) (w Window, ok bool, err error) {
	if start == "" && end == "" {
		return Window{}, false, nil
	}
	if start == "" || end == "" {
		return Window{}, false, fmt.Errorf("scheduler: window needs both start and end")
	}
	if w.Start, err = parseClock(start); err != nil {
		return Window{}, false, err
	}
	if w.End, err = parseClock(end); err != nil {
		return Window{}, false, err
	}
	return w, true, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("scheduler: window time %q must be HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Contains reports whether the wall-clock time of t falls in the window.
func (w Window) Contains(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	if w.Start <= w.End {
		return m >= w.Start && m <= w.End
	}
	return m >= w.Start || m <= w.End
}

func (w Window) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.Start/60, w.Start%60, w.End/60, w.End%60)
}
