// Package notify sends job failure and recovery events to chat platforms.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Color constants for event severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// Event kinds.
const (
	KindFailed    = "failed"
	KindTimedOut  = "timed_out"
	KindRecovered = "recovered"
	KindReset     = "reset"
)

// Event describes a job outcome worth telling a human about.
type Event struct {
	Kind     string
	JobID    uint
	JobName  string
	Table    string
	Message  string
	Error    string
	Duration time.Duration
	At       time.Time
}

// Field is one key/value pair shown alongside an event.
type Field struct {
	Name  string
	Value string
	Short bool
}

// FormattedEvent is the platform-neutral rendering of an Event.
type FormattedEvent struct {
	Title    string
	Body     string
	Severity string
	Color    string
	Fields   []Field
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, evt Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// severityColor maps a severity string to a sidebar color.
func severityColor(severity string) string {
	switch severity {
	case "success":
		return ColorSuccess
	case "info":
		return ColorInfo
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}

func kindVerb(kind string) (string, string) {
	switch kind {
	case KindFailed:
		return "failed", "error"
	case KindTimedOut:
		return "timed out", "error"
	case KindRecovered:
		return "recovered", "success"
	case KindReset:
		return "was reset after a stuck run", "warning"
	default:
		return kind, "info"
	}
}

// Format renders evt for chat delivery.
func Format(evt Event) FormattedEvent {
	verb, severity := kindVerb(evt.Kind)
	name := evt.JobName
	if name == "" {
		name = fmt.Sprintf("#%d", evt.JobID)
	}

	var body []string
	if evt.Message != "" {
		body = append(body, evt.Message)
	}
	if evt.Error != "" {
		body = append(body, evt.Error)
	}

	var fields []Field
	if evt.Table != "" {
		fields = append(fields, Field{Name: "Table", Value: evt.Table, Short: true})
	}
	if evt.Duration > 0 {
		fields = append(fields, Field{Name: "Duration", Value: evt.Duration.Round(time.Millisecond).String(), Short: true})
	}

	return FormattedEvent{
		Title:    fmt.Sprintf("Sync job %s %s", name, verb),
		Body:     strings.Join(body, "\n"),
		Severity: severity,
		Color:    severityColor(severity),
		Fields:   fields,
	}
}
