package schedule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/mtzanidakis/teamfeed/internal/config"
)

type Schedule struct {
	Kind       string `json:"kind"`        // "cron", "interval", "once"
	CronExpr   string `json:"cron_expr"`   // Cron expression (if kind=cron)
	IntervalMs int64  `json:"interval_ms"` // Interval in ms (if kind=interval)
	AtMs       int64  `json:"at_ms"`       // Unix ms timestamp (if kind=once)
}

// FromDefinition converts a configured schedule. Exactly one of cron,
// interval and at must be set.
func FromDefinition(def config.ScheduleDefinition) (Schedule, error) {
	set := 0
	var s Schedule
	if expr := strings.TrimSpace(def.Cron); expr != "" {
		if !gronx.New().IsValid(expr) {
			return Schedule{}, fmt.Errorf("schedule %s: invalid cron expression: %s", def.Name, expr)
		}
		s = Schedule{Kind: "cron", CronExpr: expr}
		set++
	}
	if def.Interval != 0 {
		if def.Interval < time.Second {
			return Schedule{}, fmt.Errorf("schedule %s: interval must be at least 1s", def.Name)
		}
		s = Schedule{Kind: "interval", IntervalMs: def.Interval.Milliseconds()}
		set++
	}
	if !def.At.IsZero() {
		s = Schedule{Kind: "once", AtMs: def.At.UnixMilli()}
		set++
	}
	if set != 1 {
		return Schedule{}, fmt.Errorf("schedule %s: exactly one of cron, interval or at is required", def.Name)
	}
	return s, nil
}

// Encode returns the JSON form stored alongside the schedule's state.
func (s Schedule) Encode() string {
	data, _ := json.Marshal(s)
	return string(data)
}

func ParseSchedule(raw string) (*Schedule, error) {
	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// NextRun returns when scheduleJSON is next due after now, or nil when it
// never is again.
func NextRun(scheduleJSON string, now time.Time) *time.Time {
	s, err := ParseSchedule(scheduleJSON)
	if err != nil {
		return nil
	}

	var next time.Time

	switch s.Kind {
	case "cron":
		nextTime, err := gronx.NextTickAfter(s.CronExpr, now, false)
		if err != nil {
			return nil
		}
		next = nextTime
	case "interval":
		if s.IntervalMs <= 0 {
			return nil
		}
		next = now.Add(time.Duration(s.IntervalMs) * time.Millisecond)
	case "once":
		t := time.UnixMilli(s.AtMs)
		if !t.After(now) {
			return nil
		}
		next = t
	default:
		return nil
	}

	next = next.UTC()
	return &next
}

// FormatSchedule returns a human-readable description of a schedule JSON string.
func FormatSchedule(scheduleJSON string) string {
	s, err := ParseSchedule(scheduleJSON)
	if err != nil {
		return scheduleJSON
	}

	switch s.Kind {
	case "cron":
		return s.CronExpr
	case "interval":
		d := time.Duration(s.IntervalMs) * time.Millisecond
		switch {
		case d%time.Hour == 0 && d >= time.Hour:
			h := int(d.Hours())
			if h == 1 {
				return "Every hour"
			}
			return fmt.Sprintf("Every %d hours", h)
		case d%time.Minute == 0 && d >= time.Minute:
			m := int(d.Minutes())
			if m == 1 {
				return "Every minute"
			}
			return fmt.Sprintf("Every %d minutes", m)
		default:
			return fmt.Sprintf("Every %d seconds", int(d.Seconds()))
		}
	case "once":
		t := time.UnixMilli(s.AtMs)
		return "Once at " + t.Format("Jan 2 15:04")
	default:
		return scheduleJSON
	}
}
