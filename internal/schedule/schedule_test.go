package schedule

import (
	"fmt"
	"testing"
	"time"

	"github.com/mtzanidakis/teamfeed/internal/config"
)

func TestFromDefinition(t *testing.T) {
	at := time.Date(2030, 1, 2, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		def     config.ScheduleDefinition
		kind    string
		wantErr bool
	}{
		{"cron", config.ScheduleDefinition{Name: "daily", Cron: " 0 9 * * * "}, "cron", false},
		{"interval", config.ScheduleDefinition{Name: "hourly", Interval: time.Hour}, "interval", false},
		{"once", config.ScheduleDefinition{Name: "once", At: at}, "once", false},
		{"none", config.ScheduleDefinition{Name: "empty"}, "", true},
		{"two kinds", config.ScheduleDefinition{Name: "both", Cron: "* * * * *", Interval: time.Minute}, "", true},
		{"bad cron", config.ScheduleDefinition{Name: "bad", Cron: "not a cron"}, "", true},
		{"short interval", config.ScheduleDefinition{Name: "fast", Interval: time.Millisecond}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := FromDefinition(tt.def)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && s.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", s.Kind, tt.kind)
			}
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	s, err := FromDefinition(config.ScheduleDefinition{Name: "daily", Cron: "0 9 * * *"})
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParseSchedule(s.Encode())
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if *parsed != s {
		t.Errorf("got %+v, want %+v", *parsed, s)
	}
}

func TestNextRunCron(t *testing.T) {
	now := time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC)
	next := NextRun(`{"kind":"cron","cron_expr":"0 9 * * *"}`, now)
	if next == nil {
		t.Fatal("expected next run time, got nil")
	}
	if !next.After(now) {
		t.Errorf("expected next run after %v, got %v", now, next)
	}
	if next.Minute() != 0 {
		t.Errorf("expected a whole hour, got %v", next)
	}
}

func TestNextRunInterval(t *testing.T) {
	now := time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC)
	next := NextRun(`{"kind":"interval","interval_ms":60000}`, now)
	if next == nil {
		t.Fatal("expected next run time, got nil")
	}
	if want := now.Add(time.Minute); !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestNextRunOnce(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour).UnixMilli()
	if NextRun(fmt.Sprintf(`{"kind":"once","at_ms":%d}`, future), now) == nil {
		t.Fatal("expected next run time, got nil")
	}

	past := now.Add(-time.Hour).UnixMilli()
	if NextRun(fmt.Sprintf(`{"kind":"once","at_ms":%d}`, past), now) != nil {
		t.Error("expected nil for past once schedule")
	}
}

func TestNextRunInvalid(t *testing.T) {
	if NextRun(`invalid json`, time.Now()) != nil {
		t.Error("expected nil for invalid schedule")
	}
	if NextRun(`{"kind":"unknown"}`, time.Now()) != nil {
		t.Error("expected nil for unknown kind")
	}
}

func TestFormatSchedule(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`{"kind":"cron","cron_expr":"0 9 * * *"}`, "0 9 * * *"},
		{`{"kind":"interval","interval_ms":3600000}`, "Every hour"},
		{`{"kind":"interval","interval_ms":7200000}`, "Every 2 hours"},
		{`{"kind":"interval","interval_ms":60000}`, "Every minute"},
		{`{"kind":"interval","interval_ms":300000}`, "Every 5 minutes"},
		{`{"kind":"interval","interval_ms":30000}`, "Every 30 seconds"},
		{`garbage`, "garbage"},
	}
	for _, tt := range tests {
		if got := FormatSchedule(tt.raw); got != tt.want {
			t.Errorf("FormatSchedule(%s) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
