package calendar

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCalendar(t *testing.T) *Calendar {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Timezone = "UTC"
	cal, err := New(cfg)
	require.NoError(t, err)
	return cal
}

// 2024-07-01 is a Monday.
func at(day, hour, min int) time.Time {
	return time.Date(2024, 7, day, hour, min, 0, 0, time.UTC)
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no windows", func(c *Config) { c.WorkHours = nil }},
		{"bad window", func(c *Config) { c.WorkHours = []string{"9-13"} }},
		{"reversed window", func(c *Config) { c.WorkHours = []string{"13:00-09:00"} }},
		{"overlapping windows", func(c *Config) { c.WorkHours = []string{"09:00-13:00", "12:00-14:00"} }},
		{"zero slot", func(c *Config) { c.SlotMinutes = 0 }},
		{"zero workdays", func(c *Config) { c.WorkdayCount = 0 }},
		{"weekend out of range", func(c *Config) { c.WeekendDays = []int{7} }},
		{"all weekend", func(c *Config) { c.WeekendDays = []int{0, 1, 2, 3, 4, 5, 6} }},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{"bad holiday", func(c *Config) { c.Holidays = []string{"07/04/2024"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestWindowsAreSorted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkHours = []string{"14:00-18:00", "09:00-13:00"}
	cal, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, []Hours{{9 * 3600, 13 * 3600}, {14 * 3600, 18 * 3600}}, cal.WorkHours())
}

func TestIsWorkInstant(t *testing.T) {
	cal := testCalendar(t)
	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"window start", at(1, 9, 0), true},
		{"inside morning", at(1, 12, 59), true},
		{"morning end is exclusive", at(1, 13, 0), false},
		{"lunch", at(1, 13, 30), false},
		{"afternoon", at(1, 14, 0), true},
		{"evening", at(1, 18, 0), false},
		{"before opening", at(1, 8, 59), false},
		{"friday", at(5, 10, 0), true},
		{"saturday", at(6, 10, 0), false},
		{"sunday", at(7, 10, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cal.IsWorkInstant(tt.t))
		})
	}
}

func TestIsWorkInstantConvertsTimezone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "Europe/Moscow"
	cal, err := New(cfg)
	require.NoError(t, err)
	// 06:00 UTC is 09:00 in Moscow.
	assert.True(t, cal.IsWorkInstant(at(1, 6, 0)))
	assert.False(t, cal.IsWorkInstant(at(1, 9, 0).Add(-4*time.Hour)))
}

func TestNextWorkHourBoundary(t *testing.T) {
	cal := testCalendar(t)
	end, err := cal.NextWorkHourBoundary(at(1, 12, 45))
	require.NoError(t, err)
	assert.Equal(t, at(1, 13, 0), end)

	end, err = cal.NextWorkHourBoundary(at(1, 14, 0))
	require.NoError(t, err)
	assert.Equal(t, at(1, 18, 0), end)

	_, err = cal.NextWorkHourBoundary(at(1, 13, 0))
	assert.ErrorIs(t, err, ErrOutOfWorkHours)
	_, err = cal.NextWorkHourBoundary(at(6, 10, 0))
	assert.ErrorIs(t, err, ErrOutOfWorkHours)
}

func TestNextWorkday(t *testing.T) {
	cal := testCalendar(t)
	assert.Equal(t, at(2, 0, 0), cal.NextWorkday(at(1, 15, 0)))
	assert.Equal(t, at(8, 0, 0), cal.NextWorkday(at(5, 9, 0)), "friday rolls to monday")
	assert.Equal(t, at(8, 0, 0), cal.NextWorkday(at(6, 9, 0)), "saturday rolls to monday")
}

func TestHolidaysAreNotWorkdays(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.Holidays = []string{"2024-07-04"}
	cal, err := New(cfg)
	require.NoError(t, err)
	assert.False(t, cal.IsWorkInstant(at(4, 10, 0)))
	assert.Equal(t, at(5, 0, 0), cal.NextWorkday(at(3, 10, 0)))
}

func TestAddWorkdays(t *testing.T) {
	cal := testCalendar(t)
	assert.Equal(t, at(1, 0, 0), cal.AddWorkdays(at(1, 10, 0), 0))
	assert.Equal(t, at(5, 0, 0), cal.AddWorkdays(at(1, 10, 0), 4))
	assert.Equal(t, at(8, 0, 0), cal.AddWorkdays(at(1, 10, 0), 5))
	assert.Equal(t, time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC), cal.AddWorkdays(at(1, 10, 0), 10))
}

func TestWorkdaysBetween(t *testing.T) {
	cal := testCalendar(t)
	assert.Equal(t, 0, cal.WorkdaysBetween(at(1, 9, 0), at(2, 9, 0)))
	assert.Equal(t, 3, cal.WorkdaysBetween(at(1, 9, 0), at(5, 9, 0)))
	assert.Equal(t, 4, cal.WorkdaysBetween(at(1, 9, 0), at(8, 9, 0)), "weekend skipped")
	assert.Equal(t, 4, cal.WorkdaysBetween(at(8, 9, 0), at(1, 9, 0)), "order independent")
	assert.Equal(t, 0, cal.WorkdaysBetween(at(1, 9, 0), at(1, 17, 0)))
}

func TestWorkDuration(t *testing.T) {
	cal := testCalendar(t)
	// Monday 16:00 to Tuesday 10:00: two hours of afternoon plus one morning hour.
	assert.Equal(t, 3*time.Hour, cal.WorkDuration(at(1, 16, 0), at(2, 10, 0)))
	assert.Equal(t, 3*time.Hour, cal.WorkDuration(at(2, 10, 0), at(1, 16, 0)))
	// Friday 17:00 to Monday 09:30.
	assert.Equal(t, 90*time.Minute, cal.WorkDuration(at(5, 17, 0), at(8, 9, 30)))
}

func TestCapacity(t *testing.T) {
	cal := testCalendar(t)
	assert.Equal(t, 32, cal.SlotsPerDay())
	assert.Equal(t, 160, cal.Capacity())

	cfg := DefaultConfig()
	cfg.SlotMinutes = 25
	cal, err := New(cfg)
	require.NoError(t, err)
	// 240/25 = 9 whole slots per window; the partial tail is dropped.
	assert.Equal(t, 18, cal.SlotsPerDay())
	assert.Equal(t, 30*time.Minute, cal.DroppedPerDay())
	assert.Zero(t, testCalendar(t).DroppedPerDay())
}

func TestFromEnv(t *testing.T) {
	env := map[string]string{
		"WORK_HOURS":   "08:00-12:00, 13:00-17:00",
		"WEEKEND_DAYS": "4,5,6",
		"SLOT_MINUTES": "30",
		"WORKDAYS":     "4",
		"TIMEZONE":     "UTC",
	}
	cfg, err := FromEnv(func(k, def string) string {
		if v, ok := env[k]; ok {
			return v
		}
		return def
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"08:00-12:00", "13:00-17:00"}, cfg.WorkHours)
	assert.Equal(t, []int{4, 5, 6}, cfg.WeekendDays)
	assert.Equal(t, 30, cfg.SlotMinutes)
	assert.Equal(t, 4, cfg.WorkdayCount)

	_, err = FromEnv(func(k, def string) string {
		if k == "SLOT_MINUTES" {
			return "quarter"
		}
		return def
	})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestWindows(t *testing.T) {
	cal := testCalendar(t)
	ws := cal.Windows(at(3, 11, 0))
	require.Len(t, ws, 2)
	assert.Equal(t, at(3, 9, 0), ws[0][0])
	assert.Equal(t, at(3, 13, 0), ws[0][1])
	assert.Equal(t, at(3, 14, 0), ws[1][0])
	assert.Equal(t, at(3, 18, 0), ws[1][1])
	// Saturday
	assert.Nil(t, cal.Windows(at(6, 11, 0)))
}
