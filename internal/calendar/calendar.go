package calendar

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrOutOfWorkHours is returned by boundary queries made on an instant
	// that is not inside any work-hour window.
	ErrOutOfWorkHours = errors.New("instant is outside work hours")
	// ErrInvalidConfig wraps every construction failure.
	ErrInvalidConfig = errors.New("invalid calendar config")
)

const dayEndSec = 24 * 3600

var validate = validator.New()

// Hours is a work-hour window expressed as seconds since local midnight.
// EndSec is exclusive.
type Hours struct {
	StartSec int
	EndSec   int
}

func (h Hours) String() string {
	return clock(h.StartSec) + "-" + clock(h.EndSec)
}

func clock(sec int) string {
	return fmt.Sprintf("%02d:%02d", sec/3600, (sec%3600)/60)
}

// Config is the raw, user-facing calendar description. Weekend days use
// Monday=0 ... Sunday=6.
type Config struct {
	WorkHours    []string `yaml:"work_hours" json:"work_hours" validate:"required,min=1,dive,required"`
	WeekendDays  []int    `yaml:"weekend_days" json:"weekend_days" validate:"max=6,dive,min=0,max=6"`
	SlotMinutes  int      `yaml:"slot_minutes" json:"slot_minutes" validate:"required,min=1,max=1440"`
	WorkdayCount int      `yaml:"workdays" json:"workdays" validate:"required,min=1,max=366"`
	Timezone     string   `yaml:"timezone" json:"timezone"`
	Holidays     []string `yaml:"holidays" json:"holidays" validate:"dive,datetime=2006-01-02"`
}

// DefaultConfig mirrors the classic two-block business week: 09-13 and 14-18,
// Saturday and Sunday off, 15 minute slots, five workdays.
func DefaultConfig() Config {
	return Config{
		WorkHours:    []string{"09:00-13:00", "14:00-18:00"},
		WeekendDays:  []int{5, 6},
		SlotMinutes:  15,
		WorkdayCount: 5,
		Timezone:     "Local",
	}
}

// Calendar answers work-time questions for one immutable configuration.
type Calendar struct {
	loc      *time.Location
	windows  []Hours
	weekend  map[time.Weekday]struct{}
	holidays map[time.Time]struct{}
	slot     time.Duration
	workdays int
}

// New validates cfg and builds a Calendar.
func New(cfg Config) (*Calendar, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, cfg.Timezone, err)
	}
	windows := make([]Hours, 0, len(cfg.WorkHours))
	for _, s := range cfg.WorkHours {
		h, err := ParseHours(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		windows = append(windows, h)
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].StartSec < windows[j].StartSec })
	for i := 1; i < len(windows); i++ {
		if windows[i].StartSec < windows[i-1].EndSec {
			return nil, fmt.Errorf("%w: windows %s and %s overlap", ErrInvalidConfig, windows[i-1], windows[i])
		}
	}
	weekend := make(map[time.Weekday]struct{}, len(cfg.WeekendDays))
	for _, d := range cfg.WeekendDays {
		weekend[WeekdayFromIndex(d)] = struct{}{}
	}
	if len(weekend) == 7 {
		return nil, fmt.Errorf("%w: every weekday is a weekend day", ErrInvalidConfig)
	}
	holidays := make(map[time.Time]struct{}, len(cfg.Holidays))
	for _, s := range cfg.Holidays {
		d, err := time.ParseInLocation("2006-01-02", s, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: holiday %q: %v", ErrInvalidConfig, s, err)
		}
		holidays[d] = struct{}{}
	}
	c := &Calendar{
		loc:      loc,
		windows:  windows,
		weekend:  weekend,
		holidays: holidays,
		slot:     time.Duration(cfg.SlotMinutes) * time.Minute,
		workdays: cfg.WorkdayCount,
	}
	return c, nil
}

// ParseHours parses "HH:MM-HH:MM". "24:00" is accepted as an end.
func ParseHours(s string) (Hours, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return Hours{}, fmt.Errorf("window %q: want HH:MM-HH:MM", s)
	}
	start, err := parseClock(parts[0])
	if err != nil {
		return Hours{}, fmt.Errorf("window %q: %v", s, err)
	}
	end, err := parseClock(parts[1])
	if err != nil {
		return Hours{}, fmt.Errorf("window %q: %v", s, err)
	}
	if start >= end {
		return Hours{}, fmt.Errorf("window %q: start must be before end", s)
	}
	if start >= dayEndSec {
		return Hours{}, fmt.Errorf("window %q: start must be before 24:00", s)
	}
	return Hours{StartSec: start, EndSec: end}, nil
}

func parseClock(s string) (int, error) {
	hm := strings.Split(strings.TrimSpace(s), ":")
	if len(hm) != 2 {
		return 0, fmt.Errorf("bad time %q", s)
	}
	h, err := strconv.Atoi(hm[0])
	if err != nil {
		return 0, fmt.Errorf("bad hour %q", s)
	}
	m, err := strconv.Atoi(hm[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute %q", s)
	}
	sec := h*3600 + m*60
	if h < 0 || sec > dayEndSec {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return sec, nil
}

// WeekdayFromIndex converts a Monday=0 index to a time.Weekday.
func WeekdayFromIndex(i int) time.Weekday {
	return time.Weekday((i + 1) % 7)
}

func (c *Calendar) Location() *time.Location { return c.loc }
func (c *Calendar) SlotDuration() time.Duration { return c.slot }
func (c *Calendar) WorkdayCount() int { return c.workdays }

// WorkHours returns a copy of the configured windows in start order.
func (c *Calendar) WorkHours() []Hours {
	out := make([]Hours, len(c.windows))
	copy(out, c.windows)
	return out
}

// SlotsPerDay is the number of whole slots that fit into one workday.
// A trailing partial slot in a window is not counted.
func (c *Calendar) SlotsPerDay() int {
	n := 0
	step := int(c.slot / time.Second)
	for _, w := range c.windows {
		n += (w.EndSec - w.StartSec) / step
	}
	return n
}

// DroppedPerDay is the work time per day left over at window ends because it
// is shorter than one slot.
func (c *Calendar) DroppedPerDay() time.Duration {
	step := int(c.slot / time.Second)
	rem := 0
	for _, w := range c.windows {
		rem += (w.EndSec - w.StartSec) % step
	}
	return time.Duration(rem) * time.Second
}

// Capacity is the total slot count of a grid spanning WorkdayCount workdays.
func (c *Calendar) Capacity() int {
	return c.SlotsPerDay() * c.workdays
}

// Midnight returns the start of t's calendar day in the calendar timezone.
func (c *Calendar) Midnight(t time.Time) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
}

// At returns the instant sec seconds of wall-clock time after day's midnight.
func (c *Calendar) At(day time.Time, sec int) time.Time {
	day = day.In(c.loc)
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, sec, 0, c.loc)
}

// IsWorkday reports whether date falls on neither a weekend day nor a holiday.
func (c *Calendar) IsWorkday(date time.Time) bool {
	day := c.Midnight(date)
	if _, ok := c.weekend[day.Weekday()]; ok {
		return false
	}
	_, holiday := c.holidays[day]
	return !holiday
}

func (c *Calendar) window(t time.Time) (Hours, bool) {
	if !c.IsWorkday(t) {
		return Hours{}, false
	}
	t = t.In(c.loc)
	tod := time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
	for _, w := range c.windows {
		if tod >= time.Duration(w.StartSec)*time.Second && tod < time.Duration(w.EndSec)*time.Second {
			return w, true
		}
	}
	return Hours{}, false
}

// IsWorkInstant reports whether t lies inside a work-hour window on a workday.
func (c *Calendar) IsWorkInstant(t time.Time) bool {
	_, ok := c.window(t)
	return ok
}

// WindowAt returns the bounds of the window containing t.
func (c *Calendar) WindowAt(t time.Time) (start, end time.Time, ok bool) {
	w, ok := c.window(t)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	return c.At(t, w.StartSec), c.At(t, w.EndSec), true
}

// Windows returns the [start, end) bounds of every window on date, or nil when
// date is not a workday.
func (c *Calendar) Windows(date time.Time) [][2]time.Time {
	if !c.IsWorkday(date) {
		return nil
	}
	out := make([][2]time.Time, 0, len(c.windows))
	for _, w := range c.windows {
		out = append(out, [2]time.Time{c.At(date, w.StartSec), c.At(date, w.EndSec)})
	}
	return out
}

// NextWorkHourBoundary returns the end of the window containing t.
func (c *Calendar) NextWorkHourBoundary(t time.Time) (time.Time, error) {
	_, end, ok := c.WindowAt(t)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrOutOfWorkHours, t.In(c.loc).Format(time.RFC3339))
	}
	return end, nil
}

// NextWorkday returns the first workday strictly after date, as a midnight.
func (c *Calendar) NextWorkday(date time.Time) time.Time {
	day := c.Midnight(date)
	for {
		day = time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, c.loc)
		if c.IsWorkday(day) {
			return day
		}
	}
}

// AddWorkdays advances base by n workdays.
func (c *Calendar) AddWorkdays(base time.Time, n int) time.Time {
	day := c.Midnight(base)
	for i := 0; i < n; i++ {
		day = c.NextWorkday(day)
	}
	return day
}

// WorkdaysBetween counts workdays strictly between a and b, in either order.
func (c *Calendar) WorkdaysBetween(a, b time.Time) int {
	if b.Before(a) {
		a, b = b, a
	}
	last := c.Midnight(b)
	n := 0
	day := c.Midnight(a)
	for {
		day = time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, c.loc)
		if !day.Before(last) {
			return n
		}
		if c.IsWorkday(day) {
			n++
		}
	}
}

// WorkDuration sums the work time between two instants.
func (c *Calendar) WorkDuration(start, end time.Time) time.Duration {
	if end.Before(start) {
		start, end = end, start
	}
	total := time.Duration(0)
	for day := c.Midnight(start); day.Before(end); day = time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, c.loc) {
		if !c.IsWorkday(day) {
			continue
		}
		for _, w := range c.windows {
			ws := maxTime(c.At(day, w.StartSec), start)
			we := minTime(c.At(day, w.EndSec), end)
			if we.After(ws) {
				total += we.Sub(ws)
			}
		}
	}
	return total
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
