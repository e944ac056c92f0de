package calendar

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"gopkg.in/yaml.v3"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// LoadCalendar reads calendar id from the calendars, work_hours,
// weekend_days and holidays tables.
func LoadCalendar(ctx context.Context, db DB, id string) (*Calendar, error) {
	var cfg Config
	if err := db.QueryRow(ctx, "select tz, slot_minutes, workdays from calendars where id=$1", id).
		Scan(&cfg.Timezone, &cfg.SlotMinutes, &cfg.WorkdayCount); err != nil {
		return nil, fmt.Errorf("load calendar %s: %w", id, err)
	}
	rows, err := db.Query(ctx, "select start_sec, end_sec from work_hours where calendar_id=$1 order by start_sec", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var start, end int
		if err := rows.Scan(&start, &end); err != nil {
			return nil, err
		}
		if start%60 != 0 || end%60 != 0 {
			return nil, fmt.Errorf("%w: calendar %s: window %d-%d is not on whole minutes", ErrInvalidConfig, id, start, end)
		}
		cfg.WorkHours = append(cfg.WorkHours, Hours{StartSec: start, EndSec: end}.String())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	wrows, err := db.Query(ctx, "select dow from weekend_days where calendar_id=$1", id)
	if err != nil {
		return nil, err
	}
	defer wrows.Close()
	for wrows.Next() {
		var dow int
		if err := wrows.Scan(&dow); err != nil {
			return nil, err
		}
		cfg.WeekendDays = append(cfg.WeekendDays, dow)
	}
	if err := wrows.Err(); err != nil {
		return nil, err
	}
	hrows, err := db.Query(ctx, "select date from holidays where calendar_id=$1", id)
	if err != nil {
		return nil, err
	}
	defer hrows.Close()
	for hrows.Next() {
		var d time.Time
		if err := hrows.Scan(&d); err != nil {
			return nil, fmt.Errorf("calendar %s holidays: %w", id, err)
		}
		cfg.Holidays = append(cfg.Holidays, d.Format("2006-01-02"))
	}
	if err := hrows.Err(); err != nil {
		return nil, fmt.Errorf("calendar %s holidays: %w", id, err)
	}
	return New(cfg)
}

// LoadFile reads a YAML calendar description. Missing keys keep their
// DefaultConfig values.
func LoadFile(path string) (*Calendar, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	return New(cfg)
}

// FromEnv builds a Config from WORK_HOURS, WEEKEND_DAYS, SLOT_MINUTES,
// WORKDAYS, TIMEZONE and HOLIDAYS, falling back to DefaultConfig.
func FromEnv(getenv func(key, def string) string) (Config, error) {
	cfg := DefaultConfig()
	if v := getenv("WORK_HOURS", ""); v != "" {
		cfg.WorkHours = splitList(v)
	}
	if v := getenv("WEEKEND_DAYS", ""); v != "" {
		cfg.WeekendDays = nil
		if v != "none" {
			for _, s := range splitList(v) {
				d, err := strconv.Atoi(s)
				if err != nil {
					return cfg, fmt.Errorf("%w: WEEKEND_DAYS %q", ErrInvalidConfig, v)
				}
				cfg.WeekendDays = append(cfg.WeekendDays, d)
			}
		}
	}
	var err error
	if cfg.SlotMinutes, err = atoiDefault(getenv("SLOT_MINUTES", ""), cfg.SlotMinutes); err != nil {
		return cfg, fmt.Errorf("%w: SLOT_MINUTES: %v", ErrInvalidConfig, err)
	}
	if cfg.WorkdayCount, err = atoiDefault(getenv("WORKDAYS", ""), cfg.WorkdayCount); err != nil {
		return cfg, fmt.Errorf("%w: WORKDAYS: %v", ErrInvalidConfig, err)
	}
	cfg.Timezone = getenv("TIMEZONE", cfg.Timezone)
	if v := getenv("HOLIDAYS", ""); v != "" {
		cfg.Holidays = splitList(v)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func atoiDefault(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
