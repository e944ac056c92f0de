// Package schedule runs one planning pass: build the week's slot grid from a
// calendar and pack a task batch into it.
package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mark3748/slotplanner/internal/calendar"
	"github.com/mark3748/slotplanner/internal/distribute"
	"github.com/mark3748/slotplanner/internal/slotgrid"
)

// Result summarizes a run for callers that persist or render it.
type Result struct {
	Base      time.Time `json:"base"`
	GridSlots int       `json:"grid_slots"`
	distribute.Result
}

// Run builds the grid for base and distributes tasks over it. A
// *distribute.CapacityError is returned unchanged so callers can test it with
// errors.Is(err, distribute.ErrCapacityExceeded).
func Run(ctx context.Context, cal *calendar.Calendar, base time.Time, tasks []distribute.Task) (Result, error) {
	grid := slotgrid.Build(cal, base)
	out := Result{Base: grid.Base(), GridSlots: grid.Len()}
	res, err := distribute.Distribute(grid, tasks)
	logger := log.Ctx(ctx)
	if err != nil {
		outcome := "error"
		if errors.Is(err, distribute.ErrCapacityExceeded) {
			outcome = "capacity_exceeded"
		}
		runsTotal.WithLabelValues(outcome).Inc()
		logger.Warn().Err(err).Int("tasks", len(tasks)).Int("grid_slots", grid.Len()).Msg("planning aborted")
		return out, err
	}
	out.Result = res
	runsTotal.WithLabelValues("ok").Inc()
	partsPlaced.Add(float64(len(res.Placed)))
	for _, r := range res.Rejected {
		rejections.WithLabelValues(string(r.Reason)).Inc()
	}
	logger.Info().
		Time("base", out.Base).
		Int("tasks", len(tasks)).
		Int("grid_slots", grid.Len()).
		Int("needed_slots", res.Needed).
		Int("parts", len(res.Placed)).
		Int("rejected", len(res.Rejected)).
		Int("persisted", len(res.Tasks)).
		Msg("planning complete")
	return out, nil
}

// ParseBase reads a YYYY-MM-DD date in the calendar timezone. An empty
// string means today.
func ParseBase(cal *calendar.Calendar, s string, now time.Time) (time.Time, error) {
	if s == "" {
		return cal.Midnight(now), nil
	}
	return time.ParseInLocation("2006-01-02", s, cal.Location())
}
