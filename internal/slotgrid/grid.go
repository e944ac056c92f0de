// Package slotgrid lays a calendar's work hours out as a flat sequence of
// fixed-size slots.
package slotgrid

import (
	"time"

	"github.com/mark3748/slotplanner/internal/calendar"
)

// Slot is one allocatable unit of work time.
type Slot struct {
	Start    time.Time     `json:"start"`
	Label    string        `json:"label"`
	Duration time.Duration `json:"-"`
}

func (s Slot) End() time.Time { return s.Start.Add(s.Duration) }

// Grid is the read-only slot sequence for one base date.
type Grid struct {
	cal   *calendar.Calendar
	base  time.Time
	slots []Slot
}

// Build generates slots for cal.WorkdayCount() workdays starting at base
// (or the first workday after it). Within each window slots step by the slot
// duration; a tail shorter than one slot is dropped.
func Build(cal *calendar.Calendar, base time.Time) *Grid {
	day := cal.Midnight(base)
	if !cal.IsWorkday(day) {
		day = cal.NextWorkday(day)
	}
	g := &Grid{
		cal:   cal,
		base:  day,
		slots: make([]Slot, 0, cal.Capacity()),
	}
	step := int(cal.SlotDuration() / time.Second)
	for i := 0; i < cal.WorkdayCount(); i++ {
		for _, w := range cal.WorkHours() {
			for off := w.StartSec; off+step <= w.EndSec; off += step {
				start := cal.At(day, off)
				if !cal.IsWorkInstant(start) {
					continue
				}
				end := cal.At(day, off+step)
				g.slots = append(g.slots, Slot{
					Start:    start,
					Label:    start.Format("15:04") + "–" + end.Format("15:04"),
					Duration: cal.SlotDuration(),
				})
			}
		}
		day = cal.NextWorkday(day)
	}
	return g
}

func (g *Grid) Calendar() *calendar.Calendar { return g.cal }

// Base is the first workday covered by the grid.
func (g *Grid) Base() time.Time { return g.base }

func (g *Grid) Len() int { return len(g.slots) }

func (g *Grid) Slot(i int) Slot { return g.slots[i] }

// Slots returns a copy of the sequence.
func (g *Grid) Slots() []Slot {
	out := make([]Slot, len(g.slots))
	copy(out, g.slots)
	return out
}
