// Package distribute packs tasks into a slot grid in input order, splitting a
// task into parts wherever its run of slots would cross a work-hour boundary.
package distribute

import (
	"fmt"
	"time"

	"github.com/mark3748/slotplanner/internal/slotgrid"
)

// Placement records the inclusive slot index range claimed by one task part.
type Placement struct {
	TaskID string `json:"id"`
	Part   int    `json:"part"`
	First  int    `json:"first_slot"`
	Last   int    `json:"last_slot"`
}

// Result is the outcome of one distribution pass.
type Result struct {
	Placed     []Task      `json:"placed"`
	Rejected   []Rejection `json:"rejected"`
	Placements []Placement `json:"placements"`
	// Tasks is the batch to persist, in input order. Planned and rejected
	// tasks appear unchanged, a placed task is replaced by its parts, and the
	// unplaced rest of a partly placed task follows its parts as a new task.
	Tasks []Task `json:"tasks"`
	// Needed is the slot demand of every task with usable timestamps.
	Needed int `json:"needed_slots"`
}

// Distributor claims slots through a cursor that only moves forward, so no
// slot can be handed to two task parts. Slots overlapping a planned task are
// reserved and never claimed.
type Distributor struct {
	grid     *slotgrid.Grid
	cursor   int
	reserved []bool
}

func New(grid *slotgrid.Grid) *Distributor {
	return &Distributor{grid: grid, reserved: make([]bool, grid.Len())}
}

// Cursor is the index of the next unclaimed slot.
func (d *Distributor) Cursor() int { return d.cursor }

// Distribute runs a fresh distributor over grid.
func Distribute(grid *slotgrid.Grid, tasks []Task) (Result, error) {
	return New(grid).Distribute(tasks)
}

type pending struct {
	task   Task
	start  time.Time
	needed int
	reject *Rejection
}

// Distribute places tasks starting at the current cursor. When the combined
// demand exceeds the unclaimed slots it returns a *CapacityError and places
// nothing.
func (d *Distributor) Distribute(tasks []Task) (Result, error) {
	res := Result{Placed: []Task{}, Rejected: []Rejection{}, Placements: []Placement{}, Tasks: []Task{}}
	for _, t := range tasks {
		if t.Planned {
			d.reserve(t)
		}
	}
	queue := make([]pending, 0, len(tasks))
	for _, t := range tasks {
		p := d.prepare(t)
		if p.reject == nil {
			res.Needed += p.needed
		}
		queue = append(queue, p)
	}
	if avail := d.available(); res.Needed > avail {
		return Result{}, &CapacityError{Needed: res.Needed, Available: avail}
	}
	for _, p := range queue {
		switch {
		case p.task.Planned:
			res.Tasks = append(res.Tasks, p.task)
		case p.reject != nil:
			res.Rejected = append(res.Rejected, *p.reject)
			res.Tasks = append(res.Tasks, p.task)
		default:
			if err := d.place(p, &res); err != nil {
				return Result{}, err
			}
		}
	}
	return res, nil
}

// reserve marks the slots overlapping a planned task. Planned tasks with
// unreadable times or outside the grid reserve nothing.
func (d *Distributor) reserve(t Task) {
	loc := d.grid.Calendar().Location()
	start, err := ParseTimestamp(t.Start, loc)
	if err != nil {
		return
	}
	end, err := ParseTimestamp(t.End, loc)
	if err != nil {
		return
	}
	for i := 0; i < d.grid.Len(); i++ {
		s := d.grid.Slot(i)
		if s.Start.Before(end) && s.End().After(start) {
			d.reserved[i] = true
		}
	}
}

// available counts the unreserved slots from the cursor on.
func (d *Distributor) available() int {
	n := 0
	for i := d.cursor; i < d.grid.Len(); i++ {
		if !d.reserved[i] {
			n++
		}
	}
	return n
}

func (d *Distributor) prepare(t Task) pending {
	p := pending{task: t}
	if t.Planned {
		return p
	}
	rej := func(r Reason, detail string) pending {
		p.reject = &Rejection{TaskID: t.ID, Title: t.Title, Reason: r, Detail: detail}
		return p
	}
	if t.Start == "" || t.End == "" {
		return rej(ReasonMissingTimestamps, "start and end are required")
	}
	loc := d.grid.Calendar().Location()
	start, err := ParseTimestamp(t.Start, loc)
	if err != nil {
		return rej(ReasonInvalidTimestamps, err.Error())
	}
	end, err := ParseTimestamp(t.End, loc)
	if err != nil {
		return rej(ReasonInvalidTimestamps, err.Error())
	}
	dur := end.Sub(start)
	if dur <= 0 {
		return rej(ReasonInvalidDuration, fmt.Sprintf("end is not after start (%s)", dur))
	}
	p.start = start
	p.needed = SlotsNeeded(dur, d.grid.Calendar().SlotDuration())
	return p
}

func (d *Distributor) place(p pending, res *Result) error {
	cal := d.grid.Calendar()
	remaining := p.needed
	for part := 1; remaining > 0; part++ {
		if !d.seek() {
			res.Rejected = append(res.Rejected, Rejection{
				TaskID: p.task.ID, Title: p.task.Title, Reason: ReasonInsufficientSlots,
				Detail: "slot grid exhausted", RemainingSlots: remaining,
			})
			res.Tasks = append(res.Tasks, p.rest(remaining, cal.SlotDuration()))
			return nil
		}
		run, err := d.run(remaining)
		if err != nil {
			return err
		}
		if run == 0 {
			res.Rejected = append(res.Rejected, Rejection{
				TaskID: p.task.ID, Title: p.task.Title, Reason: ReasonUnplaceable,
				Detail: "no contiguous run at cursor", RemainingSlots: remaining,
			})
			res.Tasks = append(res.Tasks, p.rest(remaining, cal.SlotDuration()))
			return nil
		}
		first, last := d.cursor, d.cursor+run-1
		out := p.task
		if part > 1 || run < p.needed {
			out.ID = fmt.Sprintf("%s-%d", p.task.ID, part)
		}
		out.Title = fmt.Sprintf("%s %d/%d", p.task.Title, part, ceilDiv(p.needed, run))
		out.Start = FormatTimestamp(d.grid.Slot(first).Start)
		out.End = FormatTimestamp(d.grid.Slot(last).Start.Add(cal.SlotDuration()))
		out.AllDay = false
		out.Planned = true
		res.Placed = append(res.Placed, out)
		res.Tasks = append(res.Tasks, out)
		res.Placements = append(res.Placements, Placement{TaskID: p.task.ID, Part: part, First: first, Last: last})
		d.cursor += run
		remaining -= run
	}
	return nil
}

// rest is what persists of a task whose last remaining slots found no room:
// the source unchanged if nothing was placed, else the same task shortened
// to the unplaced length.
func (p pending) rest(remaining int, slot time.Duration) Task {
	if remaining == p.needed {
		return p.task
	}
	t := p.task
	t.End = FormatTimestamp(p.start.Add(time.Duration(remaining) * slot))
	return t
}

// seek moves the cursor onto the next unreserved slot that starts inside
// work hours.
func (d *Distributor) seek() bool {
	cal := d.grid.Calendar()
	for d.cursor < d.grid.Len() && (d.reserved[d.cursor] || !cal.IsWorkInstant(d.grid.Slot(d.cursor).Start)) {
		d.cursor++
	}
	return d.cursor < d.grid.Len()
}

// run measures the contiguous unreserved slots available at the cursor, up to
// want, without crossing the end of the cursor slot's work-hour window.
func (d *Distributor) run(want int) (int, error) {
	cal := d.grid.Calendar()
	n := 1
	for n < want && d.cursor+n < d.grid.Len() {
		cur := d.grid.Slot(d.cursor + n - 1)
		boundary, err := cal.NextWorkHourBoundary(cur.Start)
		if err != nil {
			return 0, fmt.Errorf("slot %d: %w", d.cursor+n-1, err)
		}
		if !cur.End().Before(boundary) {
			break
		}
		if next := d.grid.Slot(d.cursor + n); d.reserved[d.cursor+n] || !next.Start.Equal(cur.End()) {
			break
		}
		n++
	}
	return n, nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// SlotsNeeded is the number of slots a duration occupies.
func SlotsNeeded(dur, slot time.Duration) int {
	if dur <= 0 {
		return 0
	}
	return int((dur + slot - 1) / slot)
}
