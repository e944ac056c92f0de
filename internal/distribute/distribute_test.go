package distribute

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mark3748/slotplanner/internal/calendar"
	"github.com/mark3748/slotplanner/internal/slotgrid"
)

var monday = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

func weekGrid(t *testing.T, mutate func(*calendar.Config)) *slotgrid.Grid {
	t.Helper()
	cfg := calendar.DefaultConfig()
	cfg.Timezone = "UTC"
	if mutate != nil {
		mutate(&cfg)
	}
	cal, err := calendar.New(cfg)
	require.NoError(t, err)
	return slotgrid.Build(cal, monday)
}

// task builds a task of the given length; its source times are irrelevant
// beyond their difference.
func task(id string, minutes int) Task {
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	return Task{
		ID:    id,
		Title: "Task " + id,
		Start: FormatTimestamp(start),
		End:   FormatTimestamp(start.Add(time.Duration(minutes) * time.Minute)),
	}
}

func TestCapacityExceeded(t *testing.T) {
	grid := weekGrid(t, nil)
	tasks := make([]Task, 161)
	for i := range tasks {
		tasks[i] = task(fmt.Sprint(i), 15)
	}
	res, err := Distribute(grid, tasks)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCapacityExceeded))
	var ce *CapacityError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 161, ce.Needed)
	assert.Equal(t, 160, ce.Available)
	assert.Empty(t, res.Placed)
	assert.Empty(t, res.Placements)
}

func TestFullGridFits(t *testing.T) {
	grid := weekGrid(t, nil)
	tasks := make([]Task, 160)
	for i := range tasks {
		tasks[i] = task(fmt.Sprint(i), 15)
	}
	res, err := Distribute(grid, tasks)
	require.NoError(t, err)
	assert.Len(t, res.Placed, 160)
	assert.Empty(t, res.Rejected)
}

func TestSingleWindowPlacement(t *testing.T) {
	grid := weekGrid(t, nil)
	res, err := Distribute(grid, []Task{task("a", 50)})
	require.NoError(t, err)
	require.Len(t, res.Placed, 1)
	got := res.Placed[0]
	assert.Equal(t, "a", got.ID)
	assert.Equal(t, "Task a 1/1", got.Title)
	assert.Equal(t, "2024-07-01T09:00:00.000Z", got.Start)
	assert.Equal(t, "2024-07-01T10:00:00.000Z", got.End)
	assert.Equal(t, []Placement{{TaskID: "a", Part: 1, First: 0, Last: 3}}, res.Placements)
	assert.Equal(t, 4, res.Needed)
}

func TestSplitAcrossLunch(t *testing.T) {
	grid := weekGrid(t, nil)
	// The filler leaves two slots (12:30, 12:45) before the 13:00 boundary.
	res, err := Distribute(grid, []Task{task("filler", 210), task("b", 50)})
	require.NoError(t, err)
	require.Len(t, res.Placed, 3)

	first, second := res.Placed[1], res.Placed[2]
	assert.Equal(t, "b-1", first.ID)
	assert.Equal(t, "Task b 1/2", first.Title)
	assert.Equal(t, "2024-07-01T12:30:00.000Z", first.Start)
	assert.Equal(t, "2024-07-01T13:00:00.000Z", first.End)

	assert.Equal(t, "b-2", second.ID)
	assert.Equal(t, "Task b 2/2", second.Title)
	assert.Equal(t, "2024-07-01T14:00:00.000Z", second.Start)
	assert.Equal(t, "2024-07-01T14:30:00.000Z", second.End)
}

func TestPartCountIsRecomputedPerPart(t *testing.T) {
	grid := weekGrid(t, nil)
	res, err := Distribute(grid, []Task{task("filler", 210), task("c", 75)})
	require.NoError(t, err)
	require.Len(t, res.Placed, 3)
	// 5 slots: a 2-slot part (ceil(5/2)=3) then a 3-slot part (ceil(5/3)=2).
	assert.Equal(t, "Task c 1/3", res.Placed[1].Title)
	assert.Equal(t, "Task c 2/2", res.Placed[2].Title)
}

func TestSplitAcrossDays(t *testing.T) {
	grid := weekGrid(t, nil)
	// 7h45m fills Monday up to 17:45, leaving a single slot.
	res, err := Distribute(grid, []Task{task("filler", 465), task("d", 30)})
	require.NoError(t, err)
	require.Len(t, res.Placed, 4)
	assert.Equal(t, "2024-07-01T17:45:00.000Z", res.Placed[2].Start)
	assert.Equal(t, "2024-07-01T18:00:00.000Z", res.Placed[2].End)
	assert.Equal(t, "2024-07-02T09:00:00.000Z", res.Placed[3].Start)
	assert.Equal(t, "Task d 1/2", res.Placed[2].Title)
	assert.Equal(t, "Task d 2/2", res.Placed[3].Title)
}

func TestExactWindowFitDoesNotCrossBoundary(t *testing.T) {
	grid := weekGrid(t, nil)
	res, err := Distribute(grid, []Task{task("full", 240), task("next", 15)})
	require.NoError(t, err)
	require.Len(t, res.Placed, 2)
	assert.Equal(t, "full", res.Placed[0].ID)
	assert.Equal(t, "2024-07-01T13:00:00.000Z", res.Placed[0].End)
	assert.Equal(t, "2024-07-01T14:00:00.000Z", res.Placed[1].Start)
	for _, p := range res.Placements[:1] {
		assert.True(t, grid.Slot(p.Last).Start.Before(time.Date(2024, 7, 1, 13, 0, 0, 0, time.UTC)))
	}
}

func TestRunStopsAtDroppedWindowTail(t *testing.T) {
	// 25-minute slots leave 09:50-10:00 unallocated, so the last slot of the
	// day ends before the window boundary and the next slot is Tuesday's.
	grid := weekGrid(t, func(c *calendar.Config) {
		c.SlotMinutes = 25
		c.WorkHours = []string{"09:00-10:00"}
	})
	require.Equal(t, 10, grid.Len())
	res, err := Distribute(grid, []Task{task("x", 75)})
	require.NoError(t, err)
	require.Len(t, res.Placed, 2)

	first, second := res.Placed[0], res.Placed[1]
	assert.Equal(t, "x-1", first.ID)
	assert.Equal(t, "Task x 1/2", first.Title)
	assert.Equal(t, "2024-07-01T09:00:00.000Z", first.Start)
	assert.Equal(t, "2024-07-01T09:50:00.000Z", first.End)

	assert.Equal(t, "x-2", second.ID)
	assert.Equal(t, "Task x 2/3", second.Title)
	assert.Equal(t, "2024-07-02T09:00:00.000Z", second.Start)
	assert.Equal(t, "2024-07-02T09:25:00.000Z", second.End)
	assert.Equal(t, []Placement{{TaskID: "x", Part: 1, First: 0, Last: 1}, {TaskID: "x", Part: 2, First: 2, Last: 2}}, res.Placements)
}

func TestOneSlotRoundTrip(t *testing.T) {
	grid := weekGrid(t, nil)
	res, err := Distribute(grid, []Task{task("one", 15)})
	require.NoError(t, err)
	require.Len(t, res.Placed, 1)
	got := res.Placed[0]
	start, err := ParseTimestamp(got.Start, time.UTC)
	require.NoError(t, err)
	end, err := ParseTimestamp(got.End, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, end.Sub(start))
	assert.Equal(t, "Task one 1/1", got.Title)
}

func TestMissingTimestampsConsumeNothing(t *testing.T) {
	grid := weekGrid(t, nil)
	noEnd := task("x", 15)
	noEnd.End = ""
	res, err := Distribute(grid, []Task{noEnd, task("y", 15)})
	require.NoError(t, err)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, Rejection{TaskID: "x", Title: "Task x", Reason: ReasonMissingTimestamps, Detail: "start and end are required"}, res.Rejected[0])
	require.Len(t, res.Placed, 1)
	assert.Equal(t, "2024-07-01T09:00:00.000Z", res.Placed[0].Start)
	assert.Equal(t, 1, res.Needed)
}

func TestInvalidTasksAreRejected(t *testing.T) {
	grid := weekGrid(t, nil)
	garbled := task("g", 15)
	garbled.Start = "yesterday"
	backwards := task("r", 15)
	backwards.Start, backwards.End = backwards.End, backwards.Start
	res, err := Distribute(grid, []Task{garbled, backwards})
	require.NoError(t, err)
	require.Len(t, res.Rejected, 2)
	assert.Equal(t, ReasonInvalidTimestamps, res.Rejected[0].Reason)
	assert.Equal(t, ReasonInvalidDuration, res.Rejected[1].Reason)
	assert.Empty(t, res.Placed)
}

func TestInsufficientSlotsKeepsPlacedParts(t *testing.T) {
	grid := weekGrid(t, func(c *calendar.Config) { c.WorkdayCount = 1 })
	d := New(grid)
	d.cursor = grid.Len() - 1
	var res Result
	src := task("z", 45)
	start, err := ParseTimestamp(src.Start, time.UTC)
	require.NoError(t, err)
	require.NoError(t, d.place(pending{task: src, start: start, needed: 3}, &res))
	require.Len(t, res.Placed, 1)
	assert.Equal(t, "z-1", res.Placed[0].ID)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, ReasonInsufficientSlots, res.Rejected[0].Reason)
	assert.Equal(t, 2, res.Rejected[0].RemainingSlots)

	// the unplaced 30 minutes persist as the source task, shortened
	require.Len(t, res.Tasks, 2)
	assert.Equal(t, res.Placed[0], res.Tasks[0])
	rest := res.Tasks[1]
	assert.Equal(t, "z", rest.ID)
	assert.Equal(t, "Task z", rest.Title)
	assert.False(t, rest.Planned)
	assert.Equal(t, src.Start, rest.Start)
	assert.Equal(t, "2024-06-01T10:30:00.000Z", rest.End)
}

func TestTasksKeepRejectedInInputOrder(t *testing.T) {
	grid := weekGrid(t, nil)
	backlog := Task{ID: "b", Title: "Backlog", Extra: map[string]json.RawMessage{"color": json.RawMessage(`"red"`)}}
	res, err := Distribute(grid, []Task{task("a", 30), backlog, task("c", 15)})
	require.NoError(t, err)
	require.Len(t, res.Tasks, 3)
	assert.Equal(t, "Task a 1/1", res.Tasks[0].Title)
	assert.True(t, res.Tasks[0].Planned)
	assert.Equal(t, backlog, res.Tasks[1])
	assert.Equal(t, "Task c 1/1", res.Tasks[2].Title)
	assert.Equal(t, "2024-07-01T09:30:00.000Z", res.Tasks[2].Start)
}

func TestPlannedTasksAreNotSplitAgain(t *testing.T) {
	grid := weekGrid(t, nil)
	first, err := Distribute(grid, []Task{task("filler", 210), task("b", 50)})
	require.NoError(t, err)
	require.Len(t, first.Tasks, 3)

	second, err := Distribute(grid, first.Tasks)
	require.NoError(t, err)
	assert.Equal(t, first.Tasks, second.Tasks)
	assert.Empty(t, second.Placed)
	assert.Zero(t, second.Needed)
	assert.Equal(t, "Task b 2/2", second.Tasks[2].Title)
}

func TestPlannedTasksReserveTheirSlots(t *testing.T) {
	grid := weekGrid(t, nil)
	// 09:30-10:00 is taken, so a 45-minute task cannot start at 09:00.
	held := Task{ID: "held", Title: "Held", Start: "2024-07-01T09:30:00.000Z", End: "2024-07-01T10:00:00.000Z", Planned: true}
	res, err := Distribute(grid, []Task{held, task("n", 45)})
	require.NoError(t, err)
	require.Len(t, res.Placed, 2)
	assert.Equal(t, "2024-07-01T09:00:00.000Z", res.Placed[0].Start)
	assert.Equal(t, "2024-07-01T09:30:00.000Z", res.Placed[0].End)
	assert.Equal(t, "Task n 1/2", res.Placed[0].Title)
	assert.Equal(t, "2024-07-01T10:00:00.000Z", res.Placed[1].Start)
	assert.Equal(t, "2024-07-01T10:15:00.000Z", res.Placed[1].End)
	assert.Equal(t, held, res.Tasks[0])
}

func TestReservedSlotsCountAgainstCapacity(t *testing.T) {
	grid := weekGrid(t, func(c *calendar.Config) { c.WorkdayCount = 1 })
	held := Task{ID: "held", Title: "Held", Start: "2024-07-01T09:00:00.000Z", End: "2024-07-01T13:00:00.000Z", Planned: true}
	_, err := Distribute(grid, []Task{held, task("n", 5*60)})
	var ce *CapacityError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 20, ce.Needed)
	assert.Equal(t, 16, ce.Available)
}

func TestPlacementsAreDisjoint(t *testing.T) {
	grid := weekGrid(t, nil)
	var tasks []Task
	for i, m := range []int{50, 15, 240, 5, 95, 60, 180, 30, 45, 20} {
		tasks = append(tasks, task(fmt.Sprint(i), m))
	}
	res, err := Distribute(grid, tasks)
	require.NoError(t, err)
	claimed := make(map[int]string)
	prevLast := -1
	for _, p := range res.Placements {
		require.Greater(t, p.First, prevLast, "placements must move forward")
		for i := p.First; i <= p.Last; i++ {
			owner, taken := claimed[i]
			require.False(t, taken, "slot %d claimed by %s and %s", i, owner, p.TaskID)
			claimed[i] = fmt.Sprintf("%s/%d", p.TaskID, p.Part)
		}
		prevLast = p.Last
	}
	assert.Len(t, claimed, res.Needed)
}

func TestDistributeIsIdempotent(t *testing.T) {
	grid := weekGrid(t, nil)
	tasks := []Task{task("a", 50), task("b", 200), task("c", 15)}
	first, err := Distribute(grid, tasks)
	require.NoError(t, err)
	second, err := Distribute(grid, tasks)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, "Task a", tasks[0].Title, "input must not be mutated")
}

func TestDistributorCursorCarriesOver(t *testing.T) {
	grid := weekGrid(t, func(c *calendar.Config) { c.WorkdayCount = 1 })
	d := New(grid)
	_, err := d.Distribute([]Task{task("a", 60)})
	require.NoError(t, err)
	assert.Equal(t, 4, d.Cursor())
	_, err = d.Distribute([]Task{task("b", 8 * 60)})
	var ce *CapacityError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 28, ce.Available)
}

func TestOutputIsUTC(t *testing.T) {
	grid := weekGrid(t, func(c *calendar.Config) { c.Timezone = "Europe/Moscow" })
	res, err := Distribute(grid, []Task{task("m", 30)})
	require.NoError(t, err)
	assert.Equal(t, "2024-07-01T06:00:00.000Z", res.Placed[0].Start)
	assert.Equal(t, "2024-07-01T06:30:00.000Z", res.Placed[0].End)
}

func TestAllDayTaskBecomesTimed(t *testing.T) {
	grid := weekGrid(t, nil)
	in := Task{ID: "ad", Title: "Offsite prep", Start: "2024-06-03", End: "2024-06-03T02:00:00", AllDay: true}
	res, err := Distribute(grid, []Task{in})
	require.NoError(t, err)
	require.Len(t, res.Placed, 1)
	assert.False(t, res.Placed[0].AllDay)
	assert.Equal(t, "2024-07-01T11:00:00.000Z", res.Placed[0].End)
}

func TestSlotsNeeded(t *testing.T) {
	assert.Equal(t, 0, SlotsNeeded(0, 15*time.Minute))
	assert.Equal(t, 1, SlotsNeeded(time.Minute, 15*time.Minute))
	assert.Equal(t, 1, SlotsNeeded(15*time.Minute, 15*time.Minute))
	assert.Equal(t, 4, SlotsNeeded(50*time.Minute, 15*time.Minute))
}
