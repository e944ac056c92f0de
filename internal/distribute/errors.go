package distribute

import (
	"errors"
	"fmt"
)

// ErrCapacityExceeded aborts a whole batch before anything is placed.
var ErrCapacityExceeded = errors.New("capacity exceeded")

// CapacityError reports how far a batch overshoots the grid.
type CapacityError struct {
	Needed    int
	Available int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("too many events: %d slots needed, %d available", e.Needed, e.Available)
}

func (e *CapacityError) Unwrap() error { return ErrCapacityExceeded }

// Reason classifies why a task, or the rest of it, was not placed.
type Reason string

const (
	ReasonMissingTimestamps Reason = "MissingTimestamps"
	ReasonInvalidTimestamps Reason = "InvalidTimestamps"
	ReasonInvalidDuration   Reason = "InvalidDuration"
	ReasonInsufficientSlots Reason = "InsufficientSlots"
	ReasonUnplaceable       Reason = "Unplaceable"
)

// Rejection is a non-fatal per-task failure. RemainingSlots is the number of
// slots that were not placed.
type Rejection struct {
	TaskID         string `json:"id"`
	Title          string `json:"title"`
	Reason         Reason `json:"reason"`
	Detail         string `json:"detail,omitempty"`
	RemainingSlots int    `json:"remaining_slots,omitempty"`
}
