package distribute

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the wire format for task start/end.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Task is one calendar event. Fields other than the known ones are kept in
// Extra and written back unchanged. Planned marks a part produced by an
// earlier pass; it keeps its slots and is not split again.
type Task struct {
	ID      string                     `json:"id" binding:"required"`
	Title   string                     `json:"title" binding:"required"`
	Start   string                     `json:"start,omitempty"`
	End     string                     `json:"end,omitempty"`
	AllDay  bool                       `json:"allDay"`
	Planned bool                       `json:"planned,omitempty"`
	Extra   map[string]json.RawMessage `json:"-"`
}

var knownKeys = []string{"id", "title", "start", "end", "allDay", "planned"}

func (t *Task) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*t = Task{}
	if v, ok := raw["id"]; ok {
		t.ID = looseString(v)
	}
	if v, ok := raw["title"]; ok {
		t.Title = looseString(v)
	}
	if v, ok := raw["start"]; ok {
		t.Start = looseString(v)
	}
	if v, ok := raw["end"]; ok {
		t.End = looseString(v)
	}
	if v, ok := raw["allDay"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &t.AllDay); err != nil {
			return fmt.Errorf("allDay: %w", err)
		}
	}
	if v, ok := raw["planned"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &t.Planned); err != nil {
			return fmt.Errorf("planned: %w", err)
		}
	}
	for _, k := range knownKeys {
		delete(raw, k)
	}
	if len(raw) > 0 {
		t.Extra = raw
	}
	return nil
}

func (t Task) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(t.Extra)+len(knownKeys))
	for k, v := range t.Extra {
		out[k] = v
	}
	out["id"] = t.ID
	out["title"] = t.Title
	if t.Start != "" {
		out["start"] = t.Start
	}
	if t.End != "" {
		out["end"] = t.End
	}
	out["allDay"] = t.AllDay
	if t.Planned {
		out["planned"] = true
	}
	return json.Marshal(out)
}

// looseString accepts JSON strings and, for ids written as numbers, the raw
// literal. null reads as empty.
func looseString(v json.RawMessage) string {
	if isNull(v) {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(v))
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// ParseTimestamp accepts RFC 3339 timestamps as well as zone-less and
// date-only values, which are read in loc.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// FormatTimestamp renders t in UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
