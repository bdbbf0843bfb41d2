package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is the lifecycle state of a cached job handle.
// The string values are stored verbatim in cache files.
type Status string

const (
	StatusCreated   Status = "created"
	StatusReady     Status = "ready"
	StatusRetrieved Status = "retrieved"
	StatusLoaded    Status = "data_loaded"
	StatusFailed    Status = "failed"
)

// ManualNote marks entries registered through AddExisting.
const ManualNote = "manually added existing job"

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnknownStatus     = errors.New("unknown job status")
)

var allStatuses = []Status{StatusCreated, StatusReady, StatusRetrieved, StatusLoaded, StatusFailed}

func ParseStatus(s string) (Status, error) {
	for _, st := range allStatuses {
		if string(st) == strings.TrimSpace(s) {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusReady, StatusRetrieved, StatusLoaded, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether an entry in status s may move to next.
// Repeating the current status is always allowed. data_loaded only accepts itself.
func (s Status) CanTransition(next Status) bool {
	if !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	switch s {
	case StatusCreated, StatusReady:
		return true
	case StatusRetrieved:
		return next == StatusLoaded || next == StatusFailed
	case StatusFailed:
		// A later successful poll of the same handle revives it.
		return next == StatusRetrieved
	case StatusLoaded:
		return false
	default:
		// Entries written by older tools may carry statuses we do not know.
		return true
	}
}

// Key identifies one unit of cacheable work.
type Key struct {
	TableID string
	Period  string
}

func NewKey(tableID, period string) Key {
	return Key{TableID: strings.TrimSpace(tableID), Period: strings.TrimSpace(period)}
}

// String is the storage key, "<table_id>_<period>".
func (k Key) String() string {
	return k.TableID + "_" + k.Period
}

func (k Key) Validate() error {
	if k.TableID == "" {
		return fmt.Errorf("table id is required")
	}
	if k.Period == "" {
		return fmt.Errorf("period is required")
	}
	return nil
}

// YearPeriod is the canonical period string for a year range.
func YearPeriod(startYear, endYear int) string {
	return strconv.Itoa(startYear) + "-" + strconv.Itoa(endYear)
}

type Entry struct {
	JobID           string     `json:"job_id"`
	TableID         string     `json:"table_id"`
	Period          string     `json:"period"`
	CreatedAt       Timestamp  `json:"created_at"`
	Status          Status     `json:"status"`
	StatusUpdatedAt *Timestamp `json:"status_updated_at,omitempty"`
	Note            string     `json:"note,omitempty"`
}

func (e Entry) Key() Key {
	return Key{TableID: e.TableID, Period: e.Period}
}

// Document is the on-disk layout of one source's cache file.
type Document struct {
	Source      string           `json:"source"`
	Description string           `json:"description"`
	Jobs        map[string]Entry `json:"jobs"`
	CreatedAt   Timestamp        `json:"created_at"`
	UpdatedAt   Timestamp        `json:"updated_at"`
}

// naiveISO is the zone-less ISO 8601 layout found in cache files written by
// earlier tooling, e.g. "2025-03-01T10:15:42.123456".
const naiveISO = "2006-01-02T15:04:05.999999999"

// Timestamp marshals as RFC 3339 and also accepts zone-less ISO 8601.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		t.Time = parsed
		return nil
	}
	parsed, err := time.ParseInLocation(naiveISO, raw, time.Local)
	if err != nil {
		return fmt.Errorf("timestamp %q: %w", raw, err)
	}
	t.Time = parsed
	return nil
}
