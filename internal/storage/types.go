package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines files next to Path
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Outcome of one recipient in one cycle.
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Delivery records one send attempt or skip.
type Delivery struct {
	RunID    string    `json:"run_id"`
	Cycle    int       `json:"cycle"`
	At       time.Time `json:"at"`
	DialogID int64     `json:"dialog_id"`
	Title    string    `json:"title"`
	Class    string    `json:"class"`
	Outcome  Outcome   `json:"outcome"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms,omitempty"`
}

// Run is the summary of one finished run. RecordRun upserts by ID.
type Run struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	State       string    `json:"state"`
	Reason      string    `json:"reason,omitempty"`
	DelaySec    int64     `json:"delay_sec"`
	IntervalSec int64     `json:"interval_sec"`
	Cycles      int       `json:"cycles"`
	Sent        int       `json:"sent"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	Error       string    `json:"error,omitempty"`
}
