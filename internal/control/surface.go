package control

import (
	"context"
	"time"

	"castbot/internal/auth"
	"castbot/internal/broadcast"
	"castbot/internal/events"
)

// Commands is the inbound half of the control boundary, implemented by Controller.
// Surfaces drive runs through it and never touch the session directly.
type Commands interface {
	Start(req StartRequest) (runID string, err error)
	Stop() bool
	SupplyConfirmationCode(code string) error
	Status() Status
}

// Surface is a control surface: it issues Commands and renders the ordered
// event stream (log lines, state changes, run finished).
type Surface interface {
	Name() string
	// Run blocks until ctx is done or the surface quits.
	Run(ctx context.Context, cmd Commands, stream *events.Stream) error
}

// StartRequest carries the start parameters as supplied by the operator.
// Pacing values are unparsed text; Start rejects malformed input with *broadcast.ConfigError.
type StartRequest struct {
	Credentials auth.Credentials
	Delay       string
	Interval    string
	DialogLimit int
}

// Summary describes one finished run.
type Summary struct {
	RunID     string
	StartedAt time.Time
	EndedAt   time.Time
	State     State
	Pacing    broadcast.Config
	Result    broadcast.Result
	Err       error
}

// Status is a point-in-time snapshot of the controller.
type Status struct {
	State     State
	RunID     string
	StartedAt time.Time
	Pacing    broadcast.Config
	Last      *Summary
}

// Listener observes run lifecycle. Calls happen with the controller's lock held:
// implementations must be fast and must not call back into the Controller.
type Listener interface {
	StateChanged(runID string, s State)
	RunFinished(s Summary)
}
