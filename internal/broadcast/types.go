package broadcast

import (
	"context"
	"time"
)

// DefaultDialogLimit is the dialog page size requested per cycle.
const DefaultDialogLimit = 100

// Message is the template read from the account's Saved Messages.
type Message struct {
	ID   int
	Text string
	Date time.Time
}

// Dialog is one entry of the account's dialog list, as reported by the provider.
type Dialog struct {
	ID    int64
	Title string

	Broadcast bool
	Megagroup bool

	// ParticipantCount is only meaningful when HasParticipantCount is set.
	ParticipantCount    int
	HasParticipantCount bool

	// Handle is owned by the Session that produced the dialog (e.g. an input peer).
	Handle any
}

// Session is the authenticated messaging capability used for one run.
//
// A Session is owned exclusively by the run that created it and is never reused.
type Session interface {
	// FetchLatestSelfNote returns the newest Saved Messages entry; ok is false when there is none.
	FetchLatestSelfNote(ctx context.Context) (msg Message, ok bool, err error)
	ListDialogs(ctx context.Context, limit int) ([]Dialog, error)
	SendMessage(ctx context.Context, to Dialog, text string) error
	Disconnect(ctx context.Context) error
}

// Config is the immutable pacing configuration of one run.
type Config struct {
	Delay       time.Duration // between consecutive recipients
	Interval    time.Duration // between cycles
	DialogLimit int
}

// Reason describes why Run returned.
type Reason string

const (
	ReasonStopped       Reason = "stopped"
	ReasonEmptyTemplate Reason = "empty_template"
	ReasonCanceled      Reason = "canceled"
)

// Result summarizes a finished run.
type Result struct {
	Reason  Reason
	Cycles  int
	Sent    int
	Failed  int
	Skipped int
}

// Observer receives per-recipient outcomes. Implementations must be fast and must not panic.
type Observer interface {
	CycleStarted(cycle int)
	Delivered(cycle int, d Dialog, class Class, took time.Duration, err error)
	Skipped(cycle int, d Dialog)
}

// Observers fans out to several observers in order.
type Observers []Observer

func (o Observers) CycleStarted(cycle int) {
	for _, x := range o {
		x.CycleStarted(cycle)
	}
}

func (o Observers) Delivered(cycle int, d Dialog, class Class, took time.Duration, err error) {
	for _, x := range o {
		x.Delivered(cycle, d, class, took, err)
	}
}

func (o Observers) Skipped(cycle int, d Dialog) {
	for _, x := range o {
		x.Skipped(cycle, d)
	}
}
