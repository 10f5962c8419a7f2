package events

import (
	"fmt"
	"time"
)

// Kind separates log lines from lifecycle signals sharing the same ordered stream.
type Kind string

const (
	KindLog         Kind = "log"
	KindState       Kind = "state"
	KindRunFinished Kind = "run_finished"
)

// Level is advisory only: it drives rendering and logging, never control flow.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is one entry of the run's append-only event stream.
type Event struct {
	Kind  Kind
	Time  time.Time
	Level Level
	RunID string
	Text  string

	// State is set for KindState and KindRunFinished.
	State string
}

// Emitter accepts events. Implementations must not block the producer for long
// and must preserve emission order.
type Emitter interface {
	Emit(e Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(e Event)

func (f EmitterFunc) Emit(e Event) { f(e) }

// Reporter stamps run-scoped log lines onto an Emitter.
type Reporter struct {
	Out   Emitter
	RunID string
}

func (r Reporter) emit(level Level, format string, args ...any) {
	if r.Out == nil {
		return
	}
	text := format
	if len(args) > 0 {
		text = fmt.Sprintf(format, args...)
	}
	r.Out.Emit(Event{Kind: KindLog, Time: time.Now(), Level: level, RunID: r.RunID, Text: text})
}

func (r Reporter) Infof(format string, args ...any)  { r.emit(LevelInfo, format, args...) }
func (r Reporter) Warnf(format string, args ...any)  { r.emit(LevelWarn, format, args...) }
func (r Reporter) Errorf(format string, args ...any) { r.emit(LevelError, format, args...) }
