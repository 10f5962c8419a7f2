package broadcast

import (
	"sync"
	"sync/atomic"
)

// StopSignal is the cooperative stop flag shared between the control surface and the run.
// Setting it never interrupts an in-flight send; it is observed at checkpoints and wakes
// pacing waits.
type StopSignal struct {
	set  atomic.Bool
	once sync.Once
	ch   chan struct{}
}

func NewStopSignal() *StopSignal {
	return &StopSignal{ch: make(chan struct{})}
}

// Stop sets the flag. It reports whether this call was the one that set it.
func (s *StopSignal) Stop() bool {
	first := false
	s.once.Do(func() {
		s.set.Store(true)
		close(s.ch)
		first = true
	})
	return first
}

func (s *StopSignal) Stopped() bool { return s.set.Load() }

// Done is closed once Stop has been called.
func (s *StopSignal) Done() <-chan struct{} { return s.ch }
