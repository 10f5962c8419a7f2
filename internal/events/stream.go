package events

import (
	"context"
	"sync"
	"time"
)

// Stream is an in-memory, ordered, lossless queue between one producer side
// (the run) and one consumer (the control surface).
//
// Contract:
//   - Emit never blocks on the consumer.
//   - Events are delivered exactly once, in emission order.
//   - After Close, remaining events are still drained before Run returns.
type Stream struct {
	mu     sync.Mutex
	buf    []Event
	closed bool
	notify chan struct{}
}

func NewStream() *Stream {
	return &Stream{notify: make(chan struct{}, 1)}
}

func (s *Stream) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.buf = append(s.buf, e)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Close stops accepting events. Pending events are still delivered.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of undelivered events.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Run delivers events to fn until the stream is closed and drained, or ctx is done.
// Only one Run may be active at a time.
func (s *Stream) Run(ctx context.Context, fn func(Event)) error {
	for {
		s.mu.Lock()
		batch := s.buf
		s.buf = nil
		closed := s.closed
		s.mu.Unlock()

		for _, e := range batch {
			fn(e)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.notify:
		}
	}
}
