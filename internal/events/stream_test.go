package events

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestStreamPreservesOrderAndDrainsOnClose(t *testing.T) {
	s := NewStream()
	const n = 500

	var got []string
	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background(), func(e Event) { got = append(got, e.Text) })
	}()

	for i := 0; i < n; i++ {
		s.Emit(Event{Kind: KindLog, Text: fmt.Sprint(i)})
	}
	s.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	if len(got) != n {
		t.Fatalf("delivered %d events, want %d", len(got), n)
	}
	for i, text := range got {
		if text != fmt.Sprint(i) {
			t.Fatalf("event %d = %q, out of order", i, text)
		}
	}
}

func TestStreamEmitAfterCloseIsDropped(t *testing.T) {
	s := NewStream()
	s.Close()
	s.Emit(Event{Text: "late"})
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
}

func TestStreamRunStopsOnContext(t *testing.T) {
	s := NewStream()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	var err error
	go func() {
		defer wg.Done()
		err = s.Run(ctx, func(Event) {})
	}()
	cancel()
	wg.Wait()
	if err != context.Canceled {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
}

func TestReporterStampsRunID(t *testing.T) {
	var got []Event
	r := Reporter{Out: EmitterFunc(func(e Event) { got = append(got, e) }), RunID: "run-1"}
	r.Warnf("skipped: %s", "B")
	if len(got) != 1 {
		t.Fatalf("got %d events", len(got))
	}
	if got[0].RunID != "run-1" || got[0].Level != LevelWarn || got[0].Text != "skipped: B" {
		t.Fatalf("unexpected event: %+v", got[0])
	}
}

func TestMultiFansOutInOrder(t *testing.T) {
	var a, b []string
	m := Multi{
		EmitterFunc(func(e Event) { a = append(a, e.Text) }),
		nil,
		EmitterFunc(func(e Event) { b = append(b, e.Text) }),
	}
	r := Reporter{Out: m, RunID: "r"}
	r.Infof("one")
	r.Errorf("two %d", 2)
	if len(a) != 2 || len(b) != 2 || a[1] != "two 2" || b[0] != "one" {
		t.Fatalf("a=%v b=%v", a, b)
	}
}
