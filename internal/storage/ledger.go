package storage

import (
	"context"
	"sync/atomic"
	"time"

	"castbot/internal/broadcast"
	"castbot/internal/control"
	"castbot/pkg/logx"
)

// Ledger feeds a Store from the dispatcher and controller hooks.
//
// Hooks only enqueue; a single worker (Run) performs the writes so that a slow
// disk never delays a send or holds the controller lock. A full queue drops
// records with a warning.
type Ledger struct {
	store   Store
	log     logx.Logger
	queue   chan func(ctx context.Context) error
	dropped atomic.Uint64
}

func NewLedger(store Store, log logx.Logger) *Ledger {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Ledger{store: store, log: log, queue: make(chan func(ctx context.Context) error, 1024)}
}

// Dropped returns the number of records lost to a full queue.
func (l *Ledger) Dropped() uint64 { return l.dropped.Load() }

// Run writes queued records until ctx is done, then drains what is left
// with a short deadline. No write ever sees the canceled ctx.
func (l *Ledger) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.drain()
			return nil
		case op := <-l.queue:
			if ctx.Err() != nil {
				l.drain(op)
				return nil
			}
			l.exec(ctx, op)
		}
	}
}

// drain runs pending, then whatever is still queued.
func (l *Ledger) drain(pending ...func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, op := range pending {
		l.exec(ctx, op)
	}
	for {
		select {
		case op := <-l.queue:
			l.exec(ctx, op)
		default:
			return
		}
	}
}

func (l *Ledger) exec(ctx context.Context, op func(ctx context.Context) error) {
	if err := op(ctx); err != nil {
		l.log.Warn("ledger write failed", logx.Err(err))
	}
}

func (l *Ledger) enqueue(op func(ctx context.Context) error) {
	if l == nil || l.store == nil {
		return
	}
	select {
	case l.queue <- op:
	default:
		if n := l.dropped.Add(1); n == 1 || n%100 == 0 {
			l.log.Warn("ledger queue full, record dropped", logx.Uint64("dropped", n))
		}
	}
}

// Observer returns the per-run delivery hook.
func (l *Ledger) Observer(runID string) broadcast.Observer {
	return ledgerObserver{l: l, runID: runID}
}

func (l *Ledger) StateChanged(string, control.State) {}

func (l *Ledger) RunFinished(s control.Summary) {
	r := Run{
		ID:          s.RunID,
		StartedAt:   s.StartedAt,
		EndedAt:     s.EndedAt,
		State:       s.State.String(),
		Reason:      string(s.Result.Reason),
		DelaySec:    int64(s.Pacing.Delay / time.Second),
		IntervalSec: int64(s.Pacing.Interval / time.Second),
		Cycles:      s.Result.Cycles,
		Sent:        s.Result.Sent,
		Failed:      s.Result.Failed,
		Skipped:     s.Result.Skipped,
	}
	if s.Err != nil {
		r.Error = s.Err.Error()
	}
	l.enqueue(func(ctx context.Context) error { return l.store.RecordRun(ctx, r) })
}

type ledgerObserver struct {
	l     *Ledger
	runID string
}

func (o ledgerObserver) CycleStarted(int) {}

func (o ledgerObserver) Delivered(cycle int, d broadcast.Dialog, class broadcast.Class, took time.Duration, err error) {
	rec := Delivery{
		RunID:    o.runID,
		Cycle:    cycle,
		At:       time.Now(),
		DialogID: d.ID,
		Title:    d.Title,
		Class:    class.String(),
		Outcome:  OutcomeSent,
		TookMS:   took.Milliseconds(),
	}
	if err != nil {
		rec.Outcome = OutcomeFailed
		rec.Error = err.Error()
	}
	o.l.enqueue(func(ctx context.Context) error { return o.l.store.RecordDelivery(ctx, rec) })
}

func (o ledgerObserver) Skipped(cycle int, d broadcast.Dialog) {
	rec := Delivery{
		RunID:    o.runID,
		Cycle:    cycle,
		At:       time.Now(),
		DialogID: d.ID,
		Title:    d.Title,
		Class:    broadcast.Ineligible.String(),
		Outcome:  OutcomeSkipped,
	}
	o.l.enqueue(func(ctx context.Context) error { return o.l.store.RecordDelivery(ctx, rec) })
}
