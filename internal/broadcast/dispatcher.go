package broadcast

import (
	"context"
	"fmt"
	"time"

	"castbot/internal/events"
	"castbot/pkg/logx"
)

// Deps are the collaborators of a Dispatcher besides its Session.
type Deps struct {
	Stop     *StopSignal
	Report   events.Reporter
	Observer Observer
	Log      logx.Logger
}

// Dispatcher runs the repeating send cycle for one run. It is single-threaded:
// fetch, enumerate, classify, send and wait all happen in order on the caller's goroutine.
type Dispatcher struct {
	cfg     Config
	session Session
	stop    *StopSignal
	report  events.Reporter
	obs     Observer
	log     logx.Logger
}

func NewDispatcher(cfg Config, session Session, deps Deps) *Dispatcher {
	if cfg.DialogLimit <= 0 {
		cfg.DialogLimit = DefaultDialogLimit
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if cfg.Interval < 0 {
		cfg.Interval = 0
	}
	stop := deps.Stop
	if stop == nil {
		stop = NewStopSignal()
	}
	obs := deps.Observer
	if obs == nil {
		obs = Observers(nil)
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{cfg: cfg, session: session, stop: stop, report: deps.Report, obs: obs, log: log}
}

// Run loops over cycles until the stop signal is observed, the template is missing,
// or ctx is canceled. ctx is the hard-cancel path (process shutdown); the cooperative
// stop never cancels an in-flight call.
func (d *Dispatcher) Run(ctx context.Context) (Result, error) {
	var res Result
	for {
		if d.stop.Stopped() {
			d.report.Infof("bot stopped")
			res.Reason = ReasonStopped
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			res.Reason = ReasonCanceled
			return res, err
		}

		res.Cycles++
		cycle := res.Cycles
		d.obs.CycleStarted(cycle)
		start := time.Now()

		tmpl, ok, err := d.session.FetchLatestSelfNote(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			d.log.Warn("template fetch failed", logx.Int("cycle", cycle), logx.Err(err))
			d.report.Errorf("failed to read Saved Messages: %v", err)
		case !ok || tmpl.Text == "":
			d.report.Infof(`no messages in "Saved Messages"; broadcast not performed`)
			res.Reason = ReasonEmptyTemplate
			return res, nil
		default:
			d.runCycle(ctx, cycle, tmpl.Text, &res)
		}

		d.log.Debug("cycle finished",
			logx.Int("cycle", cycle),
			logx.Int("sent", res.Sent),
			logx.Int("failed", res.Failed),
			logx.Int("skipped", res.Skipped),
			logx.Duration("dur", time.Since(start)),
		)

		if d.stop.Stopped() || ctx.Err() != nil {
			continue
		}
		d.report.Infof("waiting %s before the next broadcast", formatSeconds(d.cfg.Interval))
		d.wait(ctx, d.cfg.Interval)
	}
}

func (d *Dispatcher) runCycle(ctx context.Context, cycle int, text string, res *Result) {
	dialogs, err := d.session.ListDialogs(ctx, d.cfg.DialogLimit)
	if err != nil {
		if ctx.Err() == nil {
			d.log.Warn("dialog list failed", logx.Int("cycle", cycle), logx.Err(err))
			d.report.Errorf("failed to list dialogs: %v", err)
		}
		return
	}

	for i, dlg := range dialogs {
		class := Classify(dlg)
		if !class.Eligible() {
			res.Skipped++
			d.obs.Skipped(cycle, dlg)
			d.report.Infof("skipped: %s (not a group or channel)", dlg.Title)
			continue
		}

		d.sendOne(ctx, cycle, dlg, class, text, res)

		if d.stop.Stopped() {
			d.report.Infof("broadcast stopped")
			return
		}
		if ctx.Err() != nil {
			return
		}
		// No pacing wait after the final dialog of the page; the batch interval follows.
		if i == len(dialogs)-1 {
			return
		}
		if !d.wait(ctx, d.cfg.Delay) {
			if d.stop.Stopped() {
				d.report.Infof("broadcast stopped")
			}
			return
		}
	}
}

func (d *Dispatcher) sendOne(ctx context.Context, cycle int, dlg Dialog, class Class, text string, res *Result) {
	start := time.Now()
	err := d.session.SendMessage(ctx, dlg, text)
	took := time.Since(start)
	d.obs.Delivered(cycle, dlg, class, took, err)

	if err != nil {
		res.Failed++
		serr := &RecipientSendError{DialogID: dlg.ID, Title: dlg.Title, Err: err}
		d.log.Warn("send failed",
			logx.Int("cycle", cycle),
			logx.Int64("dialog_id", dlg.ID),
			logx.String("class", class.String()),
			logx.Err(serr),
		)
		d.report.Errorf("failed to send message to %s: %v", dlg.Title, err)
		return
	}

	res.Sent++
	d.log.Debug("sent",
		logx.Int("cycle", cycle),
		logx.Int64("dialog_id", dlg.ID),
		logx.String("class", class.String()),
		logx.Duration("took", took),
	)
	if class == LargeGroup {
		d.report.Infof("message sent to group: %s", dlg.Title)
	} else {
		d.report.Infof("message sent to group/channel: %s", dlg.Title)
	}
}

// wait suspends for dur. It returns false when woken early by the stop signal or ctx.
func (d *Dispatcher) wait(ctx context.Context, dur time.Duration) bool {
	if d.stop.Stopped() || ctx.Err() != nil {
		return false
	}
	if dur <= 0 {
		return true
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-d.stop.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

func formatSeconds(d time.Duration) string {
	if d%time.Second == 0 {
		n := int64(d / time.Second)
		if n == 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", n)
	}
	return d.String()
}
