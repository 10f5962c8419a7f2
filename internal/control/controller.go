package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"castbot/internal/auth"
	"castbot/internal/broadcast"
	"castbot/internal/events"
	"castbot/internal/runtime/supervisor"
	"castbot/pkg/logx"
)

var (
	ErrAlreadyRunning = errors.New("a broadcast run is already active")
	// ErrNoChallenge is returned when a code arrives with no authentication in progress.
	ErrNoChallenge = auth.ErrNoChallenge
)

type Config struct {
	CodeTimeout       time.Duration
	DialogLimit       int
	DisconnectTimeout time.Duration
	// HardStopGrace bounds the wait after Shutdown cancels in-flight calls.
	HardStopGrace time.Duration
}

type Deps struct {
	Connector auth.Connector
	Events    events.Emitter
	// Observe returns the per-run dispatcher observer (metrics, ledger). Optional.
	Observe    func(runID string) broadcast.Observer
	Listeners  []Listener
	Supervisor *supervisor.Supervisor
	Log        logx.Logger
}

// Controller owns the single run slot of the process.
type Controller struct {
	cfg  Config
	deps Deps
	auth *auth.Authenticator
	log  logx.Logger

	mu    sync.Mutex
	state State
	run   *run
	last  *Summary
}

type run struct {
	id      string
	started time.Time
	creds   auth.Credentials
	pacing  broadcast.Config
	stop    *broadcast.StopSignal
	box     *auth.CodeBox
	report  events.Reporter

	authCtx    context.Context
	authCancel context.CancelFunc
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

func New(cfg Config, deps Deps) *Controller {
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = 10 * time.Second
	}
	if cfg.HardStopGrace <= 0 {
		cfg.HardStopGrace = 5 * time.Second
	}
	if cfg.DialogLimit <= 0 {
		cfg.DialogLimit = broadcast.DefaultDialogLimit
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.Component("control")
	return &Controller{
		cfg:   cfg,
		deps:  deps,
		auth:  auth.New(auth.Config{CodeTimeout: cfg.CodeTimeout}, deps.Connector, log),
		log:   log,
		state: Idle,
	}
}

// Start validates the request and launches a new run on its own goroutine.
// Invalid pacing or credentials are rejected with *broadcast.ConfigError before
// any session exists; a second Start while a run is active returns ErrAlreadyRunning.
func (c *Controller) Start(req StartRequest) (string, error) {
	pacing, err := broadcast.ParsePacing(req.Delay, req.Interval)
	if err != nil {
		return "", err
	}
	pacing.DialogLimit = c.cfg.DialogLimit
	if req.DialogLimit > 0 {
		pacing.DialogLimit = req.DialogLimit
	}
	if err := req.Credentials.Validate(); err != nil {
		return "", &broadcast.ConfigError{Field: "credentials", Value: auth.MaskPhone(req.Credentials.Phone), Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Active() {
		return "", ErrAlreadyRunning
	}

	base := context.Background()
	if c.deps.Supervisor != nil {
		base = c.deps.Supervisor.Context()
	}
	id := uuid.NewString()
	r := &run{
		id:      id,
		started: time.Now(),
		creds:   req.Credentials,
		pacing:  pacing,
		stop:    broadcast.NewStopSignal(),
		box:     auth.NewCodeBox(),
		report:  events.Reporter{Out: c.deps.Events, RunID: id},
		done:    make(chan struct{}),
	}
	r.ctx, r.cancel = context.WithCancel(base)
	r.authCtx, r.authCancel = context.WithCancel(r.ctx)
	c.run = r

	r.report.Infof("starting bot...")
	c.setStateLocked(r, Authenticating)
	c.log.Info("run starting",
		logx.String("run_id", id),
		logx.Duration("delay", pacing.Delay),
		logx.Duration("interval", pacing.Interval),
	)

	if c.deps.Supervisor != nil {
		c.deps.Supervisor.Go0("run:"+id, func(context.Context) { c.execute(r) })
	} else {
		go c.execute(r)
	}
	return id, nil
}

// Stop requests a cooperative stop of the active run. It returns false, with no
// observable effect, when there is no active run or a stop is already pending.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.run
	if r == nil || !c.state.Active() || c.state == Stopping {
		return false
	}
	prev := c.state
	r.report.Infof("stopping bot...")
	c.setStateLocked(r, Stopping)
	r.stop.Stop()
	if prev == Authenticating || prev == AwaitingCode {
		r.authCancel()
	}
	c.log.Info("stop requested", logx.String("run_id", r.id), logx.String("from", prev.String()))
	return true
}

// SupplyConfirmationCode hands the code to the run's pending challenge.
// A code may arrive before the provider asks for it; it is kept for that run.
func (c *Controller) SupplyConfirmationCode(code string) error {
	c.mu.Lock()
	r := c.run
	st := c.state
	c.mu.Unlock()
	if r == nil || (st != Authenticating && st != AwaitingCode) {
		return ErrNoChallenge
	}
	return r.box.Supply(code)
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{State: c.state}
	if c.run != nil {
		st.RunID = c.run.id
		st.StartedAt = c.run.started
		st.Pacing = c.run.pacing
	}
	if c.last != nil {
		last := *c.last
		st.Last = &last
	}
	return st
}

// Wait blocks until the current run (if any) has finished or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the active run cooperatively and waits for it. When ctx expires
// first, in-flight provider calls are canceled and the run gets HardStopGrace to exit.
// The session is disconnected on every path.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.Stop()
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	if r == nil {
		return nil
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
	}

	c.log.Warn("run did not stop in time, canceling in-flight calls", logx.String("run_id", r.id))
	r.cancel()
	t := time.NewTimer(c.cfg.HardStopGrace)
	defer t.Stop()
	select {
	case <-r.done:
		return nil
	case <-t.C:
		return fmt.Errorf("run %s: %w", r.id, ctx.Err())
	}
}

func (c *Controller) execute(r *run) {
	finished := false
	defer func() {
		if p := recover(); p != nil {
			c.log.Error("run panicked", logx.String("run_id", r.id), logx.Any("panic", p))
			if !finished {
				r.report.Errorf("internal error: %v", p)
				c.finish(r, Failed, broadcast.Result{}, fmt.Errorf("panic: %v", p))
			}
		}
	}()

	sess, err := c.auth.Authenticate(r.authCtx, r.creds, r.box, r.report, func() {
		c.mu.Lock()
		c.setStateLocked(r, AwaitingCode)
		c.mu.Unlock()
	})
	r.authCancel()
	if err != nil {
		if r.stop.Stopped() {
			r.report.Infof("bot stopped")
			finished = true
			c.finish(r, Stopped, broadcast.Result{Reason: broadcast.ReasonStopped}, nil)
			return
		}
		r.report.Errorf("authentication failed: %v", err)
		finished = true
		c.finish(r, Failed, broadcast.Result{}, err)
		return
	}

	c.mu.Lock()
	c.setStateLocked(r, Dispatching)
	c.mu.Unlock()

	var obs broadcast.Observer
	if c.deps.Observe != nil {
		obs = c.deps.Observe(r.id)
	}
	d := broadcast.NewDispatcher(r.pacing, sess, broadcast.Deps{
		Stop:     r.stop,
		Report:   r.report,
		Observer: obs,
		Log:      c.log.With(logx.String("run_id", r.id)),
	})

	res, runErr := c.dispatch(r, d)
	c.disconnect(r, sess)

	state := Stopped
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		state = Failed
	}
	if runErr != nil && errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	finished = true
	c.finish(r, state, res, runErr)
}

func (c *Controller) dispatch(r *run, d *broadcast.Dispatcher) (res broadcast.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.report.Errorf("internal error: %v", p)
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return d.Run(r.ctx)
}

func (c *Controller) disconnect(r *run, sess broadcast.Session) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), c.cfg.DisconnectTimeout)
	defer cancel()
	if err := sess.Disconnect(ctx); err != nil {
		c.log.Warn("disconnect failed", logx.String("run_id", r.id), logx.Err(err))
	}
}

func (c *Controller) finish(r *run, state State, res broadcast.Result, err error) {
	sum := Summary{
		RunID:     r.id,
		StartedAt: r.started,
		EndedAt:   time.Now(),
		State:     state,
		Pacing:    r.pacing,
		Result:    res,
		Err:       err,
	}

	c.mu.Lock()
	c.setStateLocked(r, state)
	c.last = &sum
	if c.deps.Events != nil {
		c.deps.Events.Emit(events.Event{Kind: events.KindRunFinished, Time: sum.EndedAt, RunID: r.id, State: state.String()})
	}
	for _, l := range c.deps.Listeners {
		l.RunFinished(sum)
	}
	c.mu.Unlock()

	r.cancel()
	close(r.done)

	fields := []logx.Field{
		logx.String("run_id", r.id),
		logx.String("state", state.String()),
		logx.String("reason", string(res.Reason)),
		logx.Int("cycles", res.Cycles),
		logx.Int("sent", res.Sent),
		logx.Int("failed", res.Failed),
		logx.Int("skipped", res.Skipped),
		logx.Duration("dur", sum.EndedAt.Sub(sum.StartedAt)),
	}
	if err != nil {
		c.log.Warn("run finished", append(fields, logx.Err(err))...)
		return
	}
	c.log.Info("run finished", fields...)
}

// setStateLocked moves the run to s. A pending stop is never overwritten by a
// non-terminal state.
func (c *Controller) setStateLocked(r *run, s State) {
	if c.run != r {
		return
	}
	if c.state == Stopping && !s.Terminal() {
		return
	}
	if c.state == s {
		return
	}
	c.state = s
	if c.deps.Events != nil {
		c.deps.Events.Emit(events.Event{Kind: events.KindState, Time: time.Now(), RunID: r.id, State: s.String()})
	}
	for _, l := range c.deps.Listeners {
		l.StateChanged(r.id, s)
	}
}
