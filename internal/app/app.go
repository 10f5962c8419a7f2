package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"castbot/internal/auth"
	"castbot/internal/broadcast"
	"castbot/internal/config"
	"castbot/internal/control"
	"castbot/internal/events"
	"castbot/internal/observability"
	"castbot/internal/runtime/supervisor"
	"castbot/internal/storage"
	"castbot/internal/transport/mtproto"
	logx "castbot/pkg/logx"
)

type Option func(*options)

type options struct {
	connector auth.Connector
	logOut    io.Writer
	lookupEnv func(string) (string, bool)
	notify    func(state string)
}

// WithConnector replaces the MTProto provider (tests, alternative transports).
func WithConnector(c auth.Connector) Option { return func(o *options) { o.connector = c } }

// WithLogOutput sends console logs to w instead of stdout.
func WithLogOutput(w io.Writer) Option { return func(o *options) { o.logOut = w } }

// WithEnv replaces the environment lookup used for credential overrides.
func WithEnv(lookup func(string) (string, bool)) Option {
	return func(o *options) { o.lookupEnv = lookup }
}

// WithNotify replaces the service manager notification (sd_notify by default).
func WithNotify(fn func(state string)) Option { return func(o *options) { o.notify = fn } }

type App struct {
	cfgm *config.ConfigManager
	opts options

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	ledger  *storage.Ledger
	metrics *observability.Metrics
	debug   *observability.Server
	ctrl    *control.Controller
	stream  *events.Stream

	// runs owns run goroutines. It outlives sup so that a cooperative stop
	// can finish after the app context is canceled.
	runs *supervisor.Supervisor
	sup  *supervisor.Supervisor

	ledgerCancel context.CancelFunc
	ledgerDone   chan struct{}
	surfaceDone  chan struct{}
	surfaceErr   error
	started      time.Time
}

func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	if o.lookupEnv != nil {
		cfgm.SetEnv(o.lookupEnv)
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	logCfg := mapLoggingConfig(cfg)
	var (
		logSvc *logx.Service
		log    logx.Logger
	)
	if o.logOut != nil {
		logSvc, log = logx.NewWithConsole(logCfg, o.logOut)
	} else {
		logSvc, log = logx.New(logCfg)
	}
	applog := log.Component("app")

	a := &App{cfgm: cfgm, opts: o, log: applog, logs: logSvc}

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.Component("storage"))
		if err != nil {
			return nil, err
		}
		a.store = st
		a.ledger = storage.NewLedger(st, log.Component("ledger"))
		applog.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	a.metrics = observability.NewMetrics()
	dcfg, err := mapDebugConfig(cfg)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.debug = observability.NewServer(dcfg, a.metrics.Handler(), a.health, log)

	conn := o.connector
	if conn == nil {
		pcfg, err := mapProviderConfig(cfg)
		if err != nil {
			a.closeStore()
			return nil, err
		}
		p, err := mtproto.New(pcfg, log)
		if err != nil {
			a.closeStore()
			return nil, err
		}
		conn = p
	}

	ccfg, err := mapControlConfig(cfg)
	if err != nil {
		a.closeStore()
		return nil, err
	}

	a.stream = events.NewStream()
	a.runs = supervisor.New(context.Background(),
		supervisor.WithLogger(log.Component("runs")),
		supervisor.WithCancelOnError(false),
	)
	listeners := []control.Listener{a.metrics}
	if a.ledger != nil {
		listeners = append(listeners, a.ledger)
	}
	a.ctrl = control.New(ccfg, control.Deps{
		Connector: conn,
		Events: events.Multi{
			a.stream,
			events.LogTo(log.Component("run")),
		},
		Observe:    a.observe,
		Listeners:  listeners,
		Supervisor: a.runs,
		Log:        log,
	})
	return a, nil
}

func (a *App) observe(runID string) broadcast.Observer {
	obs := broadcast.Observers{a.metrics.Observer(runID)}
	if a.ledger != nil {
		obs = append(obs, a.ledger.Observer(runID))
	}
	return obs
}

func (a *App) health() any {
	st := a.ctrl.Status()
	h := map[string]any{
		"state":  st.State.String(),
		"run_id": st.RunID,
		"uptime": time.Since(a.started).Round(time.Second).String(),
	}
	if a.ledger != nil {
		h["ledger_dropped"] = a.ledger.Dropped()
	}
	return h
}

// Config returns the committed config (env overrides applied).
func (a *App) Config() *config.Config { return a.cfgm.Get() }

// Controller exposes the run controller to surfaces and tests.
func (a *App) Controller() *control.Controller { return a.ctrl }

// History returns the run ledger, or nil when storage is disabled.
func (a *App) History() storage.Store { return a.store }

// Logger returns the root logger.
func (a *App) Logger() logx.Logger { return a.log }

// Start brings up background services and the control surface.
func (a *App) Start(ctx context.Context, surface control.Surface) error {
	a.started = time.Now()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.Component("config"))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return Validate(cfg) })

	if a.ledger != nil {
		lctx, cancel := context.WithCancel(context.Background())
		a.ledgerCancel = cancel
		a.ledgerDone = make(chan struct{})
		a.sup.Go0("ledger", func(context.Context) {
			defer close(a.ledgerDone)
			_ = a.ledger.Run(lctx)
		})
	}

	if a.debug.Enabled() {
		if err := a.debug.Start(a.sup.Context()); err != nil {
			return fmt.Errorf("debug server: %w", err)
		}
		a.log.Info("debug server listening", logx.String("addr", a.debug.Addr()))
	}

	sub, unsub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer unsub()
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.surfaceDone = make(chan struct{})
	name := surface.Name()
	a.sup.Go0("surface:"+name, func(c context.Context) {
		defer close(a.surfaceDone)
		a.surfaceErr = surface.Run(c, a.ctrl, a.stream)
	})

	a.notify(daemon.SdNotifyReady)
	a.log.Info("app started", logx.String("surface", name))
	return nil
}

// Run starts the app and blocks until ctx is done or the surface returns,
// then stops it within stopTimeout.
func (a *App) Run(ctx context.Context, surface control.Surface, stopTimeout time.Duration) error {
	if err := a.Start(ctx, surface); err != nil {
		_ = a.Stop(context.Background(), StopFatalError)
		return err
	}

	var (
		runErr error
		reason StopReason
	)
	select {
	case <-ctx.Done():
		reason = StopSignal
	case <-a.surfaceDone:
		reason = StopSurfaceExit
		runErr = a.surfaceErr
	case <-a.sup.Context().Done():
		reason = StopFatalError
		runErr = a.sup.Err()
	}

	sctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	_ = a.Stop(sctx, reason)
	return runErr
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	a.notify(daemon.SdNotifyReloading)
	defer a.notify(daemon.SdNotifyReady)

	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if dcfg, err := mapDebugConfig(newCfg); err != nil {
		a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
	} else {
		a.debug.Reconfigure(ctx, dcfg)
	}

	// Only logging and debug apply live; a run captures its settings at start.
	for _, s := range sections {
		if s != "logging" && s != "debug" {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts down in order: surface, controller (the active run is stopped
// and its session disconnected), debug server, ledger, storage, supervisor.
// Each step is bounded so one component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeStore()
		return nil
	}
	a.notify(daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	if a.surfaceDone != nil {
		a.step(ctx, "surface", 2*time.Second, func(c context.Context) error {
			select {
			case <-a.surfaceDone:
				return nil
			case <-c.Done():
				return c.Err()
			}
		})
	}
	a.step(ctx, "controller", 15*time.Second, func(c context.Context) error {
		err := a.ctrl.Shutdown(c)
		a.runs.Cancel()
		if werr := a.runs.Wait(c); err == nil {
			err = werr
		}
		return err
	})
	a.stream.Close()
	a.step(ctx, "debug", time.Second, func(c context.Context) error {
		a.debug.Stop(c)
		return nil
	})
	if a.ledgerCancel != nil {
		a.step(ctx, "ledger", 3*time.Second, func(c context.Context) error {
			a.ledgerCancel()
			select {
			case <-a.ledgerDone:
				return nil
			case <-c.Done():
				return c.Err()
			}
		})
	}
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.closeStore() })
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs fn with an upper bound that never extends the caller's deadline.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	st := a.store
	a.store = nil
	return st.Close()
}

func (a *App) notify(state string) {
	if a.opts.notify != nil {
		a.opts.notify(state)
		return
	}
	// No-op unless NOTIFY_SOCKET is set.
	if _, err := daemon.SdNotify(false, state); err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
	}
}
