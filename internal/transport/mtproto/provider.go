package mtproto

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/gotd/td/bin"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	tgauth "github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"castbot/internal/auth"
	"castbot/internal/broadcast"
	"castbot/pkg/logx"
)

type Config struct {
	SessionFile string
	// RatePerSec caps outgoing RPCs; 0 disables the limiter.
	RatePerSec float64
	// LogLevel enables gotd's own logging (debug, info, warn, error). Empty keeps it silent.
	LogLevel string
	// TeardownTimeout bounds the wait for the connection loop after a failed login.
	TeardownTimeout time.Duration
}

// Provider implements auth.Connector.
type Provider struct {
	cfg Config
	log logx.Logger
	zl  *zap.Logger
}

func New(cfg Config, log logx.Logger) (*Provider, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.SessionFile) == "" {
		cfg.SessionFile = "castbot.session.json"
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = 10 * time.Second
	}
	zl, err := newZap(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return &Provider{cfg: cfg, log: log.Component("mtproto"), zl: zl}, nil
}

func newZap(level string) (*zap.Logger, error) {
	level = strings.TrimSpace(level)
	if level == "" || strings.EqualFold(level, "off") {
		return zap.NewNop(), nil
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	core := zapcore.NewCore(enc, zapcore.AddSync(logx.Stderr()), lvl)
	return zap.New(core).Named("mtproto"), nil
}

// Authenticate connects, logs in if the stored session is not authorized, and
// returns a live session. code is invoked only when Telegram sends a login code.
// Canceling ctx aborts the login and tears the connection down.
func (p *Provider) Authenticate(ctx context.Context, creds auth.Credentials, code auth.CodeFunc) (broadcast.Session, error) {
	opts := telegram.Options{
		Logger:         p.zl,
		SessionStorage: &session.FileStorage{Path: filepath.Clean(p.cfg.SessionFile)},
	}
	if p.cfg.RatePerSec > 0 {
		opts.Middlewares = append(opts.Middlewares, rateLimit(p.cfg.RatePerSec))
	}
	client := telegram.NewClient(creds.APIID, creds.APIHash, opts)

	// The session outlives the Authenticate call; only the login is bound to ctx.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &mtSession{api: client.API(), cancel: cancel, done: make(chan struct{}), log: p.log}
	ready := make(chan error, 1)

	go func() {
		defer close(s.done)
		err := client.Run(runCtx, func(rctx context.Context) error {
			actx, acancel := context.WithCancel(rctx)
			unbind := context.AfterFunc(ctx, acancel)
			flow := tgauth.NewFlow(
				tgauth.Constant(creds.Phone, creds.Password, tgauth.CodeAuthenticatorFunc(
					func(cctx context.Context, _ *tg.AuthSentCode) (string, error) { return code(cctx) },
				)),
				tgauth.SendCodeOptions{},
			)
			err := client.Auth().IfNecessary(actx, flow)
			unbind()
			acancel()
			if err != nil {
				return err
			}
			ready <- nil
			<-rctx.Done()
			return rctx.Err()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			p.log.Debug("client loop exited", logx.Err(err))
		}
		select {
		case ready <- connErr(err, ctx):
		default:
		}
	}()

	select {
	case err := <-ready:
		if err == nil {
			p.log.Info("session ready", logx.String("session_file", p.cfg.SessionFile))
			return s, nil
		}
		p.teardown(s)
		return nil, err
	case <-ctx.Done():
		p.teardown(s)
		return nil, ctx.Err()
	}
}

func connErr(err error, ctx context.Context) error {
	if err == nil {
		return errors.New("connection closed before login finished")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *Provider) teardown(s *mtSession) {
	s.cancel()
	t := time.NewTimer(p.cfg.TeardownTimeout)
	defer t.Stop()
	select {
	case <-s.done:
	case <-t.C:
		p.log.Warn("client loop did not exit in time")
	}
}

// rateLimit spaces RPCs with a token bucket (burst = rate).
func rateLimit(perSec float64) telegram.Middleware {
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	lim := rate.NewLimiter(rate.Limit(perSec), burst)
	return telegram.MiddlewareFunc(func(next tg.Invoker) telegram.InvokeFunc {
		return func(ctx context.Context, input bin.Encoder, output bin.Decoder) error {
			if err := lim.Wait(ctx); err != nil {
				return err
			}
			return next.Invoke(ctx, input, output)
		}
	})
}
