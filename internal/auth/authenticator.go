package auth

import (
	"context"
	"errors"
	"time"

	"castbot/internal/broadcast"
	"castbot/internal/events"
	"castbot/pkg/logx"
)

// DefaultCodeTimeout bounds the wait for the confirmation code.
const DefaultCodeTimeout = 5 * time.Minute

// CodeFunc yields the confirmation code once a human has supplied it.
// It is invoked by the Connector only when the provider asks for a code.
type CodeFunc func(ctx context.Context) (string, error)

// Connector performs the provider handshake and returns an authenticated session.
type Connector interface {
	Authenticate(ctx context.Context, creds Credentials, code CodeFunc) (broadcast.Session, error)
}

type Config struct {
	CodeTimeout time.Duration
}

// Authenticator wraps a Connector with the confirmation-code challenge.
type Authenticator struct {
	cfg  Config
	conn Connector
	log  logx.Logger
}

func New(cfg Config, conn Connector, log logx.Logger) *Authenticator {
	if cfg.CodeTimeout <= 0 {
		cfg.CodeTimeout = DefaultCodeTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Authenticator{cfg: cfg, conn: conn, log: log}
}

// Challenge is called when the provider starts waiting for a confirmation code.
type Challenge func()

// Authenticate returns a session or an *AuthError. Canceling ctx aborts the
// handshake, including a pending code wait.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials, box *CodeBox, report events.Reporter, onChallenge Challenge) (broadcast.Session, error) {
	if err := creds.Validate(); err != nil {
		return nil, &AuthError{Phone: creds.Phone, Err: err}
	}
	if box == nil {
		box = NewCodeBox()
	}
	log := a.log.With(logx.String("phone", MaskPhone(creds.Phone)))

	code := func(ctx context.Context) (string, error) {
		report.Infof("enter the confirmation code sent to your number")
		if onChallenge != nil {
			onChallenge()
		}
		log.Info("awaiting confirmation code", logx.Duration("timeout", a.cfg.CodeTimeout))
		c, err := box.Wait(ctx, a.cfg.CodeTimeout)
		if errors.Is(err, ErrCodeTimeout) {
			report.Errorf("confirmation code not received within %s", a.cfg.CodeTimeout)
		}
		return c, err
	}

	start := time.Now()
	sess, err := a.conn.Authenticate(ctx, creds, code)
	if err != nil {
		log.Warn("authentication failed", logx.Duration("dur", time.Since(start)), logx.Err(err))
		return nil, &AuthError{Phone: creds.Phone, Err: err}
	}
	if sess == nil {
		return nil, &AuthError{Phone: creds.Phone, Err: errors.New("connector returned no session")}
	}
	log.Info("authenticated", logx.Duration("dur", time.Since(start)))
	return sess, nil
}
