// Package telegram is a control surface run as an owner-only Telegram bot.
// The bot account is separate from the broadcasting user account.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"castbot/internal/auth"
	"castbot/internal/control"
	"castbot/internal/events"
	"castbot/internal/runtime/supervisor"
	"castbot/internal/storage"
	"castbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	OwnerIDs    []int64

	Credentials     auth.Credentials
	DefaultDelay    string
	DefaultInterval string

	// FlushEvery coalesces mirrored log lines into one message per tick.
	FlushEvery time.Duration
	// RatePerSec paces outgoing bot messages.
	RatePerSec float64
}

// History is the read side of the run ledger used by /status.
type History interface {
	RecentRuns(ctx context.Context, limit int) ([]storage.Run, error)
}

// sender is the subset of *tele.Bot used for outgoing messages.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Surface struct {
	cfg     Config
	log     logx.Logger
	bot     *tele.Bot
	out     sender
	history History
	owners  map[int64]struct{}
	limiter *rate.Limiter

	cmd atomic.Value // control.Commands

	mu      sync.Mutex
	pending []string

	dropped atomic.Uint64
}

func New(cfg Config, history History, log logx.Logger) (*Surface, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("control.bot_token is empty")
	}
	if len(cfg.OwnerIDs) == 0 {
		return nil, errors.New("control.owner_user_ids is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	s := newSurface(cfg, b, history, log)
	s.bot = b
	s.bot.Handle(tele.OnText, s.onText)
	return s, nil
}

func newSurface(cfg Config, out sender, history History, log logx.Logger) *Surface {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	owners := make(map[int64]struct{}, len(cfg.OwnerIDs))
	for _, id := range cfg.OwnerIDs {
		owners[id] = struct{}{}
	}
	return &Surface{
		cfg:     cfg,
		log:     log.Component("telegram.surface"),
		out:     out,
		history: history,
		owners:  owners,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
	}
}

func (s *Surface) Name() string { return "telegram" }

func (s *Surface) commands() control.Commands {
	c, _ := s.cmd.Load().(control.Commands)
	return c
}

// Run polls for commands and mirrors the event stream to the owners until ctx is done.
func (s *Surface) Run(ctx context.Context, cmd control.Commands, stream *events.Stream) error {
	s.cmd.Store(cmd)
	sup := supervisor.New(ctx,
		supervisor.WithLogger(s.log),
		// The surface is best-effort; a failing poller must not take the app down.
		supervisor.WithCancelOnError(false),
	)

	sup.Go("events", func(c context.Context) error {
		return stream.Run(c, s.onEvent)
	})
	sup.Go0("mirror.flush", func(c context.Context) {
		t := time.NewTicker(s.cfg.FlushEvery)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				s.flush(c)
			}
		}
	})
	if s.bot != nil {
		sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
			<-c.Done()
			s.bot.Stop()
		})
		// telebot's Start can return unexpectedly; restart it while ctx is alive.
		sup.GoRestart("telebot.poll", func(c context.Context) error {
			s.log.Info("polling started")
			s.bot.Start()
			s.log.Info("polling stopped")
			return c.Err()
		}, 500*time.Millisecond, 10*time.Second)
	}

	<-ctx.Done()

	// Final flush so the last lines ("bot stopped", "bot finished") reach the owners.
	fctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	s.flush(fctx)
	cancel()

	wctx, wcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer wcancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		s.log.Warn("surface stopped with error", logx.Err(err))
	}
	if n := s.dropped.Load(); n > 0 {
		s.log.Warn("mirrored messages dropped", logx.Uint64("count", n))
	}
	return nil
}

func (s *Surface) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Sender == nil {
		return nil
	}
	if !s.isOwner(m.Sender.ID) {
		s.log.Debug("ignoring message from non-owner", logx.Int64("user_id", m.Sender.ID))
		return nil
	}
	cmd := s.commands()
	if cmd == nil {
		return nil
	}
	reply := s.handle(context.Background(), cmd, m.Text)
	if reply == "" {
		return nil
	}
	return c.Send(reply)
}

func (s *Surface) isOwner(id int64) bool {
	_, ok := s.owners[id]
	return ok
}

const helpText = `/cast [delay interval] - start broadcasting (seconds)
/stop - stop after the current send
/code <code> - login code; separate the digits, e.g. 1-2-3-4-5
/status - current state and recent runs`

// handle executes one owner command and returns the reply.
func (s *Surface) handle(ctx context.Context, cmd control.Commands, text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	args := fields[1:]

	switch name {
	case "start", "help":
		return helpText
	case "cast":
		req := control.StartRequest{Credentials: s.cfg.Credentials, Delay: s.cfg.DefaultDelay, Interval: s.cfg.DefaultInterval}
		if len(args) >= 1 {
			req.Delay = args[0]
		}
		if len(args) >= 2 {
			req.Interval = args[1]
		}
		id, err := cmd.Start(req)
		switch {
		case errors.Is(err, control.ErrAlreadyRunning):
			return "a broadcast is already running"
		case err != nil:
			return "invalid input: " + err.Error()
		}
		return "run " + shortID(id) + " accepted"
	case "stop":
		if cmd.Stop() {
			return ""
		}
		return "no active run"
	case "code":
		err := cmd.SupplyConfirmationCode(strings.Join(args, ""))
		switch {
		case err == nil:
			return "code accepted"
		case errors.Is(err, control.ErrNoChallenge):
			return "no login in progress"
		case errors.Is(err, auth.ErrEmptyCode):
			return "usage: /code 1-2-3-4-5"
		default:
			return err.Error()
		}
	case "status":
		return s.status(ctx, cmd.Status())
	default:
		return "unknown command, see /help"
	}
}

func (s *Surface) status(ctx context.Context, st control.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "state: %s", st.State)
	if st.State.Active() {
		fmt.Fprintf(&b, "\nrun %s since %s (delay %s, interval %s)",
			shortID(st.RunID), st.StartedAt.Format("2006-01-02 15:04:05"), st.Pacing.Delay, st.Pacing.Interval)
	}
	if s.history == nil {
		return b.String()
	}
	hctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	runs, err := s.history.RecentRuns(hctx, 5)
	if err != nil {
		s.log.Warn("run history unavailable", logx.Err(err))
		return b.String()
	}
	if len(runs) > 0 {
		b.WriteString("\nrecent runs:")
	}
	for _, r := range runs {
		fmt.Fprintf(&b, "\n%s %s %s: %d cycles, sent %d, failed %d",
			r.StartedAt.Format("01-02 15:04"), shortID(r.ID), r.State, r.Cycles, r.Sent, r.Failed)
	}
	return b.String()
}

func (s *Surface) onEvent(e events.Event) {
	var line string
	switch e.Kind {
	case events.KindLog:
		line = e.Time.Format("15:04:05") + " " + e.Text
	case events.KindState:
		if e.State != control.AwaitingCode.String() {
			return
		}
		line = "send the login code with /code, digits separated (1-2-3-4-5)"
	case events.KindRunFinished:
		line = "bot finished"
	default:
		return
	}
	s.mu.Lock()
	s.pending = append(s.pending, line)
	s.mu.Unlock()
}

// flush sends the coalesced pending lines to every owner, in order.
func (s *Surface) flush(ctx context.Context) {
	s.mu.Lock()
	lines := s.pending
	s.pending = nil
	s.mu.Unlock()
	if len(lines) == 0 {
		return
	}

	chunks := splitText(strings.Join(lines, "\n"), textLimit)
	for id := range s.owners {
		for _, chunk := range chunks {
			if err := s.limiter.Wait(ctx); err != nil {
				s.dropped.Add(1)
				continue
			}
			if _, err := s.out.Send(tele.ChatID(id), chunk); err != nil {
				s.dropped.Add(1)
				s.log.Warn("mirror send failed", logx.Int64("chat_id", id), logx.Err(err))
			}
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

const textLimit = 4000

// splitText splits long text into chunks Telegram accepts, preferring newline boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid extremely small chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
