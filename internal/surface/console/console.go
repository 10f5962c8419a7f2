// Package console is a terminal control surface: log lines go to stdout in
// order, commands are read line by line from stdin.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"castbot/internal/auth"
	"castbot/internal/broadcast"
	"castbot/internal/control"
	"castbot/internal/events"
	"castbot/pkg/logx"
)

type Config struct {
	Credentials auth.Credentials
	Delay       string
	Interval    string
	// AutoStart starts a run as soon as the surface is up.
	AutoStart bool
	// ExitOnFinish returns from Run when a run finishes.
	ExitOnFinish bool
}

type Surface struct {
	cfg Config
	in  io.Reader
	out *syncWriter
	log logx.Logger

	finished chan struct{}
}

func New(cfg Config, in io.Reader, out io.Writer, log logx.Logger) *Surface {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Surface{
		cfg:      cfg,
		in:       in,
		out:      &syncWriter{w: out},
		log:      log.Component("console"),
		finished: make(chan struct{}, 1),
	}
}

func (s *Surface) Name() string { return "console" }

// Run renders the event stream and executes commands until ctx is done, the
// operator quits, or input ends with no run active.
func (s *Surface) Run(ctx context.Context, cmd control.Commands, stream *events.Stream) error {
	ctx, cancel := context.WithCancel(ctx)
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		_ = stream.Run(ctx, s.render)
	}()
	defer func() {
		cancel()
		<-rendered
	}()

	lines := make(chan string)
	go s.readLines(ctx, lines)

	if s.cfg.AutoStart {
		s.start(cmd, nil)
	} else {
		s.out.printf("type \"start\" to begin, \"help\" for commands\n")
	}

	eof := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.finished:
			if s.cfg.ExitOnFinish || (eof && !cmd.Status().State.Active()) {
				return nil
			}
		case line, ok := <-lines:
			if !ok {
				lines = nil
				eof = true
				if !cmd.Status().State.Active() {
					return nil
				}
				continue
			}
			if quit := s.exec(cmd, line); quit {
				cmd.Stop()
				return nil
			}
		}
	}
}

func (s *Surface) readLines(ctx context.Context, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(s.in)
	for sc.Scan() {
		select {
		case out <- sc.Text():
		case <-ctx.Done():
			return
		}
	}
	if err := sc.Err(); err != nil {
		s.log.Warn("input read failed", logx.Err(err))
	}
}

func (s *Surface) render(e events.Event) {
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	switch e.Kind {
	case events.KindLog:
		s.out.printf("%s %s\n", ts.Format("15:04:05"), e.Text)
	case events.KindState:
		if e.State == control.AwaitingCode.String() {
			s.out.printf("%s type the code (or \"code <digits>\")\n", ts.Format("15:04:05"))
		}
	case events.KindRunFinished:
		s.out.printf("%s bot finished\n", ts.Format("15:04:05"))
		select {
		case s.finished <- struct{}{}:
		default:
		}
	}
}

// exec runs one input line. It reports true when the operator asked to quit.
func (s *Surface) exec(cmd control.Commands, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case "start":
		s.start(cmd, fields[1:])
	case "stop":
		if !cmd.Stop() {
			s.out.printf("no active run\n")
		}
	case "code":
		s.code(cmd, strings.Join(fields[1:], ""))
	case "status":
		s.out.printf("%s\n", FormatStatus(cmd.Status()))
	case "help":
		s.out.printf("commands: start [delay interval], stop, code <digits>, status, quit\n")
	case "quit", "exit":
		return true
	default:
		if cmd.Status().State == control.AwaitingCode {
			s.code(cmd, line)
			return false
		}
		s.out.printf("unknown command %q, try \"help\"\n", fields[0])
	}
	return false
}

func (s *Surface) start(cmd control.Commands, args []string) {
	req := control.StartRequest{Credentials: s.cfg.Credentials, Delay: s.cfg.Delay, Interval: s.cfg.Interval}
	if len(args) >= 1 {
		req.Delay = args[0]
	}
	if len(args) >= 2 {
		req.Interval = args[1]
	}
	if _, err := cmd.Start(req); err != nil {
		var cerr *broadcast.ConfigError
		switch {
		case errors.As(err, &cerr):
			s.out.printf("invalid input: %v\n", err)
		case errors.Is(err, control.ErrAlreadyRunning):
			s.out.printf("a broadcast is already running\n")
		default:
			s.out.printf("start failed: %v\n", err)
		}
	}
}

func (s *Surface) code(cmd control.Commands, code string) {
	err := cmd.SupplyConfirmationCode(code)
	switch {
	case err == nil:
		s.out.printf("code accepted\n")
	case errors.Is(err, control.ErrNoChallenge):
		s.out.printf("no login in progress\n")
	case errors.Is(err, auth.ErrEmptyCode):
		s.out.printf("the code must contain digits\n")
	default:
		s.out.printf("%v\n", err)
	}
}

// FormatStatus renders a one-line status summary.
func FormatStatus(st control.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "state: %s", st.State)
	if st.State.Active() {
		fmt.Fprintf(&b, ", run %s since %s, delay %s, interval %s",
			shortID(st.RunID), st.StartedAt.Format("15:04:05"), st.Pacing.Delay, st.Pacing.Interval)
	}
	if st.Last != nil {
		r := st.Last.Result
		fmt.Fprintf(&b, "; last run %s: %s after %d cycles (sent %d, failed %d, skipped %d)",
			shortID(st.Last.RunID), st.Last.State, r.Cycles, r.Sent, r.Failed, r.Skipped)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) printf(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, _ = fmt.Fprintf(w.w, format, args...)
}
