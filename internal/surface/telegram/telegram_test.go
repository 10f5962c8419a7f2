package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"castbot/internal/auth"
	"castbot/internal/broadcast"
	"castbot/internal/control"
	"castbot/internal/events"
	"castbot/internal/storage"
	"castbot/pkg/logx"
)

type sent struct {
	to   string
	text string
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []sent
}

func (f *fakeSender) Send(to tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sent{to: to.Recipient(), text: what.(string)})
	return &tele.Message{}, nil
}

type fakeCommands struct {
	startErr error
	codeErr  error
	stopOK   bool
	starts   []control.StartRequest
	codes    []string
	status   control.Status
}

func (f *fakeCommands) Start(req control.StartRequest) (string, error) {
	f.starts = append(f.starts, req)
	if f.startErr != nil {
		return "", f.startErr
	}
	return "abcdef0123456789", nil
}
func (f *fakeCommands) Stop() bool { return f.stopOK }
func (f *fakeCommands) SupplyConfirmationCode(code string) error {
	f.codes = append(f.codes, code)
	return f.codeErr
}
func (f *fakeCommands) Status() control.Status { return f.status }

type fakeHistory struct{ runs []storage.Run }

func (h fakeHistory) RecentRuns(context.Context, int) ([]storage.Run, error) { return h.runs, nil }

func newTestSurface(history History) (*Surface, *fakeSender) {
	fs := &fakeSender{}
	s := newSurface(Config{
		OwnerIDs:        []int64{7},
		Credentials:     auth.Credentials{APIID: 1, APIHash: "h", Phone: "+1"},
		DefaultDelay:    "2",
		DefaultInterval: "30",
		RatePerSec:      1000,
	}, fs, history, logx.Nop())
	return s, fs
}

func TestHandleCast(t *testing.T) {
	s, _ := newTestSurface(nil)
	cmd := &fakeCommands{}

	if got := s.handle(context.Background(), cmd, "/cast"); got != "run abcdef01 accepted" {
		t.Fatalf("reply = %q", got)
	}
	if got := s.handle(context.Background(), cmd, "/cast@castbot 5 60"); !strings.Contains(got, "accepted") {
		t.Fatalf("reply = %q", got)
	}
	if cmd.starts[0].Delay != "2" || cmd.starts[0].Interval != "30" {
		t.Fatalf("defaults not applied: %+v", cmd.starts[0])
	}
	if cmd.starts[1].Delay != "5" || cmd.starts[1].Interval != "60" || cmd.starts[1].Credentials.APIID != 1 {
		t.Fatalf("args not applied: %+v", cmd.starts[1])
	}

	cmd.startErr = control.ErrAlreadyRunning
	if got := s.handle(context.Background(), cmd, "/cast"); got != "a broadcast is already running" {
		t.Fatalf("reply = %q", got)
	}
	cmd.startErr = &broadcast.ConfigError{Field: "delay_between_messages", Value: "x", Err: errors.New("bad")}
	if got := s.handle(context.Background(), cmd, "/cast x 1"); !strings.HasPrefix(got, "invalid input: delay_between_messages") {
		t.Fatalf("reply = %q", got)
	}
}

func TestHandleOtherCommands(t *testing.T) {
	s, _ := newTestSurface(fakeHistory{runs: []storage.Run{{ID: "0011223344556677", State: "stopped", Cycles: 2, Sent: 4}}})
	cmd := &fakeCommands{status: control.Status{State: control.Idle}}

	if got := s.handle(context.Background(), cmd, "/stop"); got != "no active run" {
		t.Fatalf("stop reply = %q", got)
	}
	cmd.stopOK = true
	if got := s.handle(context.Background(), cmd, "/stop"); got != "" {
		t.Fatalf("accepted stop should rely on the mirrored log line, got %q", got)
	}

	if got := s.handle(context.Background(), cmd, "/code 1-2-3 4 5"); got != "code accepted" {
		t.Fatalf("code reply = %q", got)
	}
	if cmd.codes[0] != "1-2-345" {
		t.Fatalf("code passed = %q", cmd.codes[0])
	}
	cmd.codeErr = control.ErrNoChallenge
	if got := s.handle(context.Background(), cmd, "/code 1"); got != "no login in progress" {
		t.Fatalf("code reply = %q", got)
	}

	got := s.handle(context.Background(), cmd, "/status")
	if !strings.Contains(got, "state: idle") || !strings.Contains(got, "00112233 stopped: 2 cycles, sent 4") {
		t.Fatalf("status reply = %q", got)
	}
	if got := s.handle(context.Background(), cmd, "hello"); got != "" {
		t.Fatalf("plain text should be ignored, got %q", got)
	}
	if got := s.handle(context.Background(), cmd, "/nope"); !strings.Contains(got, "/help") {
		t.Fatalf("unknown reply = %q", got)
	}
}

func TestOwnerOnly(t *testing.T) {
	s, _ := newTestSurface(nil)
	if !s.isOwner(7) || s.isOwner(8) {
		t.Fatal("owner check mismatch")
	}
}

func TestMirrorCoalescesInOrder(t *testing.T) {
	s, fs := newTestSurface(nil)
	at := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	s.onEvent(events.Event{Kind: events.KindLog, Time: at, Text: "starting bot..."})
	s.onEvent(events.Event{Kind: events.KindState, State: control.Dispatching.String()})
	s.onEvent(events.Event{Kind: events.KindLog, Time: at.Add(time.Second), Text: "message sent to group/channel: A"})
	s.onEvent(events.Event{Kind: events.KindRunFinished, State: "stopped"})

	s.flush(context.Background())
	s.flush(context.Background())

	if len(fs.msgs) != 1 {
		t.Fatalf("messages = %+v, want one coalesced message", fs.msgs)
	}
	want := "10:00:00 starting bot...\n10:00:01 message sent to group/channel: A\nbot finished"
	if fs.msgs[0].text != want || fs.msgs[0].to != "7" {
		t.Fatalf("message = %+v", fs.msgs[0])
	}
}

func TestSplitText(t *testing.T) {
	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("splitText short = %q", got)
	}
	long := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := splitText(long, 10)
	if len(got) != 2 || got[0] != strings.Repeat("a", 8) || got[1] != strings.Repeat("b", 8) {
		t.Fatalf("splitText = %q", got)
	}
	got = splitText(strings.Repeat("x", 25), 10)
	if len(got) != 3 || len(got[2]) != 5 {
		t.Fatalf("splitText hard cut = %q", got)
	}
}
