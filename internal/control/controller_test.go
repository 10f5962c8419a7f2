package control_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"castbot/internal/auth"
	"castbot/internal/broadcast"
	"castbot/internal/broadcast/broadcasttest"
	"castbot/internal/control"
	"castbot/internal/events"
)

var creds = auth.Credentials{APIID: 42, APIHash: "hash", Phone: "+10000000000"}

type recorder struct {
	mu     sync.Mutex
	evs    []events.Event
	onText func(string)
}

func (r *recorder) Emit(e events.Event) {
	r.mu.Lock()
	r.evs = append(r.evs, e)
	hook := r.onText
	r.mu.Unlock()
	if hook != nil && e.Kind == events.KindLog {
		hook(e.Text)
	}
}

func (r *recorder) logs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.evs {
		if e.Kind == events.KindLog {
			out = append(out, e.Text)
		}
	}
	return out
}

func (r *recorder) count(kind events.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.evs {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.evs)
}

type listener struct {
	mu       sync.Mutex
	states   []control.State
	finished []control.Summary
}

func (l *listener) StateChanged(_ string, s control.State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *listener) RunFinished(s control.Summary) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finished = append(l.finished, s)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitRun(t *testing.T, c *control.Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestControllerScenario(t *testing.T) {
	sess := &broadcasttest.Session{
		Template: &broadcast.Message{Text: "Hello"},
		Dialogs: []broadcast.Dialog{
			broadcasttest.Channel(1, "A"),
			broadcasttest.User(2, "B"),
			broadcasttest.Megagroup(3, "C"),
		},
	}
	rec := &recorder{}
	l := &listener{}
	c := control.New(control.Config{}, control.Deps{
		Connector: &broadcasttest.Connector{Session: sess},
		Events:    rec,
		Listeners: []control.Listener{l},
	})
	rec.onText = func(text string) {
		if strings.HasPrefix(text, "waiting") {
			c.Stop()
		}
	}

	id, err := c.Start(control.StartRequest{Credentials: creds, Delay: "0", Interval: "30"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitRun(t, c)

	want := []string{
		"starting bot...",
		"message sent to group/channel: A",
		"skipped: B (not a group or channel)",
		"message sent to group/channel: C",
		"waiting 30 seconds before the next broadcast",
		"stopping bot...",
		"bot stopped",
	}
	if got := rec.logs(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("logs = %q\nwant %q", got, want)
	}
	if c.State() != control.Stopped {
		t.Fatalf("state = %v", c.State())
	}
	if sess.Disconnects() != 1 {
		t.Fatalf("disconnects = %d, want 1", sess.Disconnects())
	}
	if rec.count(events.KindRunFinished) != 1 {
		t.Fatalf("RunFinished emitted %d times", rec.count(events.KindRunFinished))
	}
	st := c.Status()
	if st.Last == nil || st.Last.RunID != id || st.Last.Result.Sent != 2 || st.Last.Result.Skipped != 1 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if len(l.finished) != 1 || l.finished[0].State != control.Stopped {
		t.Fatalf("listener saw %+v", l.finished)
	}
	wantStates := []control.State{control.Authenticating, control.Dispatching, control.Stopping, control.Stopped}
	if len(l.states) != len(wantStates) {
		t.Fatalf("states = %v, want %v", l.states, wantStates)
	}
	for i := range wantStates {
		if l.states[i] != wantStates[i] {
			t.Fatalf("states = %v, want %v", l.states, wantStates)
		}
	}
}

func TestControllerStopIsIdempotent(t *testing.T) {
	rec := &recorder{}
	sess := &broadcasttest.Session{Template: &broadcast.Message{Text: "x"}}
	c := control.New(control.Config{}, control.Deps{Connector: &broadcasttest.Connector{Session: sess}, Events: rec})

	if c.Stop() {
		t.Fatal("Stop on an idle controller must report false")
	}
	if rec.len() != 0 || c.State() != control.Idle {
		t.Fatalf("idle Stop had an effect: events=%d state=%v", rec.len(), c.State())
	}

	if _, err := c.Start(control.StartRequest{Credentials: creds, Delay: "0", Interval: "3600"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "batch wait", func() bool { return len(rec.logs()) > 0 && strings.HasPrefix(rec.logs()[len(rec.logs())-1], "waiting") })
	if !c.Stop() {
		t.Fatal("first Stop should be accepted")
	}
	c.Stop()
	waitRun(t, c)

	n := rec.len()
	if c.Stop() {
		t.Fatal("Stop after the run ended must report false")
	}
	if rec.len() != n || c.State() != control.Stopped {
		t.Fatal("Stop on a stopped controller must not emit events or change state")
	}
	stopping := 0
	for _, line := range rec.logs() {
		if line == "stopping bot..." {
			stopping++
		}
	}
	if stopping != 1 {
		t.Fatalf("stopping line emitted %d times", stopping)
	}
}

func TestControllerEmptyTemplateDisconnects(t *testing.T) {
	sess := &broadcasttest.Session{Dialogs: []broadcast.Dialog{broadcasttest.Channel(1, "A")}}
	rec := &recorder{}
	c := control.New(control.Config{}, control.Deps{Connector: &broadcasttest.Connector{Session: sess}, Events: rec})
	if _, err := c.Start(control.StartRequest{Credentials: creds, Delay: "1", Interval: "1"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitRun(t, c)

	if sess.Attempts() != 0 || sess.Disconnects() != 1 {
		t.Fatalf("attempts=%d disconnects=%d", sess.Attempts(), sess.Disconnects())
	}
	if c.State() != control.Stopped {
		t.Fatalf("state = %v, want stopped", c.State())
	}
	if got := c.Status().Last.Result.Reason; got != broadcast.ReasonEmptyTemplate {
		t.Fatalf("reason = %q", got)
	}
}

func TestControllerAuthFailure(t *testing.T) {
	rec := &recorder{}
	conn := &broadcasttest.Connector{Err: errors.New("API_ID_INVALID")}
	c := control.New(control.Config{}, control.Deps{Connector: conn, Events: rec})
	if _, err := c.Start(control.StartRequest{Credentials: creds, Delay: "1", Interval: "1"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitRun(t, c)

	if c.State() != control.Failed {
		t.Fatalf("state = %v, want failed", c.State())
	}
	last := c.Status().Last
	var aerr *auth.AuthError
	if last == nil || !errors.As(last.Err, &aerr) {
		t.Fatalf("last run err = %v, want *auth.AuthError", last)
	}
	logs := rec.logs()
	if !strings.HasPrefix(logs[len(logs)-1], "authentication failed:") {
		t.Fatalf("logs = %v", logs)
	}
	if rec.count(events.KindRunFinished) != 1 {
		t.Fatal("RunFinished must be signaled once")
	}
}

func TestControllerRejectsBadInput(t *testing.T) {
	conn := &broadcasttest.Connector{}
	rec := &recorder{}
	c := control.New(control.Config{}, control.Deps{Connector: conn, Events: rec})

	for _, req := range []control.StartRequest{
		{Credentials: creds, Delay: "two", Interval: "30"},
		{Credentials: creds, Delay: "2", Interval: "-1"},
		{Credentials: auth.Credentials{APIID: 1}, Delay: "2", Interval: "30"},
	} {
		_, err := c.Start(req)
		var cerr *broadcast.ConfigError
		if !errors.As(err, &cerr) {
			t.Fatalf("Start(%+v) err = %v, want *broadcast.ConfigError", req, err)
		}
	}
	if conn.Calls() != 0 || rec.len() != 0 || c.State() != control.Idle {
		t.Fatalf("rejected start must not create a session: calls=%d events=%d state=%v", conn.Calls(), rec.len(), c.State())
	}
}

func TestControllerSingleActiveRun(t *testing.T) {
	sess := &broadcasttest.Session{Template: &broadcast.Message{Text: "x"}}
	conn := &broadcasttest.Connector{Session: sess}
	c := control.New(control.Config{}, control.Deps{Connector: conn, Events: &recorder{}})
	if _, err := c.Start(control.StartRequest{Credentials: creds, Delay: "0", Interval: "3600"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := c.Start(control.StartRequest{Credentials: creds, Delay: "0", Interval: "3600"}); !errors.Is(err, control.ErrAlreadyRunning) {
		t.Fatalf("second Start err = %v, want ErrAlreadyRunning", err)
	}
	c.Stop()
	waitRun(t, c)

	if _, err := c.Start(control.StartRequest{Credentials: creds, Delay: "0", Interval: "3600"}); err != nil {
		t.Fatalf("Start after stop: %v", err)
	}
	c.Stop()
	waitRun(t, c)
	if conn.Calls() != 2 {
		t.Fatalf("connector calls = %d, want a fresh session per run", conn.Calls())
	}
}

func TestControllerConfirmationCode(t *testing.T) {
	if err := control.New(control.Config{}, control.Deps{}).SupplyConfirmationCode("123"); !errors.Is(err, control.ErrNoChallenge) {
		t.Fatalf("idle SupplyConfirmationCode err = %v", err)
	}

	sess := &broadcasttest.Session{Template: &broadcast.Message{Text: "x"}, Dialogs: []broadcast.Dialog{broadcasttest.Channel(1, "A")}}
	rec := &recorder{}
	c := control.New(control.Config{CodeTimeout: 3 * time.Second}, control.Deps{
		Connector: &broadcasttest.Connector{Session: sess, WantCode: "24680"},
		Events:    rec,
	})
	rec.onText = func(text string) {
		if strings.HasPrefix(text, "waiting") {
			c.Stop()
		}
	}
	if _, err := c.Start(control.StartRequest{Credentials: creds, Delay: "0", Interval: "60"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "code challenge", func() bool { return c.State() == control.AwaitingCode })
	if err := c.SupplyConfirmationCode("2 4 6 8 0"); err != nil {
		t.Fatalf("SupplyConfirmationCode: %v", err)
	}
	waitRun(t, c)

	logs := rec.logs()
	if logs[1] != "enter the confirmation code sent to your number" {
		t.Fatalf("logs = %v", logs)
	}
	if len(sess.Sends()) != 1 || c.State() != control.Stopped {
		t.Fatalf("sends=%d state=%v", len(sess.Sends()), c.State())
	}
}

func TestControllerStopWhileAwaitingCode(t *testing.T) {
	sess := &broadcasttest.Session{}
	rec := &recorder{}
	c := control.New(control.Config{CodeTimeout: time.Hour}, control.Deps{
		Connector: &broadcasttest.Connector{Session: sess, WantCode: "1"},
		Events:    rec,
	})
	if _, err := c.Start(control.StartRequest{Credentials: creds, Delay: "0", Interval: "0"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "code challenge", func() bool { return c.State() == control.AwaitingCode })
	if !c.Stop() {
		t.Fatal("Stop during authentication should be accepted")
	}
	waitRun(t, c)

	if c.State() != control.Stopped {
		t.Fatalf("state = %v, want stopped", c.State())
	}
	logs := rec.logs()
	if logs[len(logs)-1] != "bot stopped" {
		t.Fatalf("logs = %v", logs)
	}
	if err := c.SupplyConfirmationCode("1"); !errors.Is(err, control.ErrNoChallenge) {
		t.Fatalf("late code err = %v", err)
	}
}

func TestControllerShutdownCancelsInFlightSend(t *testing.T) {
	block := make(chan struct{})
	sess := &broadcasttest.Session{
		Template:  &broadcast.Message{Text: "x"},
		Dialogs:   []broadcast.Dialog{broadcasttest.Channel(1, "A"), broadcasttest.Channel(2, "B")},
		SendBlock: block,
	}
	c := control.New(control.Config{HardStopGrace: 2 * time.Second}, control.Deps{
		Connector: &broadcasttest.Connector{Session: sess},
		Events:    &recorder{},
	})
	if _, err := c.Start(control.StartRequest{Credentials: creds, Delay: "0", Interval: "0"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "in-flight send", func() bool { return sess.Entered() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !c.State().Terminal() {
		t.Fatalf("state = %v after shutdown", c.State())
	}
	if sess.Disconnects() != 1 {
		t.Fatalf("disconnects = %d, want 1", sess.Disconnects())
	}
	if len(sess.Sends()) != 0 || sess.Attempts() != 1 {
		t.Fatalf("sends=%d attempts=%d; B must not be attempted after stop", len(sess.Sends()), sess.Attempts())
	}
}
