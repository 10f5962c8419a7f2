// Package broadcasttest provides in-memory Session and Connector fakes for tests.
package broadcasttest

import (
	"context"
	"errors"
	"sync"
	"time"

	"castbot/internal/auth"
	"castbot/internal/broadcast"
)

// Send is one recorded SendMessage call.
type Send struct {
	Title string
	Text  string
	At    time.Time
}

// Session is a scripted broadcast.Session.
type Session struct {
	mu sync.Mutex

	Template *broadcast.Message
	Dialogs  []broadcast.Dialog

	FetchErr error
	ListErr  error
	// SendErr fails sends to the dialog with the given title.
	SendErr map[string]error

	// OnSend runs after each send attempt with the 1-based attempt number.
	OnSend func(n int, d broadcast.Dialog)
	// SendBlock, when set, is awaited inside SendMessage (an in-flight call that only ctx can abort).
	SendBlock chan struct{}

	sends       []Send
	entered     int
	attempts    int
	fetches     int
	disconnects int
}

func (s *Session) FetchLatestSelfNote(ctx context.Context) (broadcast.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.FetchErr != nil {
		return broadcast.Message{}, false, s.FetchErr
	}
	if s.Template == nil {
		return broadcast.Message{}, false, nil
	}
	return *s.Template, true, nil
}

func (s *Session) ListDialogs(ctx context.Context, limit int) ([]broadcast.Dialog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	out := s.Dialogs
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return append([]broadcast.Dialog(nil), out...), nil
}

func (s *Session) SendMessage(ctx context.Context, to broadcast.Dialog, text string) error {
	s.mu.Lock()
	s.entered++
	block := s.SendBlock
	s.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			s.mu.Lock()
			s.attempts++
			s.mu.Unlock()
			return ctx.Err()
		}
	}

	s.mu.Lock()
	s.attempts++
	n := s.attempts
	err := s.SendErr[to.Title]
	if err == nil {
		s.sends = append(s.sends, Send{Title: to.Title, Text: text, At: time.Now()})
	}
	hook := s.OnSend
	s.mu.Unlock()

	if hook != nil {
		hook(n, to)
	}
	return err
}

func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	s.disconnects++
	s.mu.Unlock()
	return nil
}

// Sends returns the successful sends in order.
func (s *Session) Sends() []Send {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Send(nil), s.sends...)
}

// Attempts returns the number of SendMessage calls, failed ones included.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Entered returns the number of SendMessage calls that have begun, blocked ones included.
func (s *Session) Entered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entered
}

func (s *Session) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

func (s *Session) Disconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnects
}

// Channel, Megagroup, Group and User build dialogs of each class.
func Channel(id int64, title string) broadcast.Dialog {
	return broadcast.Dialog{ID: id, Title: title, Broadcast: true}
}

func Megagroup(id int64, title string) broadcast.Dialog {
	return broadcast.Dialog{ID: id, Title: title, Megagroup: true}
}

func Group(id int64, title string, members int) broadcast.Dialog {
	return broadcast.Dialog{ID: id, Title: title, ParticipantCount: members, HasParticipantCount: true}
}

func User(id int64, title string) broadcast.Dialog {
	return broadcast.Dialog{ID: id, Title: title}
}

// Connector is a scripted auth.Connector.
type Connector struct {
	mu sync.Mutex

	Session *Session
	Err     error
	// WantCode makes Authenticate invoke the code callback and require this code.
	WantCode string

	calls int
}

var ErrBadCode = errors.New("PHONE_CODE_INVALID")

func (c *Connector) Authenticate(ctx context.Context, creds auth.Credentials, code auth.CodeFunc) (broadcast.Session, error) {
	c.mu.Lock()
	c.calls++
	want := c.WantCode
	err := c.Err
	sess := c.Session
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if want != "" {
		got, err := code(ctx)
		if err != nil {
			return nil, err
		}
		if got != want {
			return nil, ErrBadCode
		}
	}
	if sess == nil {
		sess = &Session{}
	}
	return sess, nil
}

func (c *Connector) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
