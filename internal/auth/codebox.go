package auth

import (
	"context"
	"strings"
	"sync"
	"time"
)

// NormalizeCode strips everything but ASCII digits, so "1-2-3 4 5" becomes "12345".
func NormalizeCode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CodeBox is a single-use slot for the confirmation code of one run.
// A code supplied before the challenge starts is kept until Wait reads it.
type CodeBox struct {
	mu       sync.Mutex
	ch       chan string
	supplied bool
}

func NewCodeBox() *CodeBox {
	return &CodeBox{ch: make(chan string, 1)}
}

// Supply delivers the code. Only the first non-empty code of a run is accepted.
func (b *CodeBox) Supply(code string) error {
	code = NormalizeCode(code)
	if code == "" {
		return ErrEmptyCode
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.supplied {
		return ErrCodeAlreadySupplied
	}
	b.supplied = true
	b.ch <- code
	return nil
}

// Supplied reports whether a code was delivered.
func (b *CodeBox) Supplied() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.supplied
}

// Wait blocks until a code is supplied, ctx is done or timeout elapses.
// A non-positive timeout waits without bound.
func (b *CodeBox) Wait(ctx context.Context, timeout time.Duration) (string, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case code := <-b.ch:
		return code, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-expired:
		return "", ErrCodeTimeout
	}
}
