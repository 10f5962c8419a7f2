package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNegativeDuration is wrapped by FieldError when a duration key is below zero.
var ErrNegativeDuration = errors.New("must not be negative")

// FieldError names the config key that failed to resolve.
type FieldError struct {
	Field string // dotted key, e.g. "broadcast.code_timeout"
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: invalid value %q: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Duration resolves a Go duration string from the config file. Blank and zero
// values resolve to def; pass def=0 for keys where zero means "no limit".
func Duration(field, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &FieldError{Field: field, Value: raw, Err: err}
	}
	if d < 0 {
		return 0, &FieldError{Field: field, Value: raw, Err: ErrNegativeDuration}
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
