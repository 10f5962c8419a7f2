package broadcast

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrEmptyTemplate marks the expected exit when Saved Messages has no usable message.
// It is never surfaced as a run failure.
var ErrEmptyTemplate = errors.New("no template message in saved messages")

// ConfigError is a malformed pacing input. The run never starts.
type ConfigError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: invalid value %q: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// RecipientSendError is a failed send to one dialog. It is recovered locally.
type RecipientSendError struct {
	DialogID int64
	Title    string
	Err      error
}

func (e *RecipientSendError) Error() string {
	return fmt.Sprintf("send to %q: %v", e.Title, e.Err)
}

func (e *RecipientSendError) Unwrap() error { return e.Err }

var (
	errNegative   = errors.New("must be a non-negative integer number of seconds")
	errOutOfRange = errors.New("out of range")
)

// maxSeconds is the largest whole-second value a time.Duration can hold.
const maxSeconds = int64(math.MaxInt64 / int64(time.Second))

// ParseSeconds parses user-supplied text as a non-negative integer number of seconds.
func ParseSeconds(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	n, err := strconv.ParseInt(s, 10, 64)
	if errors.Is(err, strconv.ErrRange) && !strings.HasPrefix(s, "-") {
		return 0, &ConfigError{Field: field, Value: raw, Err: errOutOfRange}
	}
	if err != nil || n < 0 {
		return 0, &ConfigError{Field: field, Value: raw, Err: errNegative}
	}
	if n > maxSeconds {
		return 0, &ConfigError{Field: field, Value: raw, Err: errOutOfRange}
	}
	return time.Duration(n) * time.Second, nil
}

// ParsePacing validates both pacing inputs and returns a Config with the default dialog limit.
func ParsePacing(delay, interval string) (Config, error) {
	d, err := ParseSeconds("delay_between_messages", delay)
	if err != nil {
		return Config{}, err
	}
	i, err := ParseSeconds("interval_between_batches", interval)
	if err != nil {
		return Config{}, err
	}
	return Config{Delay: d, Interval: i, DialogLimit: DefaultDialogLimit}, nil
}
