package auth

import (
	"fmt"
	"strings"
)

// Credentials identify the broadcasting account at the provider.
type Credentials struct {
	APIID    int
	APIHash  string
	Phone    string
	Password string // optional two-step verification password
}

// Validate reports the first missing required field.
func (c Credentials) Validate() error {
	switch {
	case c.APIID <= 0:
		return fmt.Errorf("%w: api_id", ErrMissingCredentials)
	case strings.TrimSpace(c.APIHash) == "":
		return fmt.Errorf("%w: api_hash", ErrMissingCredentials)
	case strings.TrimSpace(c.Phone) == "":
		return fmt.Errorf("%w: phone", ErrMissingCredentials)
	}
	return nil
}

// MaskPhone keeps the last four characters of a phone number.
func MaskPhone(p string) string {
	p = strings.TrimSpace(p)
	if len(p) <= 4 {
		return strings.Repeat("*", len(p))
	}
	return strings.Repeat("*", len(p)-4) + p[len(p)-4:]
}
