package console

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/term"

	"castbot/internal/auth"
	"castbot/internal/broadcast"
)

var errNoTerminal = errors.New("not set and stdin is not a terminal")

// FillSecrets prompts, without echo, for a missing api hash and, when
// askPassword is set, for the two-step verification password.
// fd must be the terminal's file descriptor (usually os.Stdin.Fd()).
func FillSecrets(creds *auth.Credentials, fd int, out io.Writer, askPassword bool) error {
	needHash := strings.TrimSpace(creds.APIHash) == ""
	needPassword := askPassword && creds.Password == ""
	if !needHash && !needPassword {
		return nil
	}
	if !term.IsTerminal(fd) {
		if needHash {
			return &broadcast.ConfigError{Field: "telegram.api_hash", Err: errNoTerminal}
		}
		return &broadcast.ConfigError{Field: "telegram.password", Err: errNoTerminal}
	}
	if needHash {
		v, err := readSecret(fd, out, "api hash: ")
		if err != nil {
			return err
		}
		creds.APIHash = v
	}
	if needPassword {
		v, err := readSecret(fd, out, "two-step verification password: ")
		if err != nil {
			return err
		}
		creds.Password = v
	}
	return nil
}

func readSecret(fd int, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(prompt, ": "), err)
	}
	return strings.TrimSpace(string(b)), nil
}
