package logx

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	// Must not panic.
	l.Info("hello", String("k", "v"))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"debug":   zerolog.DebugLevel,
		" INFO ":  zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("unknown level accepted")
	}
	if got := levelOrInfo("loud"); got != zerolog.InfoLevel {
		t.Fatalf("levelOrInfo fallback = %v", got)
	}
}

func TestEntriesCarryComponentCallerAndNoSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "castbot.log")
	svc, log := NewWithConsole(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}}, &bytes.Buffer{})
	defer svc.Close()

	log.Component("auth").Info("signed in", Secret("telegram.password", "hunter2"), Secret("control.bot_token", " "))

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(b)
	for _, want := range []string{`"comp":"auth"`, `"telegram.password_set":true`, `"control.bot_token_set":false`, `"caller":"logger_test.go:`} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %s", want, out)
		}
	}
	if strings.Contains(out, "hunter2") {
		t.Fatalf("secret value written: %s", out)
	}
}

func TestServiceApplySwapsSinks(t *testing.T) {
	var console bytes.Buffer
	svc, log := NewWithConsole(Config{Level: "info", Console: true}, &console)
	defer svc.Close()

	log.With(String("comp", "test")).Info("first")
	if !strings.Contains(console.String(), "first") {
		t.Fatalf("console output missing message: %q", console.String())
	}

	path := filepath.Join(t.TempDir(), "castbot.log")
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("second", Int("n", 2))

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(b), `"message":"second"`) || !strings.Contains(string(b), `"n":2`) {
		t.Fatalf("unexpected file output: %s", b)
	}
	if strings.Contains(console.String(), "second") {
		t.Fatal("console sink should be disabled after Apply")
	}
}
