package broadcast

import (
	"errors"
	"strconv"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		d    Dialog
		want Class
	}{
		{name: "broadcast channel", d: Dialog{Broadcast: true}, want: Broadcastable},
		{name: "megagroup", d: Dialog{Megagroup: true}, want: MegaGroup},
		{name: "broadcast wins over megagroup", d: Dialog{Broadcast: true, Megagroup: true}, want: Broadcastable},
		{name: "flags win over count", d: Dialog{Megagroup: true, HasParticipantCount: true, ParticipantCount: 3}, want: MegaGroup},
		{name: "participant count only", d: Dialog{HasParticipantCount: true, ParticipantCount: 12}, want: LargeGroup},
		{name: "zero participant count still counts", d: Dialog{HasParticipantCount: true}, want: LargeGroup},
		{name: "user", d: Dialog{Title: "alice"}, want: Ineligible},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.d)
			if got != tt.want {
				t.Fatalf("Classify() = %v, want %v", got, tt.want)
			}
			if got.Eligible() != (tt.want != Ineligible) {
				t.Fatalf("Eligible() = %v for %v", got.Eligible(), got)
			}
		})
	}
}

func TestParsePacing(t *testing.T) {
	cfg, err := ParsePacing(" 2 ", "30")
	if err != nil {
		t.Fatalf("ParsePacing: %v", err)
	}
	if cfg.Delay != 2*time.Second || cfg.Interval != 30*time.Second || cfg.DialogLimit != DefaultDialogLimit {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	if cfg, err := ParsePacing("0", "0"); err != nil || cfg.Delay != 0 || cfg.Interval != 0 {
		t.Fatalf("zero pacing should be accepted, got %+v, %v", cfg, err)
	}

	for _, tc := range []struct{ delay, interval, field string }{
		{"", "30", "delay_between_messages"},
		{"-1", "30", "delay_between_messages"},
		{"1.5", "30", "delay_between_messages"},
		{"2", "abc", "interval_between_batches"},
		{"2", "-30", "interval_between_batches"},
		{"9223372037", "1", "delay_between_messages"},
		{"18446744074", "1", "delay_between_messages"},
		{"1", "99999999999999999999", "interval_between_batches"},
	} {
		_, err := ParsePacing(tc.delay, tc.interval)
		var cerr *ConfigError
		if !errors.As(err, &cerr) {
			t.Fatalf("ParsePacing(%q, %q) err = %v, want *ConfigError", tc.delay, tc.interval, err)
		}
		if cerr.Field != tc.field {
			t.Errorf("ParsePacing(%q, %q) field = %q, want %q", tc.delay, tc.interval, cerr.Field, tc.field)
		}
	}
}

func TestParseSecondsRange(t *testing.T) {
	d, err := ParseSeconds("delay_between_messages", strconv.FormatInt(maxSeconds, 10))
	if err != nil || d <= 0 {
		t.Fatalf("largest representable value: d=%v err=%v", d, err)
	}
	for _, raw := range []string{strconv.FormatInt(maxSeconds+1, 10), "18446744074", "99999999999999999999"} {
		_, err := ParseSeconds("delay_between_messages", raw)
		if !errors.Is(err, errOutOfRange) {
			t.Errorf("ParseSeconds(%q) err = %v, want out of range", raw, err)
		}
	}
}

func TestStopSignalIdempotent(t *testing.T) {
	s := NewStopSignal()
	if s.Stopped() {
		t.Fatal("new signal should not be stopped")
	}
	if !s.Stop() {
		t.Fatal("first Stop should report true")
	}
	if s.Stop() {
		t.Fatal("second Stop should report false")
	}
	select {
	case <-s.Done():
	default:
		t.Fatal("Done should be closed after Stop")
	}
}
