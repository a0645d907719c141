package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestWriterEmitsFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "relay"))
	log.Info("dispatch done", Int("sent", 3), Err(errors.New("one failed")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("not a JSON line: %q", buf.String())
	}
	if m["message"] != "dispatch done" || m["comp"] != "relay" || m["sent"] != float64(3) {
		t.Fatalf("line = %v", m)
	}
	if m["error"] == nil && m["err"] == nil {
		t.Fatalf("error field missing: %v", m)
	}
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}
	if log.Enabled(LevelInfo) || !log.Enabled(LevelError) {
		t.Fatal("Enabled does not follow the configured level")
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	log.Error("nothing happens")
	if Nop().IsZero() {
		t.Fatal("Nop should not be zero")
	}
}

type chanSender chan string

func (c chanSender) SendText(_ context.Context, to, text string) error {
	c <- to + "|" + text
	return nil
}

func TestChatSinkForwardsWarnings(t *testing.T) {
	svc, log := New(Config{
		Level: "info",
		Chat:  ChatConfig{Enabled: true, Target: "120363@g.us", MinLevel: "warn", RatePerSec: 10},
	})
	defer svc.Close()

	got := make(chanSender, 4)
	svc.SetSender(got)

	log.Info("routine")
	log.Warn("session dropped", String("reason", "timeout"))

	select {
	case line := <-got:
		if !strings.HasPrefix(line, "120363@g.us|[WARN] session dropped") {
			t.Fatalf("chat line = %q", line)
		}
		if !strings.Contains(line, "reason=timeout") {
			t.Fatalf("chat line lost fields: %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("warning never reached the chat sink")
	}

	select {
	case line := <-got:
		t.Fatalf("unexpected extra chat line %q", line)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFormatChatLineTruncates(t *testing.T) {
	long := strings.Repeat("x", 5000)
	out := formatChatLine([]byte(`{"level":"error","message":"` + long + `"}`))
	if len(out) != 3500 || !strings.HasSuffix(out, "...") {
		t.Fatalf("len = %d", len(out))
	}
}
