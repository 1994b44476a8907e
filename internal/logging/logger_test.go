package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestPrettyHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, &Options{Level: slog.LevelInfo, AddSource: true}))

	logger.With("node_id", "n1").Info("node initialized", "peers", 2)
	logger.Debug("hidden")

	out := buf.String()
	if strings.Count(out, "\n") != 1 {
		t.Fatalf("expected exactly one line, got %q", out)
	}
	for _, want := range []string{"INFO ", "logger_test.go:", "node initialized", " node_id=n1", " peers=2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Fatalf("expected no colour codes, got %q", out)
	}
}

func TestPrettyHandlerGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, &Options{Level: slog.LevelDebug}))

	logger.WithGroup("log").Debug("ack", "offset", 3, slog.Group("replica", "id", "n2"))

	out := buf.String()
	if !strings.Contains(out, " log.offset=3") || !strings.Contains(out, " log.replica.id=n2") {
		t.Fatalf("unexpected group rendering %q", out)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLogLevel(in); got != want {
			t.Fatalf("ParseLogLevel(%q): expected %v, got %v", in, want, got)
		}
	}
}
