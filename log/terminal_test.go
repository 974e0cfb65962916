package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestTerminalHandlerLine(t *testing.T) {
	var buf bytes.Buffer
	h := NewTerminalHandler(&buf, TerminalHandlerOptions{Level: slog.LevelDebug})
	l := Wrap(h)

	l.Info("sync round complete", "peer", "b", "changes", 3)

	line := buf.String()
	if !strings.Contains(line, "INFO ") {
		t.Errorf("missing padded level: %q", line)
	}
	if !strings.Contains(line, "sync round complete peer=b changes=3") {
		t.Errorf("message/attrs wrong: %q", line)
	}
	if !strings.HasSuffix(line, "\n") {
		t.Errorf("line not newline-terminated: %q", line)
	}
	if strings.Contains(line, "\033[") {
		t.Errorf("uncolored handler emitted ANSI codes: %q", line)
	}
}

func TestTerminalHandlerColor(t *testing.T) {
	var buf bytes.Buffer
	h := NewTerminalHandler(&buf, TerminalHandlerOptions{Color: true})
	l := Wrap(h)

	l.Warn("peer references unknown lastSync")
	if !strings.Contains(buf.String(), ansiYellow+"WARN ") {
		t.Errorf("warn not colored yellow: %q", buf.String())
	}
}

func TestTerminalHandlerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	h := NewTerminalHandler(&buf, TerminalHandlerOptions{Level: slog.LevelWarn})
	l := Wrap(h)

	l.Info("suppressed")
	if buf.Len() != 0 {
		t.Errorf("info leaked through warn filter: %q", buf.String())
	}
	l.Error("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("error missing: %q", buf.String())
	}
}

func TestTerminalHandlerModuleAttr(t *testing.T) {
	var buf bytes.Buffer
	h := NewTerminalHandler(&buf, TerminalHandlerOptions{})
	l := Wrap(h).Module("syncstate")

	l.Info("generated sync message", "heads", 2)
	if !strings.Contains(buf.String(), "module=syncstate") {
		t.Errorf("module attr missing: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "heads=2") {
		t.Errorf("record attr missing: %q", buf.String())
	}
}

func TestTerminalHandlerGroups(t *testing.T) {
	var buf bytes.Buffer
	h := NewTerminalHandler(&buf, TerminalHandlerOptions{})
	l := slog.New(h).WithGroup("peer")

	l.Info("connected", "addr", "127.0.0.1:9000")
	if !strings.Contains(buf.String(), "peer.addr=127.0.0.1:9000") {
		t.Errorf("grouped attr wrong: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{" info ", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
