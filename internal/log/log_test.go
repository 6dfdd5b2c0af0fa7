package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/nanocms/nanocms/internal/xerrors"
)

func newTestLogger(t *testing.T, lvl slog.Level) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := New(Options{App: "test", Level: lvl, JsonFormat: true, Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, &buf
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &rec); err != nil {
		t.Fatalf("unmarshal log line %q: %v", lines[len(lines)-1], err)
	}
	return rec
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{" warn ", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", 0, true},
		{"", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		if tc.wantErr != (err != nil) {
			t.Errorf("ParseLevel(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestInfoIncludesFields(t *testing.T) {
	l, buf := newTestLogger(t, slog.LevelInfo)

	l.With("component", "server").Info(context.Background(), "hello", "count", 3)

	rec := lastRecord(t, buf)
	if rec["msg"] != "hello" {
		t.Fatalf("msg = %v", rec["msg"])
	}
	if rec["app"] != "test" {
		t.Fatalf("app attr missing: %v", rec)
	}
	if rec["component"] != "server" {
		t.Fatalf("With() attr missing: %v", rec)
	}
	if rec["count"] != float64(3) {
		t.Fatalf("kv attr missing: %v", rec)
	}
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newTestLogger(t, slog.LevelWarn)

	l.Info(context.Background(), "suppressed")
	if buf.Len() != 0 {
		t.Fatalf("info record emitted below level: %s", buf.String())
	}
	l.Warn(context.Background(), "kept")
	if buf.Len() == 0 {
		t.Fatal("warn record not emitted")
	}
}

func TestErrorIncludesChainAndStack(t *testing.T) {
	l, buf := newTestLogger(t, slog.LevelInfo)

	inner := xerrors.New("disk full")
	err := xerrors.Wrap(inner, "saving credentials")
	l.Error(context.Background(), err, "save failed")

	rec := lastRecord(t, buf)
	if rec["err"] != "saving credentials: disk full" {
		t.Fatalf("err attr = %v", rec["err"])
	}
	stack, _ := rec["stack"].(string)
	if !strings.Contains(stack, "log.TestErrorIncludesChainAndStack") && !strings.Contains(stack, "xerrors") {
		t.Fatalf("stack does not point at origin: %q", stack)
	}
}

func TestErrorNil(t *testing.T) {
	l, buf := newTestLogger(t, slog.LevelInfo)

	l.Error(context.Background(), nil, "plain error record")

	rec := lastRecord(t, buf)
	if _, ok := rec["err"]; ok {
		t.Fatalf("nil error produced err attr: %v", rec)
	}
}

func TestFromContextFallback(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext should never return nil")
	}
	l, _ := newTestLogger(t, slog.LevelInfo)
	ctx := WithContext(context.Background(), l)
	if FromContext(ctx) != l {
		t.Fatal("FromContext did not return the stored logger")
	}
}

func TestNopIsSilent(t *testing.T) {
	n := Nop()
	n.With("k", "v").Error(context.Background(), errors.New("x"), "ignored")
	if err := n.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}
