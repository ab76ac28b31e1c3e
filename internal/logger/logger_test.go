package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestJSONFiltersByLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelWarn)
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info record written at warn level: %s", buf.String())
	}
	log.Warn("shown", "key", "value")
	out := buf.String()
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"key":"value"`) {
		t.Fatalf("unexpected json record: %s", out)
	}
}

func TestNewFormat(t *testing.T) {
	t.Parallel()
	cases := []struct {
		format string
		want   string
		err    bool
	}{
		{format: "json", want: `"msg":"hi"`},
		{format: "text", want: "msg=hi"},
		{format: "pretty", want: "INF"},
		{format: "", want: "INF"},
		{format: "xml", err: true},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		log, err := NewFormat(&buf, tc.format, slog.LevelInfo)
		if tc.err {
			if err == nil {
				t.Fatalf("format %q: expected error", tc.format)
			}
			continue
		}
		if err != nil {
			t.Fatalf("format %q: %v", tc.format, err)
		}
		log.Info("hi")
		if !strings.Contains(buf.String(), tc.want) {
			t.Fatalf("format %q: output %q lacks %q", tc.format, buf.String(), tc.want)
		}
	}
}

func TestNopDiscards(t *testing.T) {
	t.Parallel()
	log := Nop().With("a", 1).WithGroup("g")
	log.Error("nothing")
}

func TestContextCarriesLogger(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	ctx := WithContext(context.Background(), JSON(&buf, slog.LevelInfo))
	FromContext(ctx).Info("via context")
	if !strings.Contains(buf.String(), "via context") {
		t.Fatalf("context logger not used: %s", buf.String())
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext returned nil without a stored logger")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		" warn ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"loud":    slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPrettyGroupsAndAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, nil)
	log := slog.New(h.WithAttrs([]slog.Attr{slog.String("svc", "api")}).WithGroup("a").WithGroup("b"))
	log.Info("nested", "key", "val", "note", "two words")

	out := buf.String()
	for _, want := range []string{"svc=api", "a.b.key=val", `a.b.note="two words"`, "nested"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q lacks %q", out, want)
		}
	}
	if strings.Contains(out, "a.b.svc") {
		t.Fatalf("attrs added before a group must not be prefixed: %q", out)
	}
}

func TestPrettyEnabled(t *testing.T) {
	t.Parallel()
	h := NewPrettyHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info enabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("error disabled at warn level")
	}
	if h.WithGroup("") != slog.Handler(h) {
		t.Fatal("empty group should return the same handler")
	}
}
