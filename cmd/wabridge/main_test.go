package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"wabridge/internal/config"
	"wabridge/internal/lock"
)

func TestBuildLimiter(t *testing.T) {
	if l := buildLimiter(0); l != nil {
		t.Error("zero rate should disable the limiter")
	}
	l := buildLimiter(2.5)
	if l == nil {
		t.Fatal("limiter is nil")
	}
	if l.Burst() != 3 {
		t.Errorf("burst = %d, want 3", l.Burst())
	}
}

func TestBuildLocker(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	l, closeFn, err := buildLocker(ctx, config.DispatchConfig{Serialize: "none"}, log)
	if err != nil {
		t.Fatal(err)
	}
	closeFn()
	if _, ok := l.(lock.None); !ok {
		t.Errorf("none: got %T", l)
	}

	l, closeFn, err = buildLocker(ctx, config.DispatchConfig{Serialize: "local"}, log)
	if err != nil {
		t.Fatal(err)
	}
	closeFn()
	if _, ok := l.(*lock.Local); !ok {
		t.Errorf("local: got %T", l)
	}

	mr := miniredis.RunT(t)
	l, closeFn, err = buildLocker(ctx, config.DispatchConfig{Serialize: "redis", RedisAddr: mr.Addr(), LockTTLSeconds: 5}, log)
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	if _, ok := l.(*lock.Redis); !ok {
		t.Errorf("redis: got %T", l)
	}
	unlock, err := l.Lock(ctx, "6281@c.us")
	if err != nil {
		t.Fatal(err)
	}
	unlock()
}

func TestBuildLocker_RedisUnreachable(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, _, err := buildLocker(context.Background(), config.DispatchConfig{Serialize: "redis", RedisAddr: "127.0.0.1:1"}, log)
	if err == nil {
		t.Fatal("expected error for unreachable redis")
	}
}

func TestRenderUnit(t *testing.T) {
	unit := renderUnit(systemdTemplate, map[string]string{"EXEC": "/usr/local/bin/wabridge", "CONFIG": "/etc/wabridge.yaml"})
	if !strings.Contains(unit, "ExecStart=/usr/local/bin/wabridge serve --config /etc/wabridge.yaml") {
		t.Errorf("unit:\n%s", unit)
	}
	if strings.Contains(unit, "{{") {
		t.Error("unit has unfilled placeholders")
	}
}

func TestNormalizeCommand(t *testing.T) {
	configPath = filepath.Join(t.TempDir(), "missing.json")
	defer func() { configPath = "" }()

	cmd := normalizeCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"0812-3456-7890", "6281"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	want := "6281234567890@c.us\n6281@c.us\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}
