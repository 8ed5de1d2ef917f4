package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"stagewhisper/internal/domain"
)

func TestRequireReady(t *testing.T) {
	t.Parallel()

	app := &App{}
	if err := app.requireReady(); err == nil {
		t.Fatalf("expected uninitialized error")
	}

	bootErr := errors.New("boot")
	app.bootErr = bootErr
	if err := app.requireReady(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error, got %v", err)
	}
}

func TestStatusWhenNotInitialized(t *testing.T) {
	t.Parallel()

	app := NewApp(nil)
	status := app.Status()
	if status.Connection != domain.ConnectionIdle || status.Running {
		t.Fatalf("unexpected status: %+v", status)
	}

	app.bootErr = errors.New("boot")
	status = app.Status()
	if status.Connection != domain.ConnectionClosed || status.Message != "boot" {
		t.Fatalf("unexpected boot status: %+v", status)
	}
}

func TestSinkMethodsSafeWithoutHub(t *testing.T) {
	t.Parallel()

	app := NewApp(nil)
	app.ConnectionStateChanged(domain.ConnectionIdle, domain.ReasonStartup)
	app.SessionError(domain.ErrorCodeStartup, "boom")
}

func TestRootCommandTree(t *testing.T) {
	t.Parallel()

	want := map[string]bool{
		"run":      false,
		"sources":  false,
		"classify": false,
		"version":  false,
	}
	for _, cmd := range rootCmd.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("missing %q subcommand", name)
		}
	}
}

func TestVersionCommandOutput(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	defer versionCmd.SetOut(nil)

	versionCmd.Run(versionCmd, nil)
	if !strings.Contains(out.String(), "stagewhisper "+version) {
		t.Fatalf("unexpected version output: %q", out.String())
	}
}

func TestBuildLoggerRejectsBadLevel(t *testing.T) {
	t.Parallel()

	if _, err := buildLogger("chatty"); err == nil {
		t.Fatalf("expected level parse error")
	}
	logger, err := buildLogger("debug")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = logger.Sync()
}
