package cmd

import (
	"context"
	"errors"
	"flag"
	"io"
	"testing"
	"time"

	"github.com/louisbranch/masquerade/internal/platform/config"
)

type testConfig struct {
	Address string        `env:"MASQUERADE_CMD_TEST_ADDRESS" envDefault:"127.0.0.1:8080"`
	Wait    time.Duration `env:"MASQUERADE_CMD_TEST_WAIT" envDefault:"1s"`
}

func TestParseConfigReadsEnvAndFlags(t *testing.T) {
	t.Setenv("MASQUERADE_CMD_TEST_ADDRESS", "env:9000")
	t.Setenv("MASQUERADE_CMD_TEST_WAIT", "3s")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfgRef := testConfig{}
	if err := ParseConfig(&cfgRef); err != nil {
		t.Fatalf("load config defaults: %v", err)
	}
	fs.StringVar(&cfgRef.Address, "address", cfgRef.Address, "address")
	fs.DurationVar(&cfgRef.Wait, "wait", cfgRef.Wait, "wait")

	if err := ParseArgs(fs, []string{"-address", "flag:9001"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if cfgRef.Address != "flag:9001" {
		t.Fatalf("expected flag value for address, got %q", cfgRef.Address)
	}
	if cfgRef.Wait != 3*time.Second {
		t.Fatalf("expected env default wait, got %v", cfgRef.Wait)
	}
}

func TestParseConfigMalformedEnvIsUsageError(t *testing.T) {
	t.Setenv("MASQUERADE_CMD_TEST_WAIT", "soon")

	err := ParseConfig(&testConfig{})
	if config.ExitCode(err) != config.ExitUsage {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestParseConfigRejectsNilTarget(t *testing.T) {
	if err := ParseConfig[testConfig](nil); err == nil {
		t.Fatal("expected nil target error")
	}
}

func TestParseArgsErrors(t *testing.T) {
	if err := ParseArgs(nil, []string{}); err == nil {
		t.Fatal("expected parse args to reject nil parser")
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	err := ParseArgs(fs, []string{"-unknown"})
	if config.ExitCode(err) != config.ExitUsage {
		t.Fatalf("expected usage error, got %v", err)
	}

	fs = flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	err = ParseArgs(fs, []string{"-h"})
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("expected flag.ErrHelp, got %v", err)
	}
	if config.ExitCode(err) != config.ExitOK {
		t.Fatalf("expected help to exit cleanly, got %d", config.ExitCode(err))
	}
}

func TestRunWithTelemetryRejectsMissingInputs(t *testing.T) {
	if err := RunWithTelemetry(context.Background(), "", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected missing service error")
	}
	if err := RunWithTelemetry(context.Background(), ServiceMasquerade, nil); err == nil {
		t.Fatal("expected missing run function error")
	}
}

func TestRunWithTelemetryRunsLoop(t *testing.T) {
	t.Setenv("MASQUERADE_OTEL_ENDPOINT", "")
	boom := errors.New("boom")
	called := false
	err := runWithTelemetry(context.Background(), ServiceMasquerade, time.Millisecond, func(context.Context) error {
		called = true
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected run error, got %v", err)
	}
	if !called {
		t.Fatal("expected run function to be called")
	}
}

func TestSignalContextFollowsParent(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	ctx, stop := SignalContext(parent)
	defer stop()

	cancelParent()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("expected signal context to end with its parent")
	}
}
