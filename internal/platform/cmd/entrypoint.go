package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/louisbranch/masquerade/internal/platform/config"
	"github.com/louisbranch/masquerade/internal/platform/otel"
	"github.com/louisbranch/masquerade/internal/platform/timeouts"
)

// Service identifiers for command startup telemetry and CLI naming consistency.
const (
	// ServiceMasquerade hosts the popup side of the broker and the mask state.
	ServiceMasquerade = "masquerade"
)

// ParseConfig loads environment defaults into cfg. Malformed variables are
// reported as usage errors.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	return config.Usage(config.ParseEnv(cfg))
}

// ParseArgs parses command-line flags. A help request is returned as is so
// callers can exit cleanly.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if args == nil {
		args = []string{}
	}
	err := fs.Parse(args)
	if err == nil || errors.Is(err, flag.ErrHelp) {
		return err
	}
	return config.Usage(err)
}

// SignalContext returns a context cancelled on interrupt or termination.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// RunWithTelemetry configures tracing for service, runs it and flushes pending
// spans within timeouts.TelemetryShutdown once run returns.
func RunWithTelemetry(ctx context.Context, service string, run func(context.Context) error) error {
	return runWithTelemetry(ctx, service, timeouts.TelemetryShutdown, run)
}

func runWithTelemetry(ctx context.Context, service string, flush time.Duration, run func(context.Context) error) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return fmt.Errorf("service name is required")
	}
	if run == nil {
		return fmt.Errorf("run function is required")
	}
	shutdown, err := otel.Setup(ctx, service)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), flush)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Printf("%s otel shutdown: %v", service, err)
		}
	}()
	return run(ctx)
}
