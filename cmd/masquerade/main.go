// Package main starts the masquerade broker and handles termination.
//
// The process hosts the popup side of every cross-window flow and owns the
// persisted mask state; opener sites only ever talk to it through a popup.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	masqueradecmd "github.com/louisbranch/masquerade/internal/cmd/masquerade"
	entrypoint "github.com/louisbranch/masquerade/internal/platform/cmd"
	"github.com/louisbranch/masquerade/internal/platform/config"
)

func main() {
	cfg, err := masqueradecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exit("parse flags", err)
	}
	log.SetPrefix("[MASQUERADE] ")

	ctx, stop := entrypoint.SignalContext(context.Background())
	defer stop()

	if err := masqueradecmd.Run(ctx, cfg); err != nil {
		stop()
		config.Exit("failed to serve", err)
	}
}
