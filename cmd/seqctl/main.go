// Package main is the entry point for the seqctl command line.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pitabwire/seqctl/internal/observability"
	"github.com/pitabwire/seqctl/internal/shell"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	observability.Version = version
	observability.Commit = commit

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := shell.Run(ctx, os.Args[1:], shell.IO{In: os.Stdin, Out: os.Stdout, Err: os.Stderr})
	stop()
	os.Exit(code)
}
