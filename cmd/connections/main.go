// Package main starts the connections service process lifecycle.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	connectionscmd "github.com/liaizen/coparent/internal/cmd/connections"
	"github.com/liaizen/coparent/internal/platform/config"
)

func main() {
	cfg, err := connectionscmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := connectionscmd.Run(ctx, cfg); err != nil {
		config.Exitf("run: %v", err)
	}
}
