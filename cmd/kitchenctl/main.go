package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prepline/kitchend/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runner := cli.NewRunner("", os.Stdout, os.Stderr)
	os.Exit(runner.Run(ctx, os.Args[1:]))
}
