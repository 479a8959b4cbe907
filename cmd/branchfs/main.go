package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/absfs/branchfs/internal/cli"
)

func main() {
	if err := mainE(); err != nil {
		log.Fatalf("error during command execution: %v", err)
	}
}

func mainE() error {
	ctx, done := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer done()

	return cli.New().ExecuteContext(ctx)
}
