package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/steigerbuild/steiger/pkg/cli"
	"github.com/steigerbuild/steiger/pkg/errors"
	"github.com/steigerbuild/steiger/pkg/util/console"
)

func main() {
	cmd, err := cli.NewRootCommand()
	if err != nil {
		console.Fatalf("%s", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = cmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		console.Errorf("%s", err)
	}
	os.Exit(errors.ExitCode(err))
}
