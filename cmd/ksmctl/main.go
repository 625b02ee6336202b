package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/animalet/sargantana-ksm/cmd/ksmctl/commands"
	_ "github.com/animalet/sargantana-ksm/pkg/ksm/keeper"
)

// Version information set during build
var (
	version = "dev"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g := &commands.Globals{}
	defer func() {
		_ = g.Close()
	}()

	err := commands.NewRootCommand(g, version).ExecuteContext(ctx)
	code := commands.ExitCode(err)
	switch {
	case code == commands.ExitRestart:
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
	case err != nil:
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return code
}
