// Command fintrack is a terminal client for the personal finance API.
//
//	fintrack login -u alice
//	fintrack tx list -from 2024-01-01 -to 2024-01-31
//	fintrack budget add -month 2024-03 -amount 500
//	fintrack summary
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"fintrack/internal/cli"
	"fintrack/internal/gateway"
	"fintrack/internal/log"
)

func main() {
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat, log.ComponentCLI)

	ctx, stop := cli.SignalContext()
	defer stop()

	app, err := cli.Bootstrap(ctx, cfg, logger, sessionExpiredNotice(os.Stderr))
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}

	err = run(ctx, app, os.Args[1:], os.Stdout, os.Stdin)
	if cerr := app.Close(); cerr != nil {
		logger.Warn("Cleanup failed", "error", cerr)
	}

	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	case errors.Is(err, gateway.ErrSessionEnded):
		// The notice was already printed.
		os.Exit(1)
	default:
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// sessionExpiredNotice is the "back to the login screen" of a terminal.
func sessionExpiredNotice(w io.Writer) gateway.LogoutFunc {
	return func(context.Context, error) {
		fmt.Fprintln(w, "Your session has expired. Sign in again with: fintrack login -u <username>")
	}
}
