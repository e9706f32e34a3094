package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/vk/stagegrid/internal/app"
	"github.com/vk/stagegrid/internal/cli"
	"github.com/vk/stagegrid/internal/procpool"
)

// main is the entrypoint for the stagegrid application. When the binary
// was re-executed as a process-pool worker it never reaches the CLI: it
// serves pool jobs over stdin/stdout until the parent closes the pipe.
func main() {
	if procpool.IsWorkerProcess() {
		if err := procpool.WorkerMain(app.WorkerJobs()); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := run(os.Stdout, os.Args[1:]); err != nil {
		if exitErr, ok := err.(*cli.ExitError); ok {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the main application logic for easier testing and
// error handling.
func run(outW io.Writer, args []string) (err error) {
	appConfig, shouldExit, parseErr := cli.Parse(args, outW)
	if parseErr != nil {
		return parseErr
	}
	if shouldExit {
		return nil
	}

	// The app panics on critical config errors; recover into a clean
	// error so the user gets a message instead of a stack trace.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("application startup panicked: %v", r)
		}
	}()

	stagegridApp := app.NewApp(outW, appConfig)
	return stagegridApp.Run(context.Background())
}
