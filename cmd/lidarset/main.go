package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/logging"
	"github.com/lidarhumanremoval/Lidar-Human-Removal/internal/pipeline"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	logging.Sync()
	os.Exit(code)
}

// run executes the command tree and maps the outcome to an exit status.
func run(ctx context.Context, args []string) int {
	cmd := newRootCommand()
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return exitCode(err, cmd.ErrOrStderr())
}

// issuesError signals a stage that finished with reported issues.
type issuesError struct {
	res *pipeline.Result
}

func (e *issuesError) Error() string {
	return fmt.Sprintf("%s finished with %d issue(s)", e.res.Stage, len(e.res.Issues))
}

// finish turns a stage result into the command's error.
func finish(res *pipeline.Result) error {
	if res != nil && res.ExitCode() == pipeline.ExitIssues {
		return &issuesError{res: res}
	}
	return nil
}

func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return pipeline.ExitClean
	}
	var ie *issuesError
	if errors.As(err, &ie) {
		fmt.Fprintln(stderr, ie.Error())
		return pipeline.ExitIssues
	}
	if !errors.Is(err, context.Canceled) {
		fmt.Fprintln(stderr, "error:", err)
	}
	return pipeline.ExitFatal
}
