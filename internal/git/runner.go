package git

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/shinji-kodama/releasectl/internal/model"
)

// Runner executes a git subcommand and returns its trimmed stdout.
// Implementations must return a *model.CLIError with ExitGitError
// wrapping a *CommandError when the command exits non-zero.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// CommandError carries everything captured from a failed git invocation.
type CommandError struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

// Error satisfies the error interface.
func (e *CommandError) Error() string {
	return fmt.Sprintf("git %s: exit status %d", strings.Join(e.Args, " "), e.ExitCode)
}

// Unwrap returns the underlying exec error.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExecRunner runs the git binary against the repository at Dir.
type ExecRunner struct {
	// Dir is passed to git via -C so the process working directory is
	// never changed.
	Dir string
	Log logrus.FieldLogger
}

// NewExecRunner creates an ExecRunner for the repository at dir.
func NewExecRunner(dir string, log logrus.FieldLogger) *ExecRunner {
	return &ExecRunner{Dir: dir, Log: log}
}

// Run executes `git -C Dir args...` synchronously.
//
// stdout is logged at info level. stderr is logged at info level on
// success (git reports push progress there) and at error level on
// failure.
func (r *ExecRunner) Run(ctx context.Context, args ...string) (string, error) {
	r.Log.Infof("Running command: git %s", strings.Join(args, " "))

	fullArgs := append([]string{"-C", r.Dir}, args...)

	// #nosec G204 -- args are built internally from validated versions and config
	cmd := exec.CommandContext(ctx, "git", fullArgs...)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := strings.TrimSpace(stdout.String())
	errOut := strings.TrimSpace(stderr.String())

	if out != "" {
		r.Log.Info(out)
	}

	if err != nil {
		if errOut != "" {
			r.Log.Error(errOut)
		}
		cmdErr := &CommandError{Args: args, ExitCode: -1, Stdout: out, Stderr: errOut, Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cmdErr.ExitCode = exitErr.ExitCode()
		}

		message := fmt.Sprintf("git %s failed", strings.Join(args, " "))
		if errOut != "" {
			message = fmt.Sprintf("%s: %s", message, errOut)
		}
		return out, model.WrapCLIError(model.ExitGitError, message, cmdErr)
	}

	if errOut != "" {
		r.Log.Info(errOut)
	}
	return out, nil
}

// commandError extracts the *CommandError from err, or returns nil.
func commandError(err error) *CommandError {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr
	}
	return nil
}
