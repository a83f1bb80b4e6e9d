package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Result carries the raw outcome of one external command.
type Result struct {
	Stdout []byte
	Stderr []byte
	Code   int
}

var ErrTimeout = errors.New("command timed out")

// Runner abstracts external command execution so stages can be exercised
// in tests without touching real devices.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error)
}

// ExecRunner runs commands via os/exec with a scrubbed locale so tool
// output stays machine-stable.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	cmd.Env = append(os.Environ(), "LANG=C", "LC_ALL=C")
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	res := Result{Stdout: outBuf.Bytes(), Stderr: errBuf.Bytes(), Code: exitCode(err)}
	if cctx.Err() == context.DeadlineExceeded {
		return res, ErrTimeout
	}
	if err != nil {
		return res, &CommandError{Name: name, Args: args, Code: res.Code, Stderr: truncate(errBuf.String(), 4096), Err: err}
	}
	return res, nil
}

// Run executes with the default runner. Kept as a package function so
// call sites that never need a seam stay short.
func Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	return ExecRunner{}.Run(ctx, timeout, name, args...)
}

// CommandError preserves the diagnostic text of a failed tool invocation
// while remaining classifiable by the caller.
type CommandError struct {
	Name   string
	Args   []string
	Code   int
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s %s: exit %d", e.Name, strings.Join(e.Args, " "), e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
