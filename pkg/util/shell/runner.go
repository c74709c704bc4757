// Package shell runs external tools with output streaming, stderr capture and cancellation.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/steigerbuild/steiger/pkg/util/console"
)

const stderrTailSize = 8 * 1024

// Stream identifies which output of a process a line came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

// Command describes one invocation of an external tool.
type Command struct {
	Name  string
	Args  []string
	Dir   string
	Env   []string
	Stdin io.Reader

	// OnLine, when set, receives every output line as it is produced.
	OnLine func(stream Stream, line string)
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Result holds the captured output of a finished command.
type Result struct {
	Stdout []byte
	// Stderr is the tail of the standard error stream.
	Stderr string
}

// Runner executes commands. Implementations must stop the process when ctx is done.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExitError reports a tool that ran and exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Command, e.Code)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + lastLines(stderr, 10)
	}
	return msg
}

// ExecRunner runs commands as child processes.
type ExecRunner struct {
	// GracePeriod is how long a canceled process gets between SIGTERM and SIGKILL.
	GracePeriod time.Duration
}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{GracePeriod: 10 * time.Second}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (*Result, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdin = c.Stdin
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.GracePeriod

	var stdout bytes.Buffer
	stderr := newTailWriter(stderrTailSize)

	var stdoutLines, stderrLines *LineWriter
	if c.OnLine != nil {
		stdoutLines = NewLineWriter(func(line string) { c.OnLine(Stdout, line) })
		stderrLines = NewLineWriter(func(line string) { c.OnLine(Stderr, line) })
		cmd.Stdout = io.MultiWriter(&stdout, stdoutLines)
		cmd.Stderr = io.MultiWriter(stderr, stderrLines)
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = stderr
	}

	console.Debug("$ " + c.String())
	err := cmd.Run()
	if stdoutLines != nil {
		stdoutLines.Flush()
		stderrLines.Flush()
	}
	result := &Result{Stdout: stdout.Bytes(), Stderr: stderr.String()}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("%s: %w", c.Name, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return result, &ExitError{Command: c.Name, Code: exitErr.ExitCode(), Stderr: result.Stderr}
		}
		return result, fmt.Errorf("running %s: %w", c.Name, err)
	}
	return result, nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
