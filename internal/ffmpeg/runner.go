package ffmpeg

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

// maxStderr bounds how much diagnostic output is kept from one invocation.
const maxStderr = 16 * 1024

// Runner executes one ffmpeg invocation and waits for it to exit.
type Runner interface {
	Run(ctx context.Context, args []string) error
}

// ExitError reports an invocation that exited non-zero or was terminated.
type ExitError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("ffmpeg: exit code %d: %v", e.ExitCode, e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExecRunner runs ffmpeg as a subprocess.
type ExecRunner struct {
	// Binary is the ffmpeg executable. Default: "ffmpeg".
	Binary string

	// GracePeriod is how long a cancelled process may take to exit after
	// being interrupted before it is killed. Default: 5s.
	GracePeriod time.Duration
}

// Run executes the binary with args. A non-zero exit, a signal or a
// cancelled context is a failure; the tail of stderr is attached to the
// returned [*ExitError].
func (r ExecRunner) Run(ctx context.Context, args []string) error {
	binary := r.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	grace := r.GracePeriod
	if grace <= 0 {
		grace = 5 * time.Second
	}

	c := exec.CommandContext(ctx, binary, args...)
	var stderr tailBuffer
	c.Stderr = &stderr
	// ffmpeg finalises its output on SIGINT; only kill after the grace period.
	c.Cancel = func() error {
		if c.Process == nil {
			return nil
		}
		return c.Process.Signal(os.Interrupt)
	}
	c.WaitDelay = grace

	err := c.Run()
	if err == nil {
		return nil
	}
	exitErr := &ExitError{
		Args:     args,
		ExitCode: -1,
		Stderr:   strings.TrimSpace(stderr.String()),
		Err:      err,
	}
	if c.ProcessState != nil {
		exitErr.ExitCode = c.ProcessState.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		exitErr.Err = errors.Join(ctxErr, err)
	}
	return exitErr
}

// tailBuffer keeps the last maxStderr bytes written to it.
type tailBuffer struct {
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	t.buf.Write(p)
	if over := t.buf.Len() - maxStderr; over > 0 {
		t.buf.Next(over)
	}
	return n, nil
}

func (t *tailBuffer) String() string { return t.buf.String() }
