package sampler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
)

const (
	scannerInitialBuffer = 64 * 1024
	scannerMaxBuffer     = 1024 * 1024
)

// LineSource yields one raw output line per call. NextLine blocks until a
// line is available or the stream ends; after a non-nil error the source is
// exhausted. Implementations backed by a process return *ExitError once the
// process has terminated.
type LineSource interface {
	NextLine() (string, error)
	Close() error
}

// ExitError reports that the monitoring process terminated. ExitCode is the
// process exit status, or -1 when the process never ran to completion.
type ExitError struct {
	ExitCode int
	Err      error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("monitoring process exited (code %d): %v", e.ExitCode, e.Err)
	}
	return fmt.Sprintf("monitoring process exited (code %d)", e.ExitCode)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// CmdSource streams stdout lines from a monitoring subprocess.
type CmdSource struct {
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	scanner *bufio.Scanner
	logger  *slog.Logger

	waited  bool
	waitErr error
}

// StartCommand launches the monitoring utility and returns a source over its
// stdout. The process inherits stderr so driver warnings stay visible. The
// supplied context kills the process when cancelled.
func StartCommand(ctx context.Context, path string, args []string, logger *slog.Logger) (*CmdSource, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", path, err)
	}
	logger.Info("monitoring process started", "path", path, "pid", cmd.Process.Pid)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, scannerInitialBuffer), scannerMaxBuffer)

	return &CmdSource{
		cmd:     cmd,
		stdout:  stdout,
		scanner: scanner,
		logger:  logger,
	}, nil
}

// NextLine returns the next stdout line. When the stream ends it reaps the
// process and returns *ExitError carrying its exit status; a clean exit is
// reported as code 0 with a nil wrapped error.
func (s *CmdSource) NextLine() (string, error) {
	if s.scanner.Scan() {
		return s.scanner.Text(), nil
	}

	scanErr := s.scanner.Err()
	s.wait()

	exitErr := &ExitError{ExitCode: s.exitCode()}
	switch {
	case scanErr != nil:
		exitErr.Err = scanErr
	case s.waitErr != nil && !isExitStatus(s.waitErr):
		exitErr.Err = s.waitErr
	}
	return "", exitErr
}

// Close kills the process if it is still running and reaps it. Safe to call
// after NextLine reported the exit.
func (s *CmdSource) Close() error {
	if s.cmd.Process != nil && !s.waited {
		_ = s.cmd.Process.Kill()
	}
	s.wait()
	if s.waitErr == nil || isExitStatus(s.waitErr) {
		return nil
	}
	return s.waitErr
}

func (s *CmdSource) wait() {
	if s.waited {
		return
	}
	s.waited = true
	s.waitErr = s.cmd.Wait()
}

func (s *CmdSource) exitCode() int {
	if s.cmd.ProcessState == nil {
		return -1
	}
	return s.cmd.ProcessState.ExitCode()
}

func isExitStatus(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
