// Package harness runs the subject test executable against a bound peer and
// reports the subject's exit code as its own.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/mumumio1/llpeer/internal/log"
)

// Server is the accept loop the harness keeps alive for the subject.
type Server interface {
	Serve() error
}

// Subject describes the command under test.
type Subject struct {
	// Args is the subject command line; Args[0] is a path, not looked up in PATH.
	Args []string
	// PortEnv names the environment variable carrying the peer's port.
	PortEnv string
	// Valgrind wraps the subject in ValgrindCommand.
	Valgrind        bool
	ValgrindCommand []string

	// Stdout and Stderr default to the harness's own.
	Stdout io.Writer
	Stderr io.Writer
}

// Command builds the child process for port. The parent environment is not
// modified.
func (s Subject) Command(ctx context.Context, port int) (*exec.Cmd, error) {
	if len(s.Args) == 0 {
		return nil, errors.New("no subject command")
	}
	if s.PortEnv == "" {
		return nil, errors.New("no port environment variable")
	}

	var cmd *exec.Cmd
	if s.Valgrind {
		if len(s.ValgrindCommand) == 0 {
			return nil, errors.New("valgrind requested but no valgrind command configured")
		}
		argv := append(append([]string{}, s.ValgrindCommand...), s.Args...)
		cmd = exec.CommandContext(ctx, argv[0], argv[1:]...)
	} else {
		cmd = exec.CommandContext(ctx, s.Args[0], s.Args[1:]...)
		cmd.Path = s.Args[0]
		cmd.Err = nil
	}

	cmd.Env = append(os.Environ(), s.PortEnv+"="+strconv.Itoa(port))
	cmd.Stdin = os.Stdin
	cmd.Stdout = s.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = s.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	return cmd, nil
}

// Run starts srv in the background, runs the subject to completion and
// returns its exit code. The server goroutine is never joined; it ends with
// the process. A non-nil error means the subject could not be run at all.
func Run(ctx context.Context, srv Server, port int, subject Subject, logger log.Logger) (int, error) {
	go func() {
		if err := srv.Serve(); err != nil {
			logger.Error("Peer stopped serving", log.Error(err))
		}
	}()

	cmd, err := subject.Command(ctx, port)
	if err != nil {
		return 1, err
	}

	logger.Info("Running subject",
		log.Strings("args", cmd.Args),
		log.String("port_env", subject.PortEnv),
		log.Int("port", port),
		log.Bool("valgrind", subject.Valgrind),
	)

	err = cmd.Run()
	code, ok := ExitCode(err)
	if !ok {
		return 1, fmt.Errorf("run subject: %w", err)
	}

	logger.Info("Subject exited", log.Int("exit_code", code))
	return code, nil
}

type signaledStatus interface {
	Signaled() bool
	Signal() syscall.Signal
}

// ExitCode maps the result of cmd.Run to a process exit code. A subject
// killed by a signal yields 128+signal. ok is false when err says the
// subject never ran.
func ExitCode(err error) (code int, ok bool) {
	if err == nil {
		return 0, true
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 1, false
	}
	if ws, isWS := exitErr.Sys().(signaledStatus); isWS && ws.Signaled() {
		return 128 + int(ws.Signal()), true
	}
	if c := exitErr.ExitCode(); c >= 0 {
		return c, true
	}
	return 1, true
}
