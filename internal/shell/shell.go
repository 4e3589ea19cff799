// Package shell runs the external network-management commands the
// extender is driven by.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Result struct {
	Stdout  []byte
	Stderr  []byte
	Code    int
	Skipped bool // dry run, nothing executed
}

var ErrTimeout = errors.New("command timed out")

// CommandError is returned when a command cannot be started or exits
// non-zero.
type CommandError struct {
	Name   string
	Args   []string
	Code   int
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s %s: exit %d", e.Name, strings.Join(Redact(e.Args), " "), e.Code)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Runner is what the orchestrator needs from a command executor.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
	// Spawn starts a detached process and does not wait for it.
	Spawn(name string, args ...string) error
}

type Executor struct {
	DryRun  bool
	Timeout time.Duration // zero means no limit
	log     zerolog.Logger
}

func NewExecutor(dryRun bool, timeout time.Duration, log zerolog.Logger) *Executor {
	return &Executor{
		DryRun:  dryRun,
		Timeout: timeout,
		log:     log.With().Str("component", "shell").Logger(),
	}
}

func (e *Executor) Run(ctx context.Context, name string, args ...string) (Result, error) {
	line := name + " " + strings.Join(Redact(args), " ")
	if e.DryRun {
		e.log.Info().Msgf("Running command: %s", line)
		return Result{Skipped: true}, nil
	}
	e.log.Debug().Str("cmd", line).Msg("exec")

	cctx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(cctx, name, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	res := Result{Stdout: outBuf.Bytes(), Stderr: errBuf.Bytes(), Code: exitCode(err)}
	if err == nil {
		return res, nil
	}
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		err = ErrTimeout
	}
	cerr := &CommandError{
		Name:   name,
		Args:   args,
		Code:   res.Code,
		Stderr: strings.TrimSpace(string(res.Stderr)),
		Err:    err,
	}
	e.log.Warn().Str("cmd", line).Int("code", res.Code).Str("stderr", cerr.Stderr).Msg("command failed")
	return res, cerr
}

func (e *Executor) Spawn(name string, args ...string) error {
	line := name + " " + strings.Join(Redact(args), " ")
	if e.DryRun {
		e.log.Info().Msgf("Running command: %s", line)
		return nil
	}
	cmd := exec.Command(name, args...)
	detach(cmd)
	if err := cmd.Start(); err != nil {
		return &CommandError{Name: name, Args: args, Code: -1, Err: err}
	}
	e.log.Info().Str("cmd", line).Int("pid", cmd.Process.Pid).Msg("spawned")
	go func() {
		if err := cmd.Wait(); err != nil {
			e.log.Warn().Err(err).Str("cmd", line).Msg("detached command exited")
		}
	}()
	return nil
}

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

// Redact masks the value of the password argument. nmcli takes the
// password last, so the value is the one after the last "password" that
// still has an argument following it; an ssid spelled "password" is left
// alone.
func Redact(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i := len(out) - 2; i >= 0; i-- {
		if out[i] == "password" {
			out[i+1] = "****"
			break
		}
	}
	return out
}
