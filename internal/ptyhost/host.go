// Package ptyhost owns a pseudo-terminal and the child process attached to
// it: spawn, byte-oriented read/write, resize, and graceful teardown.
package ptyhost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	retry "github.com/avast/retry-go/v5"
)

// SpawnErrorKind classifies why spawn failed.
type SpawnErrorKind int

const (
	SpawnErrorOther SpawnErrorKind = iota
	SpawnErrorCommandNotFound
	SpawnErrorPermissionDenied
	SpawnErrorResourceExhausted
)

// SpawnError wraps a spawn failure with a classified Kind so callers can
// branch with errors.As instead of string-matching.
type SpawnError struct {
	Kind SpawnErrorKind
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn: %v", e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Config describes a session to spawn.
type Config struct {
	Command string
	Args    []string
	Env     []string
	Dir     string

	InitialCols int
	InitialRows int

	// TeardownSignal is sent to the child's process group when the handle
	// is torn down. Defaults to SIGHUP.
	TeardownSignal syscall.Signal
	// GracePeriod is how long teardown waits after TeardownSignal before
	// escalating to SIGKILL. Defaults to 3s.
	GracePeriod time.Duration
}

func (c Config) withDefaults() Config {
	if c.TeardownSignal == 0 {
		c.TeardownSignal = syscall.SIGHUP
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = 3 * time.Second
	}
	return c
}

// Handle is a running PTY-attached child process.
type Handle struct {
	cfg  Config
	ptmx *os.File
	cmd  *exec.Cmd

	mu   sync.Mutex
	size pty.Winsize

	done     chan struct{}
	exitErr  error
	exitOnce sync.Once

	teardownOnce sync.Once
}

// Spawn creates a PTY pair and starts cfg.Command attached to its slave
// side as the controlling terminal. Transient resource-exhaustion failures
// are retried with bounded backoff before giving up.
func Spawn(ctx context.Context, cfg Config) (*Handle, error) {
	cfg = cfg.withDefaults()

	binPath, err := exec.LookPath(cfg.Command)
	if err != nil {
		return nil, &SpawnError{Kind: SpawnErrorCommandNotFound, Err: err}
	}

	var h *Handle
	spawnErr := retry.Do(
		func() error {
			cmd := exec.CommandContext(ctx, binPath, cfg.Args...)
			cmd.Env = cfg.Env
			cmd.Dir = cfg.Dir
			cmd.SysProcAttr = setsid()

			size := &pty.Winsize{
				Cols: clampSize(cfg.InitialCols),
				Rows: clampSize(cfg.InitialRows),
			}

			ptmx, startErr := pty.StartWithSize(cmd, size)
			if startErr != nil {
				return classifySpawnErr(startErr)
			}

			h = &Handle{
				cfg:  cfg,
				ptmx: ptmx,
				cmd:  cmd,
				size: *size,
				done: make(chan struct{}),
			}
			go h.reap()
			return nil
		},
		retry.Attempts(4),
		retry.Delay(50*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool {
			var se *SpawnError
			return errors.As(err, &se) && se.Kind == SpawnErrorResourceExhausted
		}),
	)
	if spawnErr != nil {
		var se *SpawnError
		if errors.As(spawnErr, &se) {
			return nil, se
		}
		return nil, &SpawnError{Kind: SpawnErrorOther, Err: spawnErr}
	}
	return h, nil
}

func classifySpawnErr(err error) *SpawnError {
	switch {
	case errors.Is(err, syscall.ENOENT):
		return &SpawnError{Kind: SpawnErrorCommandNotFound, Err: err}
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return &SpawnError{Kind: SpawnErrorPermissionDenied, Err: err}
	case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.ENOMEM), errors.Is(err, syscall.EMFILE), errors.Is(err, syscall.ENFILE):
		return &SpawnError{Kind: SpawnErrorResourceExhausted, Err: err}
	default:
		return &SpawnError{Kind: SpawnErrorOther, Err: err}
	}
}

func clampSize(v int) uint16 {
	if v < 1 {
		return 1
	}
	if v > 65535 {
		return 65535
	}
	return uint16(v)
}

// Read yields available PTY output bytes. It returns io.EOF once the
// child has closed the slave side.
func (h *Handle) Read(buf []byte) (int, error) {
	n, err := h.ptmx.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		// A read error on a closed PTY master is reported as EOF — the
		// caller treats both as end-of-session.
		return n, io.EOF
	}
	return n, err
}

// Write writes keystrokes to the PTY master, retrying on short writes.
func (h *Handle) Write(buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := h.ptmx.Write(buf[total:])
		total += n
		if err != nil {
			return total, fmt.Errorf("pty write: %w", err)
		}
		if n == 0 {
			return total, fmt.Errorf("pty write: no progress")
		}
	}
	return total, nil
}

// Resize updates the kernel-tracked window size, clamping to [1, 65535].
func (h *Handle) Resize(cols, rows int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	size := pty.Winsize{Cols: clampSize(cols), Rows: clampSize(rows)}
	if err := pty.Setsize(h.ptmx, &size); err != nil {
		return fmt.Errorf("pty resize: %w", err)
	}
	h.size = size
	return nil
}

// Size returns the last-applied window size.
func (h *Handle) Size() (cols, rows int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int(h.size.Cols), int(h.size.Rows)
}

// Pid returns the child process id.
func (h *Handle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *Handle) reap() {
	err := h.cmd.Wait()
	h.exitOnce.Do(func() {
		h.exitErr = err
		close(h.done)
	})
}

// Wait blocks until the child process has been reaped and returns its exit
// error (nil on a clean exit(0)).
func (h *Handle) Wait() error {
	<-h.done
	return h.exitErr
}

// Done returns a channel closed once the child has been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitCode returns the child's exit code. Only meaningful after Done() has
// fired; returns -1 if the process was killed by a signal.
func (h *Handle) ExitCode() int {
	select {
	case <-h.done:
	default:
		return -1
	}
	if h.exitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(h.exitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Teardown sends the configured teardown signal to the child's process
// group and escalates to SIGKILL after the grace period if it has not
// exited. Safe to call multiple times and after the child has already
// exited.
func (h *Handle) Teardown() {
	h.teardownOnce.Do(func() {
		pid := h.Pid()
		if pid <= 0 {
			return
		}
		signalGroup(pid, h.cfg.TeardownSignal)

		select {
		case <-h.done:
			return
		case <-time.After(h.cfg.GracePeriod):
		}

		select {
		case <-h.done:
			return
		default:
			signalGroup(pid, syscall.SIGKILL)
		}
	})
}

// Close releases the PTY master file descriptor. It does not itself
// terminate the child; call Teardown for that.
func (h *Handle) Close() error {
	return h.ptmx.Close()
}
