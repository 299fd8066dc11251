// Package sizenego implements the Size Negotiator: it owns the single
// authoritative (cols, rows) for a session and decides, depending on
// whether the session runs server-driven or headless, who is allowed to
// change it.
//
// Server-driven sessions track the controlling terminal of the process
// that launched ptyshare (via SIGWINCH), the way an ordinary terminal
// multiplexer does. Headless sessions have no controlling terminal at
// all, so size comes only from explicit client WinSize messages — it is
// never inferred from the transport (the websocket frame carries no
// notion of "terminal size"). When more than one viewer sends a resize
// concurrently in headless mode, whichever one is applied last wins; no
// attempt is made to reconcile or negotiate a compromise size.
package sizenego

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/term"
)

// Resizer is the subset of ptyhost.Handle the negotiator needs.
type Resizer interface {
	Resize(cols, rows int) error
}

// ChangeFunc is invoked, under no lock, whenever the authoritative size
// changes. The Session Controller wires this to broadcast a WinSize
// message to every viewer, including whichever one caused the change.
type ChangeFunc func(cols, rows int)

// Negotiator holds the single authoritative size for a session.
type Negotiator struct {
	mu       sync.Mutex
	cols     int
	rows     int
	headless bool
	resizer  Resizer
	onChange ChangeFunc
}

// New creates a Negotiator seeded with an initial size.
func New(resizer Resizer, initialCols, initialRows int, headless bool) *Negotiator {
	return &Negotiator{
		cols:     initialCols,
		rows:     initialRows,
		headless: headless,
		resizer:  resizer,
	}
}

// OnChange registers the callback fired after every accepted resize.
// Only one callback is supported; the Session Controller is the only
// caller that should register one.
func (n *Negotiator) OnChange(fn ChangeFunc) {
	n.mu.Lock()
	n.onChange = fn
	n.mu.Unlock()
}

// Size returns the current authoritative size.
func (n *Negotiator) Size() (cols, rows int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cols, n.rows
}

// Headless reports whether this session is in headless mode.
func (n *Negotiator) Headless() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.headless
}

// ApplyClientResize applies a client-originated WinSize hint. It is a
// no-op outside headless mode: a server-driven session's size is owned
// exclusively by the local controlling terminal, and a client resize
// message arriving on such a session is accepted by the wire decoder
// but discarded here rather than acted on. Returns true if the size was
// actually applied.
func (n *Negotiator) ApplyClientResize(cols, rows int) (applied bool, err error) {
	n.mu.Lock()
	if !n.headless {
		n.mu.Unlock()
		return false, nil
	}
	changed := cols != n.cols || rows != n.rows
	n.cols, n.rows = cols, rows
	resizer := n.resizer
	onChange := n.onChange
	n.mu.Unlock()

	if !changed {
		return true, nil
	}
	if resizer != nil {
		if err := resizer.Resize(cols, rows); err != nil {
			return true, err
		}
	}
	if onChange != nil {
		onChange(cols, rows)
	}
	return true, nil
}

// applyLocal is the server-driven counterpart of ApplyClientResize: it is
// fed by WatchLocalTerminal and always takes effect regardless of mode,
// since it runs only when the session itself is configured server-driven.
func (n *Negotiator) applyLocal(cols, rows int) error {
	n.mu.Lock()
	changed := cols != n.cols || rows != n.rows
	n.cols, n.rows = cols, rows
	resizer := n.resizer
	onChange := n.onChange
	n.mu.Unlock()

	if !changed {
		return nil
	}
	if resizer != nil {
		if err := resizer.Resize(cols, rows); err != nil {
			return err
		}
	}
	if onChange != nil {
		onChange(cols, rows)
	}
	return nil
}

// WatchLocalTerminal tracks the size of fd (expected to be the process's
// controlling terminal) and applies every change until ctx is cancelled.
// It is only meaningful for server-driven sessions; callers must not
// start it for a headless session.
func (n *Negotiator) WatchLocalTerminal(ctx context.Context, fd int) error {
	if cols, rows, err := term.GetSize(fd); err == nil {
		_ = n.applyLocal(cols, rows)
	}

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-winch:
			cols, rows, err := term.GetSize(fd)
			if err != nil {
				continue
			}
			if err := n.applyLocal(cols, rows); err != nil {
				return err
			}
		}
	}
}
