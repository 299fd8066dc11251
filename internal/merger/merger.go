// Package merger implements the Input Merger: it serializes keystroke
// frames from every writable viewer into the single PTY write stream, in
// strict FIFO order of when each Submit call completed.
package merger

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Writer is the subset of ptyhost.Handle the merger needs.
type Writer interface {
	Write(buf []byte) (int, error)
}

// ErrReadOnly is returned by Submit when the session or the submitting
// viewer is read-only; the bytes are rejected immediately and never
// reach the queue.
var ErrReadOnly = fmt.Errorf("merger: session or viewer is read-only")

type job struct {
	data []byte
}

// Merger drains a single FIFO queue into a PTY writer.
type Merger struct {
	w      Writer
	queue  chan job
	readOnly atomic.Bool

	errCh chan error
}

// New creates a Merger writing to w. queueSize bounds how many pending
// input frames may be buffered before Submit blocks the caller (ordinary
// typing never comes close to this; it exists so a stuck PTY write cannot
// grow memory without bound).
func New(w Writer, queueSize int) *Merger {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Merger{
		w:     w,
		queue: make(chan job, queueSize),
		errCh: make(chan error, 1),
	}
}

// SetReadOnly flips the session-wide read-only flag. When true, Submit
// rejects every viewer's input regardless of that viewer's own flag.
func (m *Merger) SetReadOnly(ro bool) {
	m.readOnly.Store(ro)
}

// Submit enqueues data for writing to the PTY. It rejects immediately
// (without enqueuing) if the session is read-only or viewerReadOnly is
// true. data is not retained by the caller's goroutine once Submit
// succeeds — ownership passes to the merger.
func (m *Merger) Submit(ctx context.Context, data []byte, viewerReadOnly bool) error {
	if viewerReadOnly || m.readOnly.Load() {
		return ErrReadOnly
	}
	select {
	case m.queue <- job{data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue to the PTY writer until ctx is cancelled. Each
// chunk is written atomically (Writer.Write is expected to retry short
// writes itself, as ptyhost.Handle.Write does). The first write error
// is reported on the returned channel and Run then exits; the Session
// Controller is expected to treat that as a PtyIoError and tear the
// session down.
func (m *Merger) Run(ctx context.Context) <-chan error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				m.errCh <- nil
				return
			case j := <-m.queue:
				if _, err := m.w.Write(j.data); err != nil {
					m.errCh <- fmt.Errorf("merger: pty write: %w", err)
					return
				}
			}
		}
	}()
	return m.errCh
}
