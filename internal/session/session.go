// Package session implements the Session Controller: it owns one PTY
// Host, Broadcast Hub, Input Merger, and Size Negotiator for the
// lifetime of a single shared terminal, and mediates viewer attach and
// detach against that shared state.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"ptyshare/internal/hub"
	"ptyshare/internal/merger"
	"ptyshare/internal/ptyhost"
	"ptyshare/internal/sizenego"
	"ptyshare/internal/viewer"
	"ptyshare/internal/wire"
)

// Config describes how to spawn and run one session's PTY.
type Config struct {
	ID      string // empty selects a generated uuid
	Title   string
	Command string
	Args    []string
	Env     []string

	ReadOnly bool // session-wide: rejects input from every viewer
	Headless bool // explicit request; auto-detected if the process has no controlling terminal

	InitialCols int
	InitialRows int
}

// Controller owns one session's shared components.
type Controller struct {
	ID    string
	Title string

	log *slog.Logger

	pty    *ptyhost.Handle
	hub    *hub.Hub
	merger *merger.Merger
	neg    *sizenego.Negotiator

	readOnly atomic.Bool
	headless bool

	viewersMu sync.Mutex
	viewers   map[string]*viewer.Session
	nextVID   uint64

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	done     chan struct{}
	closeOnce sync.Once
}

// New spawns the PTY and wires the hub, merger, and size negotiator
// together. It also starts the session's background tasks (PTY reader,
// merger drain, local-terminal watcher when not headless, and the
// child-exit watcher) before returning.
func New(parent context.Context, cfg Config, log *slog.Logger) (*Controller, error) {
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}

	cols, rows := cfg.InitialCols, cfg.InitialRows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	headless := cfg.Headless
	if !headless && !term.IsTerminal(int(os.Stdin.Fd())) {
		headless = true
	}

	h, err := ptyhost.Spawn(parent, ptyhost.Config{
		Command:     cfg.Command,
		Args:        cfg.Args,
		Env:         cfg.Env,
		InitialCols: cols,
		InitialRows: rows,
	})
	if err != nil {
		return nil, fmt.Errorf("session %s: spawn: %w", id, err)
	}

	ctx, cancel := context.WithCancel(parent)
	group, gctx := errgroup.WithContext(ctx)

	c := &Controller{
		ID:      id,
		Title:   cfg.Title,
		log:     log,
		pty:     h,
		hub:     hub.New(0, 0),
		merger:  merger.New(h, 0),
		viewers: make(map[string]*viewer.Session),
		group:   group,
		ctx:     gctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.readOnly.Store(cfg.ReadOnly)
	c.merger.SetReadOnly(cfg.ReadOnly)
	c.headless = headless
	c.neg = sizenego.New(h, cols, rows, headless)
	c.neg.OnChange(c.broadcastWinSize)

	c.group.Go(func() error { return c.ptyReadLoop(gctx) })
	c.group.Go(func() error {
		err := <-c.merger.Run(gctx)
		return err
	})
	if !headless {
		c.group.Go(func() error {
			return c.neg.WatchLocalTerminal(gctx, int(os.Stdin.Fd()))
		})
	}
	c.group.Go(func() error {
		select {
		case <-h.Done():
			c.log.Info("pty exited", "session", c.ID, "exit_code", h.ExitCode())
			c.closeAllViewers(viewer.CloseServerShutdown)
			cancel()
			return nil
		case <-gctx.Done():
			return nil
		}
	})

	go func() {
		_ = c.group.Wait()
		// Idempotent: Shutdown may already have signalled the process
		// group to unblock the PTY reader before this point is reached.
		h.Teardown()
		h.Close()
		c.closeOnce.Do(func() { close(c.done) })
	}()

	return c, nil
}

func (c *Controller) ptyReadLoop(ctx context.Context) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := c.pty.Read(buf)
		if n > 0 {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			c.hub.Publish(frame)
		}
		if err != nil {
			// EOF means the child exited or was torn down; the exit-watch
			// goroutine observes h.Done() and drives the rest of teardown.
			return nil
		}
	}
}

func (c *Controller) broadcastWinSize(cols, rows int) {
	frame, err := wire.EncodeWinSize(cols, rows)
	if err != nil {
		c.log.Warn("encode winsize broadcast", "session", c.ID, "err", err)
		return
	}
	c.viewersMu.Lock()
	defer c.viewersMu.Unlock()
	for _, v := range c.viewers {
		v.Send(frame)
	}
}

// AttachViewer subscribes a new viewer to hub output and wires it to
// this session's merger and negotiator, then runs its state machine in
// a background goroutine until it closes. viewerReadOnly is this
// viewer's own write permission; the session-wide ReadOnly flag still
// applies on top of it.
func (c *Controller) AttachViewer(conn viewer.Conn, viewerReadOnly bool) *viewer.Session {
	c.viewersMu.Lock()
	c.nextVID++
	id := fmt.Sprintf("%s-v%d", c.ID, c.nextVID)
	sub := c.hub.Subscribe()
	v := viewer.New(id, conn, sub, c.merger, c.neg, c.log, viewerReadOnly)
	c.viewers[id] = v
	count := len(c.viewers)
	c.viewersMu.Unlock()

	c.log.Info("viewer attached", "session", c.ID, "viewer", id, "count", count)
	c.sendInitialState(v)

	go func() {
		v.Run(c.ctx)
		c.detachViewer(id, sub)
	}()
	return v
}

// sendInitialState queues the current WinSize, ReadOnly, and Headless
// control messages so a newly-attached viewer learns the terminal
// geometry and session flags before any output frame arrives, even if
// none of them ever changes again for the rest of the session.
func (c *Controller) sendInitialState(v *viewer.Session) {
	cols, rows := c.neg.Size()
	if frame, err := wire.EncodeWinSize(cols, rows); err != nil {
		c.log.Warn("encode initial winsize", "session", c.ID, "err", err)
	} else {
		v.Send(frame)
	}
	if frame, err := wire.EncodeReadOnly(c.readOnly.Load()); err != nil {
		c.log.Warn("encode initial readonly", "session", c.ID, "err", err)
	} else {
		v.Send(frame)
	}
	if frame, err := wire.EncodeHeadless(c.headless); err != nil {
		c.log.Warn("encode initial headless", "session", c.ID, "err", err)
	} else {
		v.Send(frame)
	}
}

func (c *Controller) detachViewer(id string, sub *hub.Subscription) {
	c.hub.Unsubscribe(sub.ID)
	c.viewersMu.Lock()
	delete(c.viewers, id)
	count := len(c.viewers)
	c.viewersMu.Unlock()
	c.log.Info("viewer detached", "session", c.ID, "viewer", id, "count", count)
}

func (c *Controller) closeAllViewers(reason viewer.CloseReason) {
	c.viewersMu.Lock()
	vs := make([]*viewer.Session, 0, len(c.viewers))
	for _, v := range c.viewers {
		vs = append(vs, v)
	}
	c.viewersMu.Unlock()
	for _, v := range vs {
		v.Shutdown(reason)
	}
}

// ViewerCount reports the number of currently attached viewers.
func (c *Controller) ViewerCount() int {
	c.viewersMu.Lock()
	defer c.viewersMu.Unlock()
	return len(c.viewers)
}

// Size returns the session's authoritative terminal size.
func (c *Controller) Size() (cols, rows int) { return c.neg.Size() }

// Headless reports whether this session runs without a server-side
// controlling terminal.
func (c *Controller) Headless() bool { return c.headless }

// ReadOnly reports the session-wide read-only flag.
func (c *Controller) ReadOnly() bool { return c.readOnly.Load() }

// Done returns a channel closed once the session has fully torn down:
// the child has exited (or been killed) and every viewer has been
// notified.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Shutdown tears the session down from the outside (an operator
// request, not a child exit): it closes every viewer, signals the PTY
// process group (the PTY Host escalates to SIGKILL itself if the child
// outlives its grace period), and then waits up to timeout for the
// session to finish tearing down.
func (c *Controller) Shutdown(timeout time.Duration) {
	c.closeAllViewers(viewer.CloseServerShutdown)
	// Signal the process group directly rather than only cancelling the
	// task-group context: the PTY reader is blocked in a plain os.File
	// Read, which context cancellation cannot interrupt on its own.
	c.pty.Teardown()
	c.cancel()
	select {
	case <-c.done:
	case <-time.After(timeout):
	}
}
