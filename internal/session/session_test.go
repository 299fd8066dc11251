package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"ptyshare/internal/viewer"
	"ptyshare/internal/wire"
)

type fakeConn struct {
	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}
	outbox  [][]byte
}

func newFakeConn() *fakeConn { return &fakeConn{closeCh: make(chan struct{})} }

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case <-c.closeCh:
		return 0, nil, io.EOF
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.outbox = append(c.outbox, cp)
	return nil
}

func (c *fakeConn) Outbox() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.outbox))
	copy(out, c.outbox)
	return out
}

func (c *fakeConn) Close(code websocket.StatusCode, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.closeCh)
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSessionCleanTeardownOnShutdown(t *testing.T) {
	ctrl, err := New(context.Background(), Config{
		Command:     "/bin/cat",
		Headless:    true,
		InitialCols: 80,
		InitialRows: 24,
	}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	conn := newFakeConn()
	v := ctrl.AttachViewer(conn, false)

	ctrl.Shutdown(2 * time.Second)

	select {
	case <-ctrl.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("controller never finished tearing down")
	}
	select {
	case <-v.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("viewer was never closed on session shutdown")
	}
}

func TestSessionClosesViewersOnChildExit(t *testing.T) {
	ctrl, err := New(context.Background(), Config{
		Command:  "/bin/sh",
		Args:     []string{"-c", "exit 0"},
		Headless: true,
	}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	conn := newFakeConn()
	v := ctrl.AttachViewer(conn, false)

	select {
	case <-v.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("viewer was never closed after child exit")
	}
	select {
	case <-ctrl.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("controller never finished tearing down after child exit")
	}
}

func TestAttachDetachUpdatesViewerCount(t *testing.T) {
	ctrl, err := New(context.Background(), Config{
		Command:  "/bin/cat",
		Headless: true,
	}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ctrl.Shutdown(time.Second)

	conn := newFakeConn()
	ctrl.AttachViewer(conn, false)

	deadline := time.After(time.Second)
	for ctrl.ViewerCount() != 1 {
		select {
		case <-deadline:
			t.Fatalf("ViewerCount() = %d, want 1", ctrl.ViewerCount())
		case <-time.After(time.Millisecond):
		}
	}

	conn.Close(websocket.StatusNormalClosure, "")

	deadline = time.After(time.Second)
	for ctrl.ViewerCount() != 0 {
		select {
		case <-deadline:
			t.Fatalf("ViewerCount() = %d, want 0 after detach", ctrl.ViewerCount())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestHeadlessResizeBroadcastsToViewers(t *testing.T) {
	ctrl, err := New(context.Background(), Config{
		Command:     "/bin/cat",
		Headless:    true,
		InitialCols: 80,
		InitialRows: 24,
	}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ctrl.Shutdown(time.Second)

	conn := newFakeConn()
	ctrl.AttachViewer(conn, false)

	applied, err := ctrl.neg.ApplyClientResize(120, 50)
	if err != nil {
		t.Fatalf("ApplyClientResize: %v", err)
	}
	if !applied {
		t.Fatal("expected resize to apply in headless mode")
	}
	cols, rows := ctrl.Size()
	if cols != 120 || rows != 50 {
		t.Fatalf("Size() = (%d,%d), want (120,50)", cols, rows)
	}

	sawBroadcast := func() bool {
		for _, raw := range conn.Outbox() {
			env, err := wire.DecodeEnvelope(raw)
			if err != nil || env.Type != wire.TypeWinSize {
				continue
			}
			ws, err := wire.DecodeWinSize(env)
			if err == nil && ws.Cols == 120 && ws.Rows == 50 {
				return true
			}
		}
		return false
	}
	deadline := time.After(time.Second)
	for !sawBroadcast() {
		select {
		case <-deadline:
			t.Fatal("viewer never received the WinSize{120,50} broadcast")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestAttachViewerReceivesInitialStateBeforeOutput(t *testing.T) {
	ctrl, err := New(context.Background(), Config{
		Command:     "/bin/cat",
		Headless:    true,
		ReadOnly:    true,
		InitialCols: 80,
		InitialRows: 24,
	}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ctrl.Shutdown(time.Second)

	conn := newFakeConn()
	ctrl.AttachViewer(conn, false)

	deadline := time.After(time.Second)
	for len(conn.Outbox()) < 3 {
		select {
		case <-deadline:
			t.Fatalf("got %d initial frames, want at least 3 (WinSize, ReadOnly, Headless)", len(conn.Outbox()))
		case <-time.After(time.Millisecond):
		}
	}

	var sawWinSize, sawReadOnly, sawHeadless bool
	for _, raw := range conn.Outbox()[:3] {
		env, err := wire.DecodeEnvelope(raw)
		if err != nil {
			t.Fatalf("DecodeEnvelope: %v", err)
		}
		switch env.Type {
		case wire.TypeWinSize:
			ws, err := wire.DecodeWinSize(env)
			if err != nil {
				t.Fatalf("DecodeWinSize: %v", err)
			}
			if ws.Cols != 80 || ws.Rows != 24 {
				t.Fatalf("initial WinSize = %+v, want {80 24}", ws)
			}
			sawWinSize = true
		case wire.TypeReadOnly:
			sawReadOnly = true
		case wire.TypeHeadless:
			sawHeadless = true
		default:
			t.Fatalf("unexpected initial frame type %q", env.Type)
		}
	}
	if !sawWinSize || !sawReadOnly || !sawHeadless {
		t.Fatalf("missing initial control frames: winsize=%v readonly=%v headless=%v", sawWinSize, sawReadOnly, sawHeadless)
	}
}

var _ viewer.Conn = (*fakeConn)(nil)
