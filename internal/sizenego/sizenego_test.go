package sizenego

import "testing"

type fakeResizer struct {
	cols, rows int
	calls      int
	err        error
}

func (f *fakeResizer) Resize(cols, rows int) error {
	f.calls++
	f.cols, f.rows = cols, rows
	return f.err
}

func TestHeadlessAppliesClientResize(t *testing.T) {
	r := &fakeResizer{}
	n := New(r, 80, 24, true)

	var gotCols, gotRows int
	n.OnChange(func(cols, rows int) { gotCols, gotRows = cols, rows })

	applied, err := n.ApplyClientResize(120, 40)
	if err != nil {
		t.Fatalf("ApplyClientResize: %v", err)
	}
	if !applied {
		t.Fatal("expected applied=true in headless mode")
	}
	if cols, rows := n.Size(); cols != 120 || rows != 40 {
		t.Fatalf("Size() = (%d,%d), want (120,40)", cols, rows)
	}
	if r.calls != 1 || r.cols != 120 || r.rows != 40 {
		t.Fatalf("resizer not invoked correctly: %+v", r)
	}
	if gotCols != 120 || gotRows != 40 {
		t.Fatalf("onChange not invoked correctly: (%d,%d)", gotCols, gotRows)
	}
}

func TestServerDrivenIgnoresClientResize(t *testing.T) {
	r := &fakeResizer{}
	n := New(r, 80, 24, false)

	applied, err := n.ApplyClientResize(120, 40)
	if err != nil {
		t.Fatalf("ApplyClientResize: %v", err)
	}
	if applied {
		t.Fatal("expected applied=false outside headless mode")
	}
	if cols, rows := n.Size(); cols != 80 || rows != 24 {
		t.Fatalf("Size() = (%d,%d), want unchanged (80,24)", cols, rows)
	}
	if r.calls != 0 {
		t.Fatalf("resizer.calls = %d, want 0", r.calls)
	}
}

func TestLastWriterWinsOnConcurrentHeadlessResize(t *testing.T) {
	r := &fakeResizer{}
	n := New(r, 80, 24, true)

	// Sequential application order models arrival order at the
	// negotiator; whichever call lands last determines the final size.
	if _, err := n.ApplyClientResize(100, 30); err != nil {
		t.Fatalf("ApplyClientResize: %v", err)
	}
	if _, err := n.ApplyClientResize(90, 20); err != nil {
		t.Fatalf("ApplyClientResize: %v", err)
	}

	cols, rows := n.Size()
	if cols != 90 || rows != 20 {
		t.Fatalf("Size() = (%d,%d), want last writer's (90,20)", cols, rows)
	}
}

func TestApplyClientResizeNoOpWhenUnchanged(t *testing.T) {
	r := &fakeResizer{}
	n := New(r, 80, 24, true)

	calls := 0
	n.OnChange(func(cols, rows int) { calls++ })

	if _, err := n.ApplyClientResize(80, 24); err != nil {
		t.Fatalf("ApplyClientResize: %v", err)
	}
	if r.calls != 0 {
		t.Fatalf("resizer.calls = %d, want 0 for unchanged size", r.calls)
	}
	if calls != 0 {
		t.Fatalf("onChange calls = %d, want 0 for unchanged size", calls)
	}
}
