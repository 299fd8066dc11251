package hub

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

func TestFanOutFidelity(t *testing.T) {
	h := New(0, 0)

	const nViewers = 5
	subs := make([]*Subscription, nViewers)
	for i := range subs {
		subs[i] = h.Subscribe()
	}

	frames := [][]byte{[]byte("a"), []byte("bb"), []byte("ccc"), []byte("dddd")}

	var wg sync.WaitGroup
	results := make([][]byte, nViewers)
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub *Subscription) {
			defer wg.Done()
			var got bytes.Buffer
			for range frames {
				frame, ok := sub.Recv()
				if !ok {
					return
				}
				got.Write(frame)
			}
			results[i] = got.Bytes()
		}(i, sub)
	}

	for _, f := range frames {
		h.Publish(f)
	}
	wg.Wait()

	var want bytes.Buffer
	for _, f := range frames {
		want.Write(f)
	}
	for i, got := range results {
		if !bytes.Equal(got, want.Bytes()) {
			t.Fatalf("viewer %d got %q, want %q", i, got, want.Bytes())
		}
	}
}

func TestSlowConsumerIsolation(t *testing.T) {
	h := New(4, 1024) // tiny bound so eviction triggers quickly

	slow := h.Subscribe()
	fast := h.Subscribe()

	var fastGot bytes.Buffer
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			frame, ok := fast.Recv()
			if !ok {
				return
			}
			fastGot.Write(frame)
		}
	}()

	var want bytes.Buffer
	for i := 0; i < 20; i++ {
		f := []byte{byte('a' + i%26)}
		want.Write(f)
		h.Publish(f)
	}

	select {
	case <-slow.Evicted():
	case <-time.After(2 * time.Second):
		t.Fatal("slow consumer was never evicted")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fast consumer did not finish")
	}

	if !bytes.Equal(fastGot.Bytes(), want.Bytes()) {
		t.Fatalf("fast consumer stream corrupted: got %q want %q", fastGot.Bytes(), want.Bytes())
	}
}

func TestUnsubscribeRemovesConsumer(t *testing.T) {
	h := New(0, 0)
	sub := h.Subscribe()
	if h.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", h.Count())
	}
	h.Unsubscribe(sub.ID)
	if h.Count() != 0 {
		t.Fatalf("Count() = %d, want 0 after unsubscribe", h.Count())
	}
	// Publishing after unsubscribe must not panic or block.
	h.Publish([]byte("x"))
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	h := New(2, 1024)
	sub := h.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			h.Publish([]byte("x"))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a non-draining subscriber")
	}
	_ = sub
}
