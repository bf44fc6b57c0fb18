package kernel

import (
	"context"
	"testing"
	"time"
)

// TestAsyncCallerRoundTrip drives a reply through Run and asserts the
// matching Future observes it.
func TestAsyncCallerRoundTrip(t *testing.T) {
	k := NewKernel(DefaultConfig())
	a := k.NewTask()
	b := k.NewTask()
	phone := connectedPhone(t, k, a, b)

	ac := NewAsyncCaller(k, a.Box)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ac.Run(ctx)

	serverDone := make(chan error, 1)
	go func() {
		id, payload, err := WaitForCall(context.Background(), b.Box, WaitOptions{})
		if err != nil {
			serverDone <- err
			return
		}
		if payload.Method != 1024 {
			serverDone <- errFatal
			return
		}
		serverDone <- k.Answer(b, id, Payload{Method: 7})
	}()

	f, err := ac.Send(context.Background(), a, phone, Payload{Method: 1024})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	reply, err := f.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if reply.Method != 7 {
		t.Fatalf("reply.Method: got %d, want 7", reply.Method)
	}
	if err := <-serverDone; err != nil {
		t.Fatalf("server: %v", err)
	}
	if f.Latency() < 0 {
		t.Fatalf("Latency: got negative duration %v", f.Latency())
	}
}

// TestAsyncCallerCancelDropsReply exercises spec.md §4.4.5's
// cancel-then-late-reply race: a reply arriving for an id Cancel already
// forgot must be dropped, not resolve some other pending Future or wedge
// Run.
func TestAsyncCallerCancelDropsReply(t *testing.T) {
	k := NewKernel(DefaultConfig())
	a := k.NewTask()
	b := k.NewTask()
	phone := connectedPhone(t, k, a, b)

	ac := NewAsyncCaller(k, a.Box)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := k.CallAsync(a, phone, Payload{Method: 1024})
	if err != nil {
		t.Fatalf("CallAsync: %v", err)
	}

	f := &Future{done: make(chan struct{}), sentAt: k.Now()}
	ac.mu.Lock()
	ac.pending[id] = f
	ac.mu.Unlock()
	ac.Cancel(id)

	go ac.Run(ctx)

	bid, payload, err := WaitForCall(context.Background(), b.Box, WaitOptions{})
	if err != nil {
		t.Fatalf("WaitForCall: %v", err)
	}
	if payload.Method != 1024 {
		t.Fatalf("got method %d, want 1024", payload.Method)
	}
	if err := k.Answer(b, bid, Payload{Method: 99}); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer waitCancel()
	if _, err := f.Wait(waitCtx); err != waitCtx.Err() {
		t.Fatalf("cancelled Future resolved instead of being dropped: err=%v", err)
	}

	// A second, un-cancelled round trip still works after the dropped reply
	// passed through Run.
	second, err := ac.Send(context.Background(), a, phone, Payload{Method: 1025})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	bid2, _, err := WaitForCall(context.Background(), b.Box, WaitOptions{})
	if err != nil {
		t.Fatalf("WaitForCall 2: %v", err)
	}
	if err := k.Answer(b, bid2, Payload{Method: 7}); err != nil {
		t.Fatalf("Answer 2: %v", err)
	}
	if _, err := second.Wait(context.Background()); err != nil {
		t.Fatalf("second.Wait: %v", err)
	}
}

// TestAsyncCallerRetriesPastQueueLimit exercises the Temporary retry path:
// a Send that lands while the callee's async queue is full is queued
// rather than failed, and resolves once Run drains capacity.
func TestAsyncCallerRetriesPastQueueLimit(t *testing.T) {
	k := NewKernel(KernelConfig{PhoneTableSize: 4, AsyncQueueLimit: 1})
	a := k.NewTask()
	b := k.NewTask()
	phone := connectedPhone(t, k, a, b)

	ac := NewAsyncCaller(k, a.Box)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ac.Run(ctx)

	first, err := ac.Send(context.Background(), a, phone, Payload{Method: 1024})
	if err != nil {
		t.Fatalf("first Send: %v", err)
	}

	// The queue is now full (limit 1, nothing drained yet); this Send must
	// not fail, it must queue for retry.
	second, err := ac.Send(context.Background(), a, phone, Payload{Method: 1025})
	if err != nil {
		t.Fatalf("second Send should have queued for retry, got error: %v", err)
	}

	ac.mu.Lock()
	queued := len(ac.retry)
	ac.mu.Unlock()
	if queued != 1 {
		t.Fatalf("retry queue length: got %d, want 1", queued)
	}

	id1, _, err := WaitForCall(context.Background(), b.Box, WaitOptions{})
	if err != nil {
		t.Fatalf("WaitForCall 1: %v", err)
	}
	if err := k.Answer(b, id1, Payload{Method: 1}); err != nil {
		t.Fatalf("Answer 1: %v", err)
	}
	if _, err := first.Wait(context.Background()); err != nil {
		t.Fatalf("first.Wait: %v", err)
	}

	id2, payload2, err := WaitForCall(context.Background(), b.Box, WaitOptions{})
	if err != nil {
		t.Fatalf("WaitForCall 2: %v", err)
	}
	if payload2.Method != 1025 {
		t.Fatalf("retried call method: got %d, want 1025", payload2.Method)
	}
	if err := k.Answer(b, id2, Payload{Method: 2}); err != nil {
		t.Fatalf("Answer 2: %v", err)
	}

	reply, err := second.Wait(context.Background())
	if err != nil {
		t.Fatalf("second.Wait: %v", err)
	}
	if reply.Method != 2 {
		t.Fatalf("reply.Method: got %d, want 2", reply.Method)
	}
}
