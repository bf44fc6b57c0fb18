package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jacobsa/reqtrace"
)

// Future is the result of one CallAsync issued through an AsyncCaller,
// resolved once the matching reply is demultiplexed off the owning
// AnswerBox. This is the "callback -> future" re-architecture of spec.md
// §9, replacing the original's per-call C callback pointer.
type Future struct {
	done   chan struct{}
	result Payload
	err    error

	report reqtrace.ReportFunc

	sentAt     time.Time
	resolvedAt time.Time
}

// Wait blocks until the future resolves or ctx is done.
func (f *Future) Wait(ctx context.Context) (Payload, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return Payload{}, ctx.Err()
	}
}

// Latency reports how long the call spent in flight, valid once Wait has
// returned. Grounded on the teacher's timeutil.Clock-injected samples
// (mount_hello, dynamicfs), retasked from file cache TTLs to in-flight
// call timing so tests can drive it with a simulated clock instead of
// sleeping for real.
func (f *Future) Latency() time.Duration {
	return f.resolvedAt.Sub(f.sentAt)
}

func (f *Future) resolve(now time.Time, p Payload, err error) {
	f.result = p
	f.err = err
	f.resolvedAt = now
	if f.report != nil {
		f.report(err)
	}
	close(f.done)
}

// AsyncCaller demultiplexes WaitForCall replies arriving on one AnswerBox
// into the Future each corresponding CallAsync returned, mirroring the
// teacher's Connection.ReadOp/Reply loop shape. Replies with no live
// Future entry (the cancel-then-late-reply race of spec.md §4.4.5) are
// silently dropped.
type AsyncCaller struct {
	k   *Kernel
	box *AnswerBox

	mu      sync.Mutex
	pending map[CallID]*Future
	// retry holds sends CallAsync reported Temporary for (callee's async
	// queue was full), to be re-attempted on the next Future-resolution
	// tick instead of failing the caller outright.
	// GUARDED_BY(mu)
	retry []*asyncRetry
}

// asyncRetry is one Send awaiting retry after a Temporary CallAsync result.
type asyncRetry struct {
	sender  *Task
	phone   *Phone
	payload Payload
	future  *Future
}

// NewAsyncCaller returns an AsyncCaller that demultiplexes replies arriving
// on box, issuing calls on behalf of k.
func NewAsyncCaller(k *Kernel, box *AnswerBox) *AsyncCaller {
	return &AsyncCaller{k: k, box: box, pending: make(map[CallID]*Future)}
}

// Send issues payload through phone and returns a Future for the reply.
// Each Future wraps a reqtrace span opened on send and closed on
// resolution, spanning exactly the in-flight time Latency reports.
//
// A Temporary result (callee's async queue is momentarily full) does not
// fail the caller: the send is queued for retry on the next Future
// resolution, same as the original kernel's caller-side send queue. A
// Fatal result (phone not connected) resolves the returned Future
// immediately with a no-route error, since there is no queue position to
// wait for.
func (a *AsyncCaller) Send(ctx context.Context, sender *Task, phone *Phone, payload Payload) (*Future, error) {
	_, report := reqtrace.StartSpan(ctx, "kernel.AsyncCaller.Send")
	f := &Future{done: make(chan struct{}), report: report, sentAt: a.k.Now()}

	id, err := a.k.CallAsync(sender, phone, payload)
	switch {
	case err == nil:
		a.mu.Lock()
		a.pending[id] = f
		a.mu.Unlock()
		return f, nil

	case errors.Is(err, errTemporary):
		a.mu.Lock()
		a.retry = append(a.retry, &asyncRetry{sender: sender, phone: phone, payload: payload, future: f})
		a.mu.Unlock()
		return f, nil

	case errors.Is(err, errFatal):
		f.resolve(a.k.Now(), Payload{}, fmt.Errorf("kernel: AsyncCaller: no route: %w", err))
		return f, nil

	default:
		f.resolve(a.k.Now(), Payload{}, err)
		return nil, err
	}
}

// Cancel drops the pending Future for id without resolving it, so a
// subsequent reply for it is dropped by Run per spec.md §4.4.5.
func (a *AsyncCaller) Cancel(id CallID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pending, id)
}

// Run pumps WaitForCall on the owning box, resolving the Future matching
// each incoming reply, until ctx is done. It is meant to run in its own
// goroutine.
func (a *AsyncCaller) Run(ctx context.Context) error {
	for {
		c, err := a.box.WaitForCall(ctx, WaitOptions{})
		if err != nil {
			return err
		}

		if !c.Answered {
			// A fresh incoming call, not a reply; put it back for whatever
			// inbound dispatcher is meant to handle it.
			a.box.incomingBack(c)
			continue
		}

		a.mu.Lock()
		f, ok := a.pending[c.ID]
		if ok {
			delete(a.pending, c.ID)
		}
		a.mu.Unlock()

		if ok {
			f.resolve(a.k.Now(), c.Payload, c.Err)
		}
		// else: cancelled before the reply arrived; drop it.

		a.drainRetries()
	}
}

// drainRetries re-attempts every send queued by a prior Temporary result.
// A retry that still gets Temporary stays queued; any other outcome
// resolves (on success) or fails (otherwise) its Future.
func (a *AsyncCaller) drainRetries() {
	a.mu.Lock()
	queued := a.retry
	a.retry = nil
	a.mu.Unlock()

	var stillQueued []*asyncRetry
	for _, r := range queued {
		id, err := a.k.CallAsync(r.sender, r.phone, r.payload)
		switch {
		case err == nil:
			a.mu.Lock()
			a.pending[id] = r.future
			a.mu.Unlock()
		case errors.Is(err, errTemporary):
			stillQueued = append(stillQueued, r)
		default:
			r.future.resolve(a.k.Now(), Payload{}, fmt.Errorf("kernel: AsyncCaller: retry: %w", err))
		}
	}

	if len(stillQueued) > 0 {
		a.mu.Lock()
		a.retry = append(stillQueued, a.retry...)
		a.mu.Unlock()
	}
}
