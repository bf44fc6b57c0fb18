package kernel

import (
	"context"
	"fmt"
)

// Connect binds a connecting phone to a target answerbox, moving it to
// PhoneConnected and registering it on the answerbox's connected-phones
// list (so Task.Exit can find it later). Grounded on
// original_source/generic/src/ipc/ipc.c's ipc_phone_connect.
func (k *Kernel) Connect(p *Phone, target *AnswerBox) error {
	p.lock.Lock()
	if p.state != PhoneConnecting && p.state != PhoneFree {
		p.lock.Unlock()
		return fmt.Errorf("kernel: phone %d not connectable from state %v", p.id, p.state)
	}
	p.state = PhoneConnected
	p.callee = target
	p.lock.Unlock()

	target.addConnectedPhone(p)
	return nil
}

// CallAsync sends payload through phone without waiting for a reply,
// returning the new call's id. Grounded on
// original_source/generic/src/ipc/ipc.c's ipc_call.
func (k *Kernel) CallAsync(sender *Task, phone *Phone, payload Payload) (CallID, error) {
	phone.lock.Lock()
	if phone.state != PhoneConnected {
		phone.lock.Unlock()
		return 0, fmt.Errorf("kernel: CallAsync: %w", errFatal)
	}
	target := phone.callee
	phone.lock.Unlock()

	id := k.nextCallID()
	c := k.calls.alloc(id)
	c.Payload = payload
	c.Phone = phone
	c.CallerBox = sender.Box
	c.Sender = sender.id

	if err := target.tryPushIncoming(c, k.cfg.AsyncQueueLimit); err != nil {
		k.calls.free(c)
		return 0, fmt.Errorf("kernel: CallAsync: %w", err)
	}
	getLogger().Printf("ipc: Op 0x%08x <- CallAsync task=%d phone=%d -> call=%d", payload.Method, sender.id, phone.id, id)
	return id, nil
}

// CallSync sends payload through phone and blocks until the matching reply
// arrives, is interrupted via ctx, or phone hangs up. Grounded on
// original_source/generic/src/ipc/ipc.c's ipc_call_sync, which the original
// implements with a private single-use answerbox: this repo follows suit
// rather than reusing sender's own box, since a shared box would have an
// unrelated inbound request landing mid-wait re-pushed by incomingBack and
// immediately re-popped by the next WaitForCall forever (spec.md §4.4.2
// calls for exactly this private box to rule the race out structurally,
// not by looping past non-matching wakeups).
func (k *Kernel) CallSync(ctx context.Context, sender *Task, phone *Phone, payload Payload) (Payload, error) {
	phone.lock.Lock()
	if phone.state != PhoneConnected {
		phone.lock.Unlock()
		return Payload{}, fmt.Errorf("kernel: CallSync: %w", errFatal)
	}
	target := phone.callee
	phone.lock.Unlock()

	if _, ok := ctx.Deadline(); !ok && k.cfg.DefaultCallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.cfg.DefaultCallTimeout)
		defer cancel()
	}

	replyBox := newAnswerBox(sender.id, k.nextAnswerBoxID())

	id := k.nextCallID()
	c := k.calls.alloc(id)
	c.Payload = payload
	c.Phone = phone
	c.CallerBox = replyBox
	c.Sender = sender.id

	if err := target.tryPushIncoming(c, k.cfg.AsyncQueueLimit); err != nil {
		k.calls.free(c)
		return Payload{}, fmt.Errorf("kernel: CallSync: %w", err)
	}
	getLogger().Printf("ipc: Op 0x%08x <- CallSync task=%d phone=%d -> call=%d", payload.Method, sender.id, phone.id, id)

	rc, err := replyBox.WaitForCall(ctx, WaitOptions{})
	if err != nil {
		return Payload{}, err
	}

	reply := rc.Payload
	replyErr := rc.Err
	k.calls.free(rc)
	return reply, replyErr
}

// Answer delivers payload as the reply to the call identified by id, which
// must currently be in callee's dispatched set (i.e. previously returned by
// WaitForCall on that box). Grounded on ipc_answer. The call is removed
// from callee's dispatched set under callee's box lock, which is then
// released, and appended to the caller's answers queue under that box's
// own lock; the two box locks are never held together, so no cross-box
// lock order applies.
func (k *Kernel) Answer(callee *Task, id CallID, payload Payload) error {
	c, ok := callee.Box.takeDispatched(id)
	if !ok {
		return fmt.Errorf("kernel: Answer: %w", errNoEnt)
	}

	c.Payload = payload
	c.Answered = true

	c.CallerBox.pushAnswer(c)
	getLogger().Printf("ipc: Op 0x%08x -> Answer task=%d call=%d", payload.Method, callee.id, id)
	return nil
}

// Forward redirects a dispatched call to newPhone with newMethod instead of
// answering it directly, setting the Forwarded flag. Grounded on
// ipc_forward.
func (k *Kernel) Forward(callee *Task, id CallID, newPhone *Phone, newMethod uint32) error {
	c, ok := callee.Box.takeDispatched(id)
	if !ok {
		return fmt.Errorf("kernel: Forward: %w", errNoEnt)
	}

	newPhone.lock.Lock()
	if newPhone.state != PhoneConnected {
		newPhone.lock.Unlock()
		return fmt.Errorf("kernel: Forward: %w", errHangup)
	}
	target := newPhone.callee
	newPhone.lock.Unlock()

	c.Payload.Method = newMethod
	c.Forwarded = true
	c.Phone = newPhone

	target.pushIncoming(c)
	getLogger().Printf("ipc: Op 0x%08x -> Forward task=%d call=%d phone=%d", newMethod, callee.id, id, newPhone.id)
	return nil
}

// Hangup closes an outbound phone, synthesizing a method-zero HANGUP call
// into the callee's answerbox. Grounded on ipc_phone_hangup. Called
// directly for an explicit hangup and from Task.Exit for every connected
// outbound phone.
func (k *Kernel) Hangup(holder *Task, phoneID PhoneID) error {
	p, err := holder.phones.Get(phoneID)
	if err != nil {
		return err
	}

	p.lock.Lock()
	if p.state != PhoneConnected {
		p.lock.Unlock()
		return fmt.Errorf("kernel: Hangup: %w", errHangup)
	}
	target := p.callee
	p.state = PhoneHungup
	p.callee = nil
	p.lock.Unlock()

	target.removeConnectedPhone(p)
	target.pushIncoming(&Call{
		ID:          k.nextCallID(),
		Payload:     Payload{Method: MethodHangup},
		Phone:       p,
		CallerBox:   holder.Box,
		Sender:      holder.id,
		StaticAlloc: true,
	})

	// Any call already sent through p and still sitting unanswered in
	// target's box must resolve now instead of waiting forever for an
	// answer that can no longer arrive through a live phone (spec.md
	// §4.4.1: "call_sync... returns hangup if phone torn down while
	// waiting").
	for _, c := range target.drainCallsForPhone(p) {
		c.Answered = true
		c.Err = fmt.Errorf("kernel: Hangup: %w", errHangup)
		c.CallerBox.pushAnswer(c)
	}

	return nil
}

// WaitForCall is the free-function form of AnswerBox.WaitForCall, matching
// spec.md §4.4.3's signature exactly.
func WaitForCall(ctx context.Context, box *AnswerBox, opts WaitOptions) (CallID, Payload, error) {
	c, err := box.WaitForCall(ctx, opts)
	if err != nil {
		return 0, Payload{}, err
	}
	return c.ID, c.Payload, nil
}
