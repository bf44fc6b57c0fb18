package kernel

import (
	"context"
	"testing"
)

func connectedPhone(t *testing.T, k *Kernel, caller, callee *Task) *Phone {
	t.Helper()

	p, err := caller.phones.allocFree()
	if err != nil {
		t.Fatalf("allocFree: %v", err)
	}
	if err := k.Connect(p, callee.Box); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return p
}

func TestPingPong(t *testing.T) {
	k := NewKernel(DefaultConfig())
	a := k.NewTask()
	b := k.NewTask()

	phone := connectedPhone(t, k, a, b)

	serverErr := make(chan error, 1)
	go func() {
		id, payload, err := WaitForCall(context.Background(), b.Box, WaitOptions{})
		if err != nil {
			serverErr <- err
			return
		}
		if payload.Method != 1024 || payload.Args[0] != 42 {
			serverErr <- err
			return
		}
		serverErr <- k.Answer(b, id, Payload{
			Method: 0xbabaaaee,
			Args:   [5]uint64{0xaaaaeeee, 0, 0, 0, 0},
		})
	}()

	reply, err := k.CallSync(context.Background(), a, phone, Payload{Method: 1024, Args: [5]uint64{42, 0, 0, 0, 0}})
	if err != nil {
		t.Fatalf("CallSync: %v", err)
	}

	if err := <-serverErr; err != nil {
		t.Fatalf("server: %v", err)
	}

	if reply.Method != 0xbabaaaee {
		t.Fatalf("reply.Method: got %#x, want 0xbabaaaee", reply.Method)
	}
	if reply.Args[0] != 0xaaaaeeee {
		t.Fatalf("reply.Args[0]: got %#x, want 0xaaaaeeee", reply.Args[0])
	}
}

func TestForward(t *testing.T) {
	k := NewKernel(DefaultConfig())
	a := k.NewTask()
	b := k.NewTask()
	c := k.NewTask()

	phoneAB := connectedPhone(t, k, a, b)
	phoneBC := connectedPhone(t, k, b, c)

	cDone := make(chan error, 1)
	go func() {
		id, _, err := WaitForCall(context.Background(), c.Box, WaitOptions{})
		if err != nil {
			cDone <- err
			return
		}
		cDone <- k.Answer(c, id, Payload{Method: 7})
	}()

	bDone := make(chan error, 1)
	go func() {
		id, _, err := WaitForCall(context.Background(), b.Box, WaitOptions{})
		if err != nil {
			bDone <- err
			return
		}
		bDone <- k.Forward(b, id, phoneBC, 99)
	}()

	reply, err := k.CallSync(context.Background(), a, phoneAB, Payload{Method: 1})
	if err != nil {
		t.Fatalf("CallSync: %v", err)
	}

	if err := <-bDone; err != nil {
		t.Fatalf("b: %v", err)
	}
	if err := <-cDone; err != nil {
		t.Fatalf("c: %v", err)
	}

	if reply.Method != 7 {
		t.Fatalf("reply.Method: got %d, want 7", reply.Method)
	}
}

func TestHangupSynthesizesIncomingCall(t *testing.T) {
	k := NewKernel(DefaultConfig())
	a := k.NewTask()
	b := k.NewTask()

	phone := connectedPhone(t, k, a, b)

	if err := k.Hangup(a, phone.id); err != nil {
		t.Fatalf("Hangup: %v", err)
	}

	id, payload, err := WaitForCall(context.Background(), b.Box, WaitOptions{})
	if err != nil {
		t.Fatalf("WaitForCall: %v", err)
	}
	if payload.Method != MethodHangup {
		t.Fatalf("got method %d, want MethodHangup", payload.Method)
	}

	if _, ok := b.Box.takeDispatched(id); !ok {
		t.Fatal("synthesized hangup call should be in the dispatched set after WaitForCall")
	}

	if phone.State() != PhoneHungup {
		t.Fatalf("phone state: got %v, want PhoneHungup", phone.State())
	}
}

func TestAnswerUnknownCallIsError(t *testing.T) {
	k := NewKernel(DefaultConfig())
	a := k.NewTask()

	if err := k.Answer(a, CallID(999999), Payload{}); err == nil {
		t.Fatal("Answer of an unknown call id did not return an error")
	}
}

func TestPhoneTableLimitEnforced(t *testing.T) {
	k := NewKernel(KernelConfig{PhoneTableSize: 2})
	a := k.NewTask()
	b := k.NewTask()

	if _, err := a.phones.allocFree(); err != nil {
		t.Fatalf("allocFree 1: %v", err)
	}
	if _, err := a.phones.allocFree(); err != nil {
		t.Fatalf("allocFree 2: %v", err)
	}
	if _, err := a.phones.allocFree(); err == nil {
		t.Fatal("allocFree past the table limit did not return an error")
	}

	_ = b
	_ = k
}

func TestWaitForCallNonBlockingWouldBlock(t *testing.T) {
	k := NewKernel(DefaultConfig())
	a := k.NewTask()

	_, _, err := WaitForCall(context.Background(), a.Box, WaitOptions{NonBlocking: true})
	if err == nil {
		t.Fatal("non-blocking WaitForCall on an empty box did not return an error")
	}
}
