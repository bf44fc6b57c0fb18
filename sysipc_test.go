package kernel

import (
	"context"
	"testing"

	"github.com/HelenOS/helenos-sub036/mm"
)

func TestConnectionClone(t *testing.T) {
	k := NewKernel(DefaultConfig())
	a := k.NewTask()
	b := k.NewTask()
	c := k.NewTask()

	phoneAC := connectedPhone(t, k, a, c) // the connection being cloned
	phoneAB := connectedPhone(t, k, a, b) // routes the clone request to b

	bErr := make(chan error, 1)
	go func() {
		id, payload, err := WaitForCall(context.Background(), b.Box, WaitOptions{})
		if err != nil {
			bErr <- err
			return
		}
		if payload.Method != MethodConnectionClone {
			bErr <- errFatal
			return
		}
		newPhoneID := PhoneID(payload.Args[0])
		if _, err := b.Phones().Get(newPhoneID); err != nil {
			bErr <- err
			return
		}
		bErr <- k.Answer(b, id, Payload{})
	}()

	if err := k.ConnectionClone(context.Background(), a, phoneAB, phoneAC); err != nil {
		t.Fatalf("ConnectionClone: %v", err)
	}
	if err := <-bErr; err != nil {
		t.Fatalf("b: %v", err)
	}

	id, payload, err := WaitForCall(context.Background(), c.Box, WaitOptions{})
	if err != nil {
		t.Fatalf("WaitForCall on c: %v", err)
	}
	if payload.Method != MethodCloneEstablish {
		t.Fatalf("c got method %d, want MethodCloneEstablish", payload.Method)
	}
	if payload.Args[4] == 0 {
		t.Fatal("CLONE_ESTABLISH carried a zero hash")
	}
	_ = id
}

func TestConnectToMe(t *testing.T) {
	k := NewKernel(DefaultConfig())
	a := k.NewTask()
	b := k.NewTask()

	phone := connectedPhone(t, k, a, b)

	var gotHash PhoneHash
	bErr := make(chan error, 1)
	go func() {
		id, payload, err := WaitForCall(context.Background(), b.Box, WaitOptions{})
		if err != nil {
			bErr <- err
			return
		}
		if payload.Method != MethodConnectToMe {
			bErr <- errFatal
			return
		}
		gotHash = PhoneHash(payload.Args[4])
		bErr <- k.Answer(b, id, Payload{})
	}()

	if err := k.ConnectToMe(context.Background(), a, phone, [3]uint64{1, 2, 3}); err != nil {
		t.Fatalf("ConnectToMe: %v", err)
	}
	if err := <-bErr; err != nil {
		t.Fatalf("b: %v", err)
	}

	pid, ok := b.ResolvePhoneHash(gotHash)
	if !ok {
		t.Fatal("b could not resolve the hash it was handed")
	}
	p, err := b.Phones().Get(pid)
	if err != nil {
		t.Fatalf("Phones().Get: %v", err)
	}
	if p.State() != PhoneConnected {
		t.Fatalf("callback phone state: got %v, want connected", p.State())
	}
	if p.Callee() != a.Box {
		t.Fatal("callback phone does not point back at a's box")
	}
}

// TestConnectToMeRefusedReleasesPhone exercises the "recipient dies before
// acknowledging" refusal path: b exits instead of answering, so the
// CallSync ConnectToMe is waiting on returns a hangup error and the
// speculatively allocated callback phone must not be left connected.
func TestConnectToMeRefusedReleasesPhone(t *testing.T) {
	k := NewKernel(DefaultConfig())
	a := k.NewTask()
	b := k.NewTask()

	phone := connectedPhone(t, k, a, b)

	go func() {
		_, _, err := WaitForCall(context.Background(), b.Box, WaitOptions{})
		if err != nil {
			return
		}
		_ = b.Exit()
	}()

	err := k.ConnectToMe(context.Background(), a, phone, [3]uint64{})
	if err == nil {
		t.Fatal("ConnectToMe against a dying recipient did not report an error")
	}

	free := 0
	for id := PhoneID(0); int(id) < b.Phones().Limit(); id++ {
		p, _ := b.Phones().Get(id)
		if p.State() == PhoneFree {
			free++
		}
	}
	if free != b.Phones().Limit() {
		t.Fatalf("refused ConnectToMe leaked a phone slot: %d free of %d", free, b.Phones().Limit())
	}
}

func TestShareOutShareIn(t *testing.T) {
	k := NewKernel(DefaultConfig())
	a := k.NewTask()
	b := k.NewTask()

	phone := connectedPhone(t, k, a, b)

	srcArea, err := a.AS.CreateArea(0x1000, 1, mm.Read|mm.Write)
	if err != nil {
		t.Fatalf("CreateArea: %v", err)
	}
	if _, err := a.AS.HandlePageFault(0x1000, mm.AccessWrite); err != nil {
		t.Fatalf("HandlePageFault: %v", err)
	}

	bErr := make(chan error, 1)
	var gotArea *mm.Area
	go func() {
		id, payload, err := WaitForCall(context.Background(), b.Box, WaitOptions{})
		if err != nil {
			bErr <- err
			return
		}
		c := &Call{ID: id, Payload: payload, Sender: a.ID()}
		area, err := k.ShareIn(b, c, 0x2000)
		if err != nil {
			bErr <- err
			return
		}
		gotArea = area
		bErr <- k.Answer(b, id, Payload{})
	}()

	if err := k.ShareOut(context.Background(), a, phone, srcArea, mm.Read|mm.Write); err != nil {
		t.Fatalf("ShareOut: %v", err)
	}
	if err := <-bErr; err != nil {
		t.Fatalf("b: %v", err)
	}

	if gotArea == nil {
		t.Fatal("ShareIn never produced an area")
	}
	if gotArea.Base() != 0x2000 {
		t.Fatalf("adopted area base: got %#x, want 0x2000", gotArea.Base())
	}
	if gotArea.ShareInfo() == nil {
		t.Fatal("adopted area has no ShareInfo")
	}
}

func TestDataWriteCopiesBytes(t *testing.T) {
	k := NewKernel(DefaultConfig())
	a := k.NewTask()
	b := k.NewTask()

	phone := connectedPhone(t, k, a, b)

	if _, err := a.AS.CreateArea(0x10000, 1, mm.Read|mm.Write); err != nil {
		t.Fatalf("CreateArea a: %v", err)
	}
	if _, err := b.AS.CreateArea(0x20000, 1, mm.Read|mm.Write); err != nil {
		t.Fatalf("CreateArea b: %v", err)
	}

	payload := []byte("hello, data_write")
	if _, err := a.AS.CopyIn(0x10000, payload); err != nil {
		t.Fatalf("seed CopyIn: %v", err)
	}

	bErr := make(chan error, 1)
	go func() {
		id, reqPayload, err := WaitForCall(context.Background(), b.Box, WaitOptions{})
		if err != nil {
			bErr <- err
			return
		}
		if reqPayload.Method != MethodDataWrite {
			bErr <- errFatal
			return
		}
		bErr <- k.Answer(b, id, Payload{Args: [5]uint64{0x20000, reqPayload.Args[1]}})
	}()

	if err := k.DataWrite(context.Background(), a, phone, 0x10000, uintptr(len(payload))); err != nil {
		t.Fatalf("DataWrite: %v", err)
	}
	if err := <-bErr; err != nil {
		t.Fatalf("b: %v", err)
	}

	got := make([]byte, len(payload))
	if _, err := b.AS.CopyOut(got, 0x20000); err != nil {
		t.Fatalf("CopyOut: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestDataReadCopiesBytes(t *testing.T) {
	k := NewKernel(DefaultConfig())
	a := k.NewTask()
	b := k.NewTask()

	phone := connectedPhone(t, k, a, b)

	if _, err := a.AS.CreateArea(0x30000, 1, mm.Read|mm.Write); err != nil {
		t.Fatalf("CreateArea a: %v", err)
	}
	if _, err := b.AS.CreateArea(0x40000, 1, mm.Read|mm.Write); err != nil {
		t.Fatalf("CreateArea b: %v", err)
	}

	payload := []byte("hello, data_read")
	if _, err := b.AS.CopyIn(0x40000, payload); err != nil {
		t.Fatalf("seed CopyIn: %v", err)
	}

	bErr := make(chan error, 1)
	go func() {
		id, reqPayload, err := WaitForCall(context.Background(), b.Box, WaitOptions{})
		if err != nil {
			bErr <- err
			return
		}
		if reqPayload.Method != MethodDataRead {
			bErr <- errFatal
			return
		}
		bErr <- k.Answer(b, id, Payload{Args: [5]uint64{0x40000, reqPayload.Args[1]}})
	}()

	if err := k.DataRead(context.Background(), a, phone, 0x30000, uintptr(len(payload))); err != nil {
		t.Fatalf("DataRead: %v", err)
	}
	if err := <-bErr; err != nil {
		t.Fatalf("b: %v", err)
	}

	got := make([]byte, len(payload))
	if _, err := a.AS.CopyOut(got, 0x30000); err != nil {
		t.Fatalf("CopyOut: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestStateChangeAuthorize(t *testing.T) {
	k := NewKernel(DefaultConfig())
	a := k.NewTask()
	b := k.NewTask()
	third := k.NewTask()

	phone := connectedPhone(t, k, a, b)
	thirdPhone := connectedPhone(t, k, a, third)
	bThirdPhone := connectedPhone(t, k, b, third)

	bErr := make(chan error, 1)
	go func() {
		id, payload, err := WaitForCall(context.Background(), b.Box, WaitOptions{})
		if err != nil {
			bErr <- err
			return
		}
		if payload.Method != MethodStateChangeAuthorize {
			bErr <- errFatal
			return
		}
		bErr <- k.Answer(b, id, Payload{Args: [5]uint64{uint64(bThirdPhone.id)}})
	}()

	pid, err := k.StateChangeAuthorize(context.Background(), a, phone, thirdPhone, [3]uint64{7, 8, 9})
	if err != nil {
		t.Fatalf("StateChangeAuthorize: %v", err)
	}
	if err := <-bErr; err != nil {
		t.Fatalf("b: %v", err)
	}
	if pid != bThirdPhone.id {
		t.Fatalf("got phone id %d, want %d", pid, bThirdPhone.id)
	}
}

func TestDebugRoundTrip(t *testing.T) {
	k := NewKernel(DefaultConfig())
	a := k.NewTask()
	b := k.NewTask()

	phone := connectedPhone(t, k, a, b)

	bErr := make(chan error, 1)
	go func() {
		id, payload, err := WaitForCall(context.Background(), b.Box, WaitOptions{})
		if err != nil {
			bErr <- err
			return
		}
		if payload.Method != MethodDebugBase || payload.Args[0] != 42 {
			bErr <- errFatal
			return
		}
		bErr <- k.Answer(b, id, Payload{Args: [5]uint64{1}})
	}()

	reply, err := k.Debug(context.Background(), a, phone, 42, [4]uint64{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("Debug: %v", err)
	}
	if err := <-bErr; err != nil {
		t.Fatalf("b: %v", err)
	}
	if reply.Args[0] != 1 {
		t.Fatalf("reply.Args[0]: got %d, want 1", reply.Args[0])
	}
}
