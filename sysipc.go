package kernel

import (
	"context"
	"fmt"

	"github.com/HelenOS/helenos-sub036/mm"
)

// This file implements the nine numbered system IPC methods of spec.md
// §4.4.4, grounded ARG-slot-for-ARG-slot on
// original_source/abi/include/abi/ipc/methods.h. The original kernel
// mediates each protocol atomically inside a single syscall trap that sees
// both tasks' state at once; this package's "arena + stable id"
// re-architecture (spec.md §9) instead splits each into a sender-side call
// grounded here and, where the original has the recipient's kernel half
// act automatically, a matching receiver-side call the recipient's own
// goroutine invokes in response to WaitForCall before it Answers. The two
// halves still agree on the same ARG layout, so a trace of the Payloads
// that cross the wire reads exactly like the header's comments.

// ConnectionClone clones phone (already connected) for the task reachable
// through via, per IPC_M_CONNECTION_CLONE/IPC_M_CLONE_ESTABLISH. The
// kernel allocates a new phone in the remote task's own table, connects it
// to phone's existing target, and asks the remote task to acknowledge it;
// on acceptance it also notifies that target, via a CLONE_ESTABLISH
// message carrying the new phone's hash in ARG5, that a clone now exists.
func (k *Kernel) ConnectionClone(ctx context.Context, caller *Task, via *Phone, phone *Phone) error {
	if phone.State() != PhoneConnected {
		return fmt.Errorf("kernel: ConnectionClone: %w", errInval)
	}
	target := phone.Callee()

	if via.State() != PhoneConnected {
		return fmt.Errorf("kernel: ConnectionClone: %w", errFatal)
	}

	remote, err := k.Task(via.Callee().owner)
	if err != nil {
		return fmt.Errorf("kernel: ConnectionClone: %w", err)
	}

	newPhone, err := remote.phones.allocFree()
	if err != nil {
		return fmt.Errorf("kernel: ConnectionClone: %w", errLimit)
	}
	if err := k.Connect(newPhone, target); err != nil {
		remote.phones.release(newPhone)
		return fmt.Errorf("kernel: ConnectionClone: %w", err)
	}

	payload := Payload{Method: MethodConnectionClone, Args: [5]uint64{uint64(newPhone.id)}}
	reply, err := k.CallSync(ctx, caller, via, payload)
	if err == nil && reply.Method != 0 {
		err = fmt.Errorf("retval %d", reply.Method)
	}
	if err != nil {
		_ = k.Hangup(remote, newPhone.id)
		return fmt.Errorf("kernel: ConnectionClone: remote refused: %w", err)
	}

	hash, err := newPhoneHash()
	if err != nil {
		return fmt.Errorf("kernel: ConnectionClone: %w", err)
	}
	newPhone.setHash(hash)

	target.pushIncoming(&Call{
		ID:          k.nextCallID(),
		Payload:     Payload{Method: MethodCloneEstablish, Args: [5]uint64{0, 0, 0, 0, uint64(hash)}},
		Phone:       newPhone,
		CallerBox:   caller.Box,
		Sender:      caller.id,
		StaticAlloc: true,
	})

	return nil
}

// ConnectToMe asks the task reachable through phone to open a callback
// connection back to caller, per IPC_M_CONNECT_TO_ME. The callback phone
// is allocated from the recipient's own table and connected to caller's
// box; the recipient's userspace answers EOK to accept it or any error to
// refuse, in which case the kernel releases the phone again. On success
// the recipient learns the new phone's hash via ARG5 and resolves it to a
// usable PhoneID with PhoneTable.lookupHash — exposed here as
// ResolvePhoneHash since the recipient is a different Task than caller.
func (k *Kernel) ConnectToMe(ctx context.Context, caller *Task, phone *Phone, args [3]uint64) error {
	if phone.State() != PhoneConnected {
		return fmt.Errorf("kernel: ConnectToMe: %w", errFatal)
	}

	remote, err := k.Task(phone.Callee().owner)
	if err != nil {
		return fmt.Errorf("kernel: ConnectToMe: %w", err)
	}

	newPhone, err := remote.phones.allocFree()
	if err != nil {
		return fmt.Errorf("kernel: ConnectToMe: %w", errLimit)
	}
	if err := k.Connect(newPhone, caller.Box); err != nil {
		remote.phones.release(newPhone)
		return fmt.Errorf("kernel: ConnectToMe: %w", err)
	}

	hash, err := newPhoneHash()
	if err != nil {
		remote.phones.release(newPhone)
		return fmt.Errorf("kernel: ConnectToMe: %w", err)
	}
	newPhone.setHash(hash)

	payload := Payload{Method: MethodConnectToMe, Args: [5]uint64{args[0], args[1], args[2], 0, uint64(hash)}}
	reply, err := k.CallSync(ctx, caller, phone, payload)
	if err == nil && reply.Method != 0 {
		err = fmt.Errorf("retval %d", reply.Method)
	}
	if err != nil {
		remote.phones.release(newPhone)
		return fmt.Errorf("kernel: ConnectToMe: refused: %w", err)
	}

	return nil
}

// ResolvePhoneHash resolves a hash a task learned via ARG5 of a
// CONNECT_TO_ME or CLONE_ESTABLISH call to one of its own phones.
func (t *Task) ResolvePhoneHash(hash PhoneHash) (PhoneID, bool) {
	return t.phones.lookupHash(hash)
}

// ConnectMeTo asks the task reachable through phone to connect caller to
// one of its services, per IPC_M_CONNECT_ME_TO. A phone is pre-allocated
// in caller's own table and its hash sent as ARG5 (replacing the original
// kernel's raw phone-pointer leak per DESIGN.md's phone-hash Open
// Question); the recipient answers EOK to accept, in which case this
// connects the new phone to the recipient's own box (the common
// "connect me to this specific service" shape; a recipient that wants to
// redirect elsewhere should use Forward on the underlying call instead of
// answering directly). Any other answer leaves the phone unconnected and
// reports the recipient's error.
func (k *Kernel) ConnectMeTo(ctx context.Context, caller *Task, phone *Phone, args [3]uint64) (*Phone, error) {
	newPhone, err := caller.phones.allocFree()
	if err != nil {
		return nil, fmt.Errorf("kernel: ConnectMeTo: %w", errLimit)
	}

	hash, err := newPhoneHash()
	if err != nil {
		caller.phones.release(newPhone)
		return nil, fmt.Errorf("kernel: ConnectMeTo: %w", err)
	}
	newPhone.setHash(hash)

	payload := Payload{Method: MethodConnectMeTo, Args: [5]uint64{args[0], args[1], args[2], 0, uint64(hash)}}
	reply, err := k.CallSync(ctx, caller, phone, payload)
	if err == nil && reply.Method != 0 {
		err = fmt.Errorf("retval %d", reply.Method)
	}
	if err != nil {
		caller.phones.release(newPhone)
		return nil, fmt.Errorf("kernel: ConnectMeTo: refused: %w", err)
	}

	target := phone.Callee()
	if err := k.Connect(newPhone, target); err != nil {
		caller.phones.release(newPhone)
		return nil, fmt.Errorf("kernel: ConnectMeTo: %w", err)
	}

	return newPhone, nil
}

// ShareOut offers area for sharing to the task reachable through phone,
// per IPC_M_SHARE_OUT: ARG1 carries the source area's base address, ARG2
// its size, ARG3 its flags. area is snapshotted into its ShareInfo before
// the message is sent so a concurrent fault in the recipient, once it
// adopts the share via ShareIn, already sees a consistent pagemap.
func (k *Kernel) ShareOut(ctx context.Context, caller *Task, phone *Phone, area *mm.Area, flags mm.AreaFlags) error {
	if err := caller.AS.ShareArea(area); err != nil {
		return fmt.Errorf("kernel: ShareOut: %w", err)
	}

	size := area.End() - area.Base()
	payload := Payload{Method: MethodShareOut, Args: [5]uint64{uint64(area.Base()), uint64(size), uint64(flags)}}

	_, err := k.CallSync(ctx, caller, phone, payload)
	if err != nil {
		return fmt.Errorf("kernel: ShareOut: %w", err)
	}
	return nil
}

// ShareIn completes a SHARE_OUT in the recipient task: c is the dispatched
// call (not yet answered) whose Payload.Method is MethodShareOut, and base
// is where the recipient wants the shared area mapped in its own address
// space. Per IPC_M_SHARE_IN's "on answer, the recipient must set ARG1 =
// source as_area base address, ARG3 = dst as_area lower bound", the caller
// should Answer c with those fields once this returns successfully.
func (k *Kernel) ShareIn(recipient *Task, c *Call, base uintptr) (*mm.Area, error) {
	if c.Payload.Method != MethodShareOut {
		return nil, fmt.Errorf("kernel: ShareIn: %w: call is not a pending SHARE_OUT", errInval)
	}

	srcBase := uintptr(c.Payload.Args[0])
	size := uintptr(c.Payload.Args[1])
	flags := mm.AreaFlags(c.Payload.Args[2])

	sender, err := recipient.k.Task(c.Sender)
	if err != nil {
		return nil, fmt.Errorf("kernel: ShareIn: %w", err)
	}

	srcArea := sender.AS.FindArea(srcBase)
	if srcArea == nil || srcArea.End()-srcArea.Base() != size {
		return nil, fmt.Errorf("kernel: ShareIn: %w: source area [%#x,+%#x) not found", errInval, srcBase, size)
	}

	area, err := recipient.AS.AdoptSharedArea(base, srcArea, flags)
	if err != nil {
		return nil, fmt.Errorf("kernel: ShareIn: %w", err)
	}
	return area, nil
}

// DataWrite copies src into the recipient's address space, per
// IPC_M_DATA_WRITE: ARG1 the source virtual address, ARG2 the size. The
// recipient's own code is expected to answer with the final destination
// address and size once it decides where (or whether, cropped) to accept
// the write; DataWrite performs the actual copy eagerly against the
// sender's own address space rather than the kernel's scratch buffer the
// original uses, since both address spaces here are simulated in one
// process.
func (k *Kernel) DataWrite(ctx context.Context, caller *Task, phone *Phone, src uintptr, size uintptr) error {
	buf := make([]byte, size)
	if _, err := caller.AS.CopyOut(buf, src); err != nil {
		return fmt.Errorf("kernel: DataWrite: %w", err)
	}

	payload := Payload{Method: MethodDataWrite, Args: [5]uint64{uint64(src), uint64(size)}}
	reply, err := k.CallSync(ctx, caller, phone, payload)
	if err != nil {
		return fmt.Errorf("kernel: DataWrite: %w", err)
	}

	recipient, err := k.Task(phone.Callee().owner)
	if err != nil {
		return fmt.Errorf("kernel: DataWrite: %w", err)
	}

	dst := uintptr(reply.Args[0])
	n := uintptr(reply.Args[1])
	if n > size {
		n = size
	}

	if _, err := recipient.AS.CopyIn(dst, buf[:n]); err != nil {
		return fmt.Errorf("kernel: DataWrite: %w", err)
	}
	return nil
}

// DataRead requests size bytes from the recipient reachable through phone
// starting at virtual address dst within the source address space, per
// IPC_M_DATA_READ: ARG1 the requested address, ARG2 the size. On a
// successful answer (ARG1 the source task's final address, ARG2 the final
// size) it copies those bytes into caller's address space at dst.
func (k *Kernel) DataRead(ctx context.Context, caller *Task, phone *Phone, dst uintptr, size uintptr) error {
	payload := Payload{Method: MethodDataRead, Args: [5]uint64{uint64(dst), uint64(size)}}
	reply, err := k.CallSync(ctx, caller, phone, payload)
	if err != nil {
		return fmt.Errorf("kernel: DataRead: %w", err)
	}

	recipient, err := k.Task(phone.Callee().owner)
	if err != nil {
		return fmt.Errorf("kernel: DataRead: %w", err)
	}

	src := uintptr(reply.Args[0])
	n := uintptr(reply.Args[1])
	if n > size {
		n = size
	}

	buf := make([]byte, n)
	if _, err := recipient.AS.CopyOut(buf, src); err != nil {
		return fmt.Errorf("kernel: DataRead: %w", err)
	}
	if _, err := caller.AS.CopyIn(dst, buf); err != nil {
		return fmt.Errorf("kernel: DataRead: %w", err)
	}
	return nil
}

// StateChangeAuthorize authorizes a third-party state change, per
// IPC_M_STATE_CHANGE_AUTHORIZE: ARG1-ARG3 are protocol-defined payload,
// ARG5 carries the opaque hash of caller's phone to the third-party task
// (minted on first use if that phone has none yet). On an EOK answer, the
// recipient has set ARG1 to its own phone to that same third party; this
// returns that phone's id resolved against recipient's table.
func (k *Kernel) StateChangeAuthorize(ctx context.Context, caller *Task, phone *Phone, thirdParty *Phone, args [3]uint64) (PhoneID, error) {
	hash := thirdParty.Hash()
	if hash == 0 {
		h, err := newPhoneHash()
		if err != nil {
			return 0, fmt.Errorf("kernel: StateChangeAuthorize: %w", err)
		}
		thirdParty.setHash(h)
		hash = h
	}
	payload := Payload{Method: MethodStateChangeAuthorize, Args: [5]uint64{args[0], args[1], args[2], 0, uint64(hash)}}

	reply, err := k.CallSync(ctx, caller, phone, payload)
	if err != nil {
		return 0, fmt.Errorf("kernel: StateChangeAuthorize: %w", err)
	}

	return PhoneID(reply.Args[0]), nil
}

// Debug issues a udebug-style debug request to the task reachable through
// phone, per IPC_M_DEBUG: ARG1 selects the debug sub-method, the remaining
// args are sub-method specific. This package implements no debug
// sub-methods itself (spec.md Non-goals exclude a debugger); Debug exists
// so a caller can still exercise the wire method and a future debug
// front-end has somewhere to hang sub-methods without a new system method
// number.
func (k *Kernel) Debug(ctx context.Context, caller *Task, phone *Phone, subMethod uint64, args [4]uint64) (Payload, error) {
	payload := Payload{Method: MethodDebugBase, Args: [5]uint64{subMethod, args[0], args[1], args[2], args[3]}}
	return k.CallSync(ctx, caller, phone, payload)
}
