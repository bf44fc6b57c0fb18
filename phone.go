package kernel

import (
	"fmt"

	"github.com/HelenOS/helenos-sub036/internal/synch"
)

// PhoneState is the phone lifecycle state machine of spec.md §B:
// "PhoneFree -> PhoneConnecting -> PhoneConnected -> PhoneHungup -> PhoneFree".
type PhoneState int

const (
	PhoneFree PhoneState = iota
	PhoneConnecting
	PhoneConnected
	PhoneHungup
)

func (s PhoneState) String() string {
	switch s {
	case PhoneFree:
		return "free"
	case PhoneConnecting:
		return "connecting"
	case PhoneConnected:
		return "connected"
	case PhoneHungup:
		return "hungup"
	default:
		return "unknown"
	}
}

// PhoneHash is an opaque, per-connection token handed out for
// CLONE_ESTABLISH, CONNECT_TO_ME, and STATE_CHANGE_AUTHORIZE, closing the
// phone-hash-leak TODO noted in original_source: it is a random value from
// crypto/rand rather than a raw pointer or arena index, so observing it
// grants no addressability (DESIGN.md Open Question 3). Sized as a single
// uint64 so it fits one ABI argument slot (spec.md §6: "Phone hashes...
// occupy argument slot 5").
type PhoneHash uint64

// Phone is one outbound connection slot belonging to a Task. Grounded on
// original_source/generic/src/ipc/ipc.c's ipc_phone_init/_destroy plus
// spec.md §B.
type Phone struct {
	lock synch.SpinLock

	owner TaskID
	id    PhoneID

	// GUARDED_BY(lock)
	state PhoneState
	// GUARDED_BY(lock)
	callee *AnswerBox
	// GUARDED_BY(lock)
	hash PhoneHash
}

// State returns the phone's current lifecycle state.
func (p *Phone) State() PhoneState {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.state
}

// Callee returns the answerbox this phone is connected to, or nil.
func (p *Phone) Callee() *AnswerBox {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.callee
}

// Hash returns the phone's opaque authorization token.
func (p *Phone) Hash() PhoneHash {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.hash
}

// setHash assigns p's opaque authorization token for a setup protocol
// (CONNECTION_CLONE, CONNECT_TO_ME, CONNECT_ME_TO, STATE_CHANGE_AUTHORIZE)
// that hands the hash to another task. ConnectMeTo sets it before the
// phone is connected; ConnectionClone and ConnectToMe set it after.
func (p *Phone) setHash(h PhoneHash) {
	p.lock.Lock()
	p.hash = h
	p.lock.Unlock()
}

// PhoneTable is a Task's fixed-size array of phone slots (spec.md §4.4.1:
// "A fixed-size PhoneTable... with Limit() int exposed synchronously").
type PhoneTable struct {
	lock synch.SpinLock

	owner TaskID
	// GUARDED_BY(lock)
	phones []*Phone
}

func newPhoneTable(owner TaskID, size int) *PhoneTable {
	t := &PhoneTable{owner: owner, phones: make([]*Phone, size)}
	t.lock.Init("kernel.PhoneTable", synch.ClassPhoneTable)
	for i := range t.phones {
		t.phones[i] = &Phone{owner: owner, id: PhoneID(i), state: PhoneFree}
		t.phones[i].lock.Init("kernel.Phone", synch.ClassPhone)
	}
	return t
}

// Limit returns the number of phone slots in the table.
func (t *PhoneTable) Limit() int {
	return len(t.phones)
}

// Get returns the phone at id, or an error if id is out of range.
func (t *PhoneTable) Get(id PhoneID) (*Phone, error) {
	if int(id) < 0 || int(id) >= len(t.phones) {
		return nil, fmt.Errorf("kernel: phone id %d out of range [0, %d)", id, len(t.phones))
	}
	return t.phones[id], nil
}

// allocFree finds a free phone slot and marks it PhoneConnecting, returning
// an error if the table is full (spec.md §4.4.1, IPC_ELIMIT).
func (t *PhoneTable) allocFree() (*Phone, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	for _, p := range t.phones {
		p.lock.Lock()
		if p.state == PhoneFree {
			p.state = PhoneConnecting
			p.lock.Unlock()
			return p, nil
		}
		p.lock.Unlock()
	}

	return nil, fmt.Errorf("kernel: phone table full (limit %d)", len(t.phones))
}

// release returns p to PhoneFree, for the three-party setup protocols
// (CONNECTION_CLONE, CONNECT_TO_ME, CONNECT_ME_TO) to unwind a speculatively
// allocated phone the callee refused.
func (t *PhoneTable) release(p *Phone) {
	p.lock.Lock()
	p.state = PhoneFree
	p.callee = nil
	p.hash = 0
	p.lock.Unlock()
}

// lookupHash returns the phone whose opaque token is hash, if any, so a
// callee that just learned a hash via CLONE_ESTABLISH or CONNECT_TO_ME can
// resolve it to a usable PhoneID.
func (t *PhoneTable) lookupHash(hash PhoneHash) (PhoneID, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	for _, p := range t.phones {
		p.lock.Lock()
		h := p.hash
		p.lock.Unlock()
		if h == hash {
			return p.id, true
		}
	}
	return 0, false
}
