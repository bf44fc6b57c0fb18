package kernel

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
)

// NamingService is a name-to-answerbox registry standing in for HelenOS's
// bootstrap naming service (original_source/ipcc/ipcc.c is the client side
// of that protocol). Services register themselves under a name; ConnectTo
// resolves a name and connects a phone from the task's own table directly
// to the registered box. No CONNECT_ME_TO call is sent, and phone 0 plays
// no special part.
type NamingService struct {
	k *Kernel

	mu       sync.Mutex
	services map[string]*AnswerBox
}

// NewNamingService returns an empty registry bound to k.
func NewNamingService(k *Kernel) *NamingService {
	return &NamingService{k: k, services: make(map[string]*AnswerBox)}
}

// Register makes box reachable by name via ConnectTo.
func (n *NamingService) Register(name string, box *AnswerBox) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.services[name] = box
}

// ConnectTo resolves name to a connected phone on behalf of task. The
// returned phone is the lowest free slot of task's own table, connected
// without any IPC round trip.
func (n *NamingService) ConnectTo(task *Task, name string) (*Phone, error) {
	n.mu.Lock()
	box, ok := n.services[name]
	n.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("kernel: naming: %w: %q", errNoEnt, name)
	}

	p, err := task.phones.allocFree()
	if err != nil {
		return nil, fmt.Errorf("kernel: naming: %w", errLimit)
	}

	if err := n.k.Connect(p, box); err != nil {
		return nil, err
	}

	return p, nil
}

// newPhoneHash produces an opaque STATE_CHANGE_AUTHORIZE token. Grounded on
// DESIGN.md's resolution of the phone-hash-leak Open Question: a random
// token rather than an addressable reference.
func newPhoneHash() (PhoneHash, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("kernel: naming: %w", err)
	}
	return PhoneHash(binary.LittleEndian.Uint64(buf[:])), nil
}
