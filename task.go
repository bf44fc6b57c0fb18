package kernel

import (
	"fmt"
	"sync"

	"github.com/HelenOS/helenos-sub036/mm"
)

// Task is an address space plus a set of threads and a single answerbox.
// Grounded on spec.md §A and original_source's task_t; the "arena + stable
// id" re-architecture (spec.md §9) means Tasks are never referenced by raw
// pointer across package boundaries — callers hold a TaskID and look the
// Task up through the owning Kernel.
type Task struct {
	id TaskID
	k  *Kernel

	AS *mm.AddressSpace
	Box *AnswerBox

	phones *PhoneTable

	mu      sync.Mutex
	threads map[ThreadID]*Thread
	nextTID ThreadID

	exited bool
}

// ID returns the task's stable identifier.
func (t *Task) ID() TaskID { return t.id }

// Phones returns the task's phone table.
func (t *Task) Phones() *PhoneTable { return t.phones }

// NewThread creates a new thread owned by t.
func (t *Task) NewThread() *Thread {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextTID++
	th := &Thread{id: t.nextTID, task: t.id}
	t.threads[th.id] = th
	return th
}

// Exit tears the task down per spec.md §4.4.2: it hangs up every connected
// outbound phone (each sends a HANGUP call to its callee), and marks every
// phone still connected to this task's answerbox as hung up without
// sending any call to that phone's holder.
func (t *Task) Exit() error {
	t.mu.Lock()
	if t.exited {
		t.mu.Unlock()
		return fmt.Errorf("kernel: task %d already exited", t.id)
	}
	t.exited = true
	t.mu.Unlock()

	for id := PhoneID(0); int(id) < t.phones.Limit(); id++ {
		p, _ := t.phones.Get(id)
		if p.State() == PhoneConnected {
			_ = t.k.Hangup(t, id)
		}
	}

	// Every phone some other task still holds into this task's own box must
	// stop working: mark each hung up so its holder's next send fails
	// fatally instead of landing in a box nobody will ever service again.
	for _, p := range t.Box.snapshotConnectedPhones() {
		p.lock.Lock()
		p.state = PhoneHungup
		p.callee = nil
		p.lock.Unlock()
	}
	t.Box.clearConnectedPhones()

	// Force-answer every call still sitting in this task's box with a
	// hangup error, so a sender blocked in CallSync is released instead of
	// waiting forever for an Answer this dead task can never issue
	// (spec.md E4: "A's sync call returns with error hangup. No leaked call
	// records remain in any list.").
	for _, c := range t.Box.close() {
		c.Answered = true
		c.Err = fmt.Errorf("kernel: task %d exited: %w", t.id, errHangup)
		c.CallerBox.pushAnswer(c)
	}

	return nil
}
