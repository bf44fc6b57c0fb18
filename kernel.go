package kernel

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jacobsa/timeutil"

	"github.com/HelenOS/helenos-sub036/mm"
)

// Kernel is the root of a single simulated system: the task arena, the
// answerbox id sequence, and the shared call slab. Grounded on spec.md §9's
// "global mutable state -> per-process singleton passed explicitly": unlike
// the original kernel's file-scope globals, every piece of mutable state
// here hangs off an explicit *Kernel a test or demo constructs itself, so
// multiple independent kernels can coexist in one process (as the test
// suite does).
type Kernel struct {
	cfg KernelConfig

	frameAlloc mm.FrameAllocator

	mu       sync.Mutex
	tasks    map[TaskID]*Task
	nextTID  TaskID
	nextBID  AnswerBoxID

	calls       *callSlab
	nextCallSeq uint64
}

// NewKernel constructs an empty Kernel using cfg for its tunables.
func NewKernel(cfg KernelConfig) *Kernel {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock()
	}
	return &Kernel{
		cfg:   cfg,
		tasks: make(map[TaskID]*Task),
		calls: newCallSlab(),
	}
}

// Now returns the kernel's current time per its configured Clock.
func (k *Kernel) Now() time.Time { return k.cfg.Clock.Now() }

// nextCallID returns a fresh, never-reused call identifier.
func (k *Kernel) nextCallID() CallID {
	return CallID(atomic.AddUint64(&k.nextCallSeq, 1))
}

// nextAnswerBoxID returns a fresh, never-reused answerbox identifier.
func (k *Kernel) nextAnswerBoxID() AnswerBoxID {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.nextBID++
	return k.nextBID
}

// NewTask creates a new task with a fresh address space, phone table, and
// answerbox.
func (k *Kernel) NewTask() *Task {
	k.mu.Lock()
	k.nextTID++
	tid := k.nextTID
	k.mu.Unlock()
	bid := k.nextAnswerBoxID()

	t := &Task{
		id:      tid,
		k:       k,
		AS:      mm.NewAddressSpace(mm.NewMapPageTable(), &k.frameAlloc),
		phones:  newPhoneTable(tid, k.cfg.PhoneTableSize),
		threads: make(map[ThreadID]*Thread),
	}
	t.Box = newAnswerBox(tid, bid)

	k.mu.Lock()
	k.tasks[tid] = t
	k.mu.Unlock()

	return t
}

// Task looks a task up by id.
func (k *Kernel) Task(id TaskID) (*Task, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	t, ok := k.tasks[id]
	if !ok {
		return nil, fmt.Errorf("kernel: no such task %d", id)
	}
	return t, nil
}
