package kernel

import "sync"

// Payload is the fixed method+5-args record every call and answer carries
// (spec.md §3/§6; the 4-vs-5-args Open Question is resolved in favor of 5,
// per spec.md's explicit fix).
type Payload struct {
	Method uint32
	Args   [5]uint64
}

// Call is one in-flight message, allocated from callSlab and returned to it
// once answered (unless StaticAlloc, used for synthesized calls like
// Hangup that are never pooled). Grounded on the teacher's
// DefaultMessageProvider, itself a mutex-guarded freelist.Freelist; here the
// freelist is idiomatically a sync.Pool since Calls have no variable-length
// payload to preserve across reuse.
type Call struct {
	ID CallID

	Payload Payload

	// Phone is the phone this call was sent through; nil for a reply (the
	// reply is delivered by writing into the original Call's Payload and
	// setting Answered).
	Phone *Phone

	// CallerBox is the answerbox of the task that sent this call, so that
	// Answer knows where to deliver the reply.
	CallerBox *AnswerBox

	// Sender is the task that originated the call.
	Sender TaskID

	Answered    bool
	StaticAlloc bool
	Forwarded   bool

	// Err carries a sender-side failure encoded into the reply slot per
	// spec.md §7 ("errors on the IPC path are encoded into the reply slot
	// and delivered through the normal receive mechanism"), e.g. when the
	// kernel force-answers a call because its callee task died. Non-nil
	// only alongside Answered.
	Err error
}

// callSlab is a mutex-guarded sync.Pool of *Call, named and shaped after
// the teacher's DefaultMessageProvider: get-or-allocate under a lock,
// returned to the pool on both success and error paths except when the
// call is flagged StaticAlloc.
type callSlab struct {
	mu   sync.Mutex
	pool sync.Pool
}

func newCallSlab() *callSlab {
	s := &callSlab{}
	s.pool.New = func() interface{} { return &Call{} }
	return s
}

// alloc returns a zeroed *Call with the given id.
func (s *callSlab) alloc(id CallID) *Call {
	s.mu.Lock()
	c := s.pool.Get().(*Call)
	s.mu.Unlock()

	*c = Call{ID: id}
	return c
}

// free returns c to the slab, unless it was statically allocated (in which
// case the caller owns its lifetime directly).
func (s *callSlab) free(c *Call) {
	if c.StaticAlloc {
		return
	}

	s.mu.Lock()
	s.pool.Put(c)
	s.mu.Unlock()
}
