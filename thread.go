package kernel

// Thread is a schedulable unit owned by exactly one Task for its entire
// life (spec.md §A).
type Thread struct {
	id   ThreadID
	task TaskID
}

// ID returns the thread's stable identifier.
func (th *Thread) ID() ThreadID { return th.id }

// Task returns the id of the owning task.
func (th *Thread) Task() TaskID { return th.task }
