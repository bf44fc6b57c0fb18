package kernel

// TaskID, ThreadID, PhoneID, and CallID are stable identifiers into their
// respective arenas — the "arena + stable id" re-architecture of spec.md
// §9 replacing the original's cyclic C pointers (Task -> AnswerBox ->
// Phone -> Call -> CallerBox -> ...) with plain integers that remain valid
// (or detectably stale) across reuse. Grounded on
// samples/memfs/fs.go's inode-arena + free-list pattern.
type TaskID uint64

// ThreadID identifies a thread for the lifetime of its owning task.
type ThreadID uint64

// PhoneID is a small per-task descriptor: an index into the owning Task's
// PhoneTable. PhoneTable.allocFree hands out the lowest free slot, id 0
// included; no id is set aside for a naming-service connection.
type PhoneID int

// CallID is a stable identifier into the kernel's call arena.
type CallID uint64

// AnswerBoxID is a fresh, never-reused identifier for an answerbox. Answer
// and Forward never hold two answerbox locks at once, so it is not used as
// a lock-order tiebreak.
type AnswerBoxID uint64
