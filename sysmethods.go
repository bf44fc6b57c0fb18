package kernel

// System IPC method numbers, all < 512 per spec.md §4.4.4. Grounded on
// original_source's ipc.h method constants.
const (
	MethodHangup uint32 = iota

	MethodConnectionClone
	MethodCloneEstablish
	MethodConnectToMe
	MethodConnectMeTo
	MethodShareOut
	MethodShareIn
	MethodDataWrite
	MethodDataRead
	MethodStateChangeAuthorize

	MethodDebugBase = 256
)

// UserMethodBase is the first method number userspace callers may use for
// their own purposes; everything below it is reserved for the system
// methods above.
const UserMethodBase uint32 = 1024
