package errs

// Failure classes of the realtime layer. A malformed event never kills the
// connection; a store failure never publishes fan-out; an unreachable peer
// is a negative event to the sender, not an exception.
const (
	CodeValidation     = 1001 // malformed or out-of-contract event
	CodeNotFound       = 1002 // unknown conversation/call/user
	CodeConflict       = 1003 // callee busy, duplicate accept, lock contention
	CodeTransientStore = 1004 // shared-store I/O failure
	CodeUnreachable    = 1005 // no live connection for the target user
)

var (
	ErrValidation     = NewCodeError(CodeValidation, "validation failed")
	ErrNotFound       = NewCodeError(CodeNotFound, "record not found")
	ErrConflict       = NewCodeError(CodeConflict, "conflict")
	ErrTransientStore = NewCodeError(CodeTransientStore, "store unavailable")
	ErrUnreachable    = NewCodeError(CodeUnreachable, "peer unreachable")
)
