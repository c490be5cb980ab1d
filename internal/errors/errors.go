package errors

import "fmt"

// ErrorCode represents a Weave error code.
type ErrorCode string

const (
	ErrBadPrecondition    ErrorCode = "BAD_PRECONDITION"    // out-of-range position, base version ahead of the document
	ErrFileNotFound       ErrorCode = "FILE_NOT_FOUND"      // path does not resolve
	ErrFileExists         ErrorCode = "FILE_EXISTS"         // create/move target already present
	ErrSlowConsumer       ErrorCode = "SLOW_CONSUMER"       // outbound queue overflow, session dropped
	ErrStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE" // persistent store failure
	ErrRetryLater         ErrorCode = "RETRY_LATER"         // transient failure, op rolled back
	ErrReplicationGap     ErrorCode = "REPLICATION_GAP"     // missing origin sequence, anti-entropy in progress
	ErrProtocolViolation  ErrorCode = "PROTOCOL_VIOLATION"  // unknown tag or protocol version mismatch
	ErrSessionClosed      ErrorCode = "SESSION_CLOSED"      // submission on a dropped session
	ErrInternal           ErrorCode = "INTERNAL"
)

// WeaveError represents a structured error with a code and details.
type WeaveError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *WeaveError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBadPrecondition creates an error for invalid positions or versions.
func NewBadPrecondition(msg string) *WeaveError {
	return &WeaveError{
		Code:    ErrBadPrecondition,
		Message: msg,
	}
}

// NewFileNotFound creates an error for an unresolvable path.
func NewFileNotFound(path string) *WeaveError {
	return &WeaveError{
		Code:    ErrFileNotFound,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewFileExists creates an error for create/move collisions.
func NewFileExists(path string) *WeaveError {
	return &WeaveError{
		Code:    ErrFileExists,
		Message: fmt.Sprintf("file already exists: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewSlowConsumer creates the error a session is dropped with when its
// outbound queue overflows.
func NewSlowConsumer(sessionID string) *WeaveError {
	return &WeaveError{
		Code:    ErrSlowConsumer,
		Message: fmt.Sprintf("session %s dropped: outbound queue full", sessionID),
		Details: map[string]any{"session_id": sessionID},
	}
}

// NewStorageUnavailable creates an error for persistent store failures.
func NewStorageUnavailable(err error) *WeaveError {
	msg := "storage unavailable"
	if err != nil {
		msg = err.Error()
	}
	return &WeaveError{
		Code:    ErrStorageUnavailable,
		Message: msg,
	}
}

// NewRetryLater creates the retryable error returned after a rollback.
func NewRetryLater(msg string) *WeaveError {
	return &WeaveError{
		Code:    ErrRetryLater,
		Message: msg,
	}
}

// NewReplicationGap creates an error for a missing origin sequence.
func NewReplicationGap(origin string, want, got uint64) *WeaveError {
	return &WeaveError{
		Code:    ErrReplicationGap,
		Message: fmt.Sprintf("gap from origin %s: want seq %d, got %d", origin, want, got),
		Details: map[string]any{"origin": origin, "want": want, "got": got},
	}
}

// NewProtocolViolation creates the error a connection is closed with.
func NewProtocolViolation(msg string) *WeaveError {
	return &WeaveError{
		Code:    ErrProtocolViolation,
		Message: msg,
	}
}

// NewSessionClosed creates an error for submissions on a dropped session.
func NewSessionClosed(sessionID string) *WeaveError {
	return &WeaveError{
		Code:    ErrSessionClosed,
		Message: fmt.Sprintf("session closed: %s", sessionID),
		Details: map[string]any{"session_id": sessionID},
	}
}

// NewInternal creates an error for unexpected internal failures.
func NewInternal(err error) *WeaveError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &WeaveError{
		Code:    ErrInternal,
		Message: msg,
	}
}

// Is checks if an error is a WeaveError with the given code.
func Is(err error, code ErrorCode) bool {
	if wErr, ok := err.(*WeaveError); ok {
		return wErr.Code == code
	}
	return false
}
