package errs

import "errors"

// Domain sentinel errors, mapped to HTTP codes in handlers and to reply error
// strings in the WebSocket protocol.
var (
	ErrNoSession          = errors.New("no session")
	ErrUserNotFound       = errors.New("user not found")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrAckTimeout         = errors.New("ack timeout")
	ErrSendBufferFull     = errors.New("send buffer full")
	ErrForbidden          = errors.New("forbidden")
)
