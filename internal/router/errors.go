package router

import "errors"

// ErrDuplicateHandler reports a second Register for an already-bound tag.
var ErrDuplicateHandler = errors.New("handler already registered")

// ErrSenderClosed reports a Send after the transport went away.
var ErrSenderClosed = errors.New("sender closed")

// ErrSendBufferFull reports a Send dropped because the outbound buffer was
// saturated; live delivery is preferred over blocking the caller.
var ErrSendBufferFull = errors.New("send buffer full")
