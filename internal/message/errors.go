package message

import "errors"

// ErrUnknownTag is returned by Decode for tags outside the closed union.
var ErrUnknownTag = errors.New("unknown message tag")

// ErrEmptyEnvelope is returned by Decode when the envelope has no message.
var ErrEmptyEnvelope = errors.New("envelope has no message")
