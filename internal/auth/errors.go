package auth

import "errors"

// ErrRateLimited is returned by Issue when a user exceeds the per-window
// ticket allowance.
var ErrRateLimited = errors.New("ticket rate limit exceeded")
