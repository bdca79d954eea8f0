package varstore

import "errors"

// ErrMalformedFrame mirrors wire.ErrMalformedFrame for name/value cap
// violations caught at the store layer rather than during wire decode.
var ErrMalformedFrame = errors.New("malformed frame")

// ErrCapacityExceeded is returned when a write would add a name beyond the
// scope's cap. The write is rejected silently from the caller's point of
// view — callers are expected to count this, not log it per-occurrence.
var ErrCapacityExceeded = errors.New("capacity exceeded")

// ErrStale is returned when an incoming write loses LWW comparison against
// the stored value. Not a failure — the write is simply a no-op.
var ErrStale = errors.New("stale write")
