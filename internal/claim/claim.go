package claim

import "sync/atomic"

// Flag is a non-blocking mutual exclusion primitive.
// The zero value is unclaimed.
type Flag struct {
	claimed atomic.Bool
}

// TryClaim claims the flag if it is free.
// Returns true if the caller now holds the claim.
func (f *Flag) TryClaim() bool {
	return f.claimed.CompareAndSwap(false, true)
}

// Release frees the flag. Releasing an unclaimed flag is a no-op.
//
// NOTE: There is no ownership check. Only the holder should release.
func (f *Flag) Release() {
	f.claimed.Store(false)
}

// Claimed reports whether the flag is currently held
func (f *Flag) Claimed() bool {
	return f.claimed.Load()
}
