package native

import (
	"errors"
	"sync"
)

// Guard errors.
var (
	// ErrNotLocked indicates a native call was attempted without holding
	// the driver lock. This is a programming error.
	ErrNotLocked = errors.New("native call attempted without holding the driver lock")
)

// Guard is the process-wide mutual exclusion primitive for the native
// scanning library. The library is not reentrant, so every call into it
// must happen while the guard is held.
//
// The guard is held for the duration of one synchronous native call, never
// across caller-level suspension points.
type Guard struct {
	mu sync.Mutex
}

// Lock acquires the guard and returns a token proving it is held.
// The token must be passed to every Driver call and released with Unlock.
func (g *Guard) Lock() *Token {
	g.mu.Lock()
	return &Token{guard: g}
}

// With runs fn while holding the guard. The token is released on every
// exit path, including panics.
func (g *Guard) With(fn func(*Token) error) error {
	tok := g.Lock()
	defer tok.Unlock()
	return fn(tok)
}

// Token is a capability proving the driver guard is held. It is returned
// only by Guard.Lock, turning "forgot to lock" into a fail-fast error at
// the call site rather than silent corruption inside the native library.
//
// Tokens are not safe for concurrent use and must not outlive Unlock.
type Token struct {
	guard    *Guard
	released bool
}

// Unlock releases the guard. Calling Unlock more than once is a no-op.
func (t *Token) Unlock() {
	if t == nil || t.released {
		return
	}
	t.released = true
	t.guard.mu.Unlock()
}

// Check verifies the token is live. Every Driver implementation calls
// Check at the top of each entry point.
func (t *Token) Check() error {
	if t == nil || t.released {
		return ErrNotLocked
	}
	return nil
}
