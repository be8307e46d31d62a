// Package native manages handles obtained from the native scanning library.
//
// The native library is not reentrant: at most one thread may be executing
// any call into it at a time, process-wide. This package owns that
// discipline. Callers take the global driver lock and receive a Token, a
// capability value that every Driver call requires. Calling without a live
// token is a programming error and fails fast with ErrNotLocked instead of
// silently corrupting driver state.
//
// Handles form an ownership tree (manager -> device -> item). Each handle
// is exclusively owned by the wrapper that acquired it, released exactly
// once, and never copied. Close is idempotent; using a handle after release
// fails with ErrUseAfterRelease without touching the native library.
package native
