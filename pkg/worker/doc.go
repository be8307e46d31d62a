// Package worker runs scan operations in separate driver processes.
//
// Native scanner bindings load in-process and inherit the host's
// architecture, so a 64-bit host cannot touch a 32-bit-only driver
// directly. The broker solves this by spawning a worker executable of
// the matching bitness and relaying operations over a framed CBOR
// channel on the worker's stdio (see pkg/wire and pkg/transport).
//
// The broker presents the same Scanner surface as an in-process
// scan.Machine; callers do not see which process served a request.
// Pages stream back as they are acquired and arrive at the caller's
// sink in acquisition order.
package worker
