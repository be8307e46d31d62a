// Package transport implements length-prefixed framing for the worker
// channel. Each frame is a 4-byte big-endian length followed by one CBOR
// message (see pkg/wire). The frame size ceiling defaults high enough for
// full-page payloads at typical scan resolutions.
package transport
