// Package wire defines the CBOR message encoding for the worker channel.
//
// The broker and a worker process exchange length-prefixed CBOR frames
// (see pkg/transport) carrying four message kinds:
//
//   - Request: broker -> worker, one per operation, messageId > 0
//   - Response: worker -> broker, terminates one request
//   - StreamEvent: worker -> broker, pages and progress for an active
//     scan request (messageId 0, correlated by requestId)
//   - ControlMessage: either direction, ping/pong/close/cancel
//
// All messages use integer map keys for compactness and deterministic
// encoding for reproducible traces.
package wire
