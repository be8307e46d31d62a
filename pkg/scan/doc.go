// Package scan implements the device scan protocol state machine.
//
// A Machine drives one logical scan operation against one device, in one
// process, through the native handle manager: enumerate devices, negotiate
// capabilities, configure a transfer, and pull pages. It emits typed scan
// errors and delivers decoded pages to a Sink in acquisition order.
//
// The machine is execution-context-agnostic: the worker broker runs the
// same Machine either in the host process or inside an isolated worker
// process, selected by execution profile.
package scan
