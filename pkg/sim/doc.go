// Package sim provides an in-memory native.Driver for tests and demos.
//
// The simulated driver models the observable behavior of a real binding:
// a device manager with an indexed device list, per-device item trees,
// property stores with range and list constraints, feeder batches that
// terminate with a configurable status code, blocking downloads that a
// lock-free cancel can interrupt, and a scriptable configuration dialog.
// It also counts live handles and guard violations so tests can assert
// cleanup and lock discipline.
package sim
