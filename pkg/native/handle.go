package native

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/log"
)

// Handle errors.
var (
	// ErrUseAfterRelease indicates a handle was dereferenced after Close.
	// This is a programming error.
	ErrUseAfterRelease = errors.New("native handle used after release")
)

// HandleError indicates a native allocation or open call failed.
type HandleError struct {
	// Kind names the handle that failed to allocate ("manager", "device",
	// "item", "transfer").
	Kind string

	// Code is the native library's last-error code.
	Code Status
}

// Error implements the error interface.
func (e *HandleError) Error() string {
	return fmt.Sprintf("failed to create %s handle: %s (code %d)", e.Kind, e.Code, int(e.Code))
}

// Manager owns the driver guard and wraps every handle obtained from the
// native library. There is one Manager per Driver binding per process.
type Manager struct {
	drv    Driver
	guard  Guard
	logger log.Logger
}

// NewManager creates a handle manager for the given driver binding.
// Pass nil to disable protocol logging.
func NewManager(drv Driver, logger log.Logger) *Manager {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Manager{drv: drv, logger: logger}
}

// Driver returns the underlying driver binding.
func (m *Manager) Driver() Driver {
	return m.drv
}

// Lock acquires the driver guard.
func (m *Manager) Lock() *Token {
	return m.guard.Lock()
}

// With runs fn while holding the driver guard, releasing it on every exit
// path.
func (m *Manager) With(fn func(*Token) error) error {
	return m.guard.With(fn)
}

// Acquire invokes construct under the given token and wraps the resulting
// raw handle. construct returns 0 on failure, in which case the native
// last-error code is read and surfaced as a HandleError.
func (m *Manager) Acquire(tok *Token, kind string, construct func(*Token) uintptr) (*Handle, error) {
	if err := tok.Check(); err != nil {
		return nil, err
	}

	start := time.Now()
	raw := construct(tok)
	if raw == 0 {
		code := m.drv.LastError(tok)
		m.logNativeCall(kind, code, time.Since(start))
		return nil, &HandleError{Kind: kind, Code: code}
	}
	m.logNativeCall(kind, StatusOK, time.Since(start))

	return &Handle{mgr: m, raw: raw, kind: kind}, nil
}

// Wrap takes ownership of a raw handle already returned by the driver,
// e.g. one element of an EnumItems result. The wrapper becomes the
// exclusive owner and must be closed exactly once.
func (m *Manager) Wrap(raw uintptr, kind string) *Handle {
	return &Handle{mgr: m, raw: raw, kind: kind}
}

// logNativeCall emits a native-call event for an allocation attempt.
func (m *Manager) logNativeCall(call string, status Status, d time.Duration) {
	m.logger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerNative,
		Category:  log.CategoryNative,
		NativeCall: &log.NativeCallEvent{
			Call:     "acquire:" + call,
			Status:   int(status),
			Duration: d,
		},
	})
}

// Handle wraps one raw native handle with single-ownership semantics.
// A Handle is valid between Acquire and Close; every dereference checks
// liveness first. Handles must not be copied.
type Handle struct {
	mgr  *Manager
	kind string

	mu       sync.Mutex
	raw      uintptr
	released bool
}

// Kind returns the handle kind ("manager", "device", "item", "transfer").
func (h *Handle) Kind() string {
	return h.kind
}

// Raw returns the raw native handle for use in a Driver call. The token
// requirement keeps dereferences inside the locked region. Fails with
// ErrUseAfterRelease once the handle is closed.
func (h *Handle) Raw(tok *Token) (uintptr, error) {
	if err := tok.Check(); err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return 0, ErrUseAfterRelease
	}
	return h.raw, nil
}

// IsLive reports whether the handle has not been released.
func (h *Handle) IsLive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.released
}

// Close releases the native handle. It takes the driver guard internally
// and invokes the native teardown call at most once; further calls are
// no-ops. Close never fails the caller: teardown errors are logged.
//
// Close must not be called while the guard is already held; use CloseWith
// inside locked regions.
func (h *Handle) Close() {
	raw, ok := h.take()
	if !ok {
		return
	}

	tok := h.mgr.Lock()
	defer tok.Unlock()
	h.teardown(tok, raw)
}

// CloseWith releases the native handle under an already-held token.
// Idempotent like Close. A dead token degrades to marking the handle
// released without invoking native teardown.
func (h *Handle) CloseWith(tok *Token) {
	raw, ok := h.take()
	if !ok {
		return
	}
	if tok.Check() != nil {
		return
	}
	h.teardown(tok, raw)
}

// take atomically marks the handle released and returns the raw value.
// Returns ok=false if the handle was already released.
func (h *Handle) take() (uintptr, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return 0, false
	}
	h.released = true
	raw := h.raw
	h.raw = 0
	return raw, true
}

// teardown invokes the native close call exactly once.
func (h *Handle) teardown(tok *Token, raw uintptr) {
	start := time.Now()
	status := h.mgr.drv.CloseHandle(tok, raw)
	h.mgr.logNativeCall("close:"+h.kind, status, time.Since(start))
}
