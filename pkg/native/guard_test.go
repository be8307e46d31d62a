package native

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestTokenCheck(t *testing.T) {
	var g Guard

	tok := g.Lock()
	if err := tok.Check(); err != nil {
		t.Fatalf("live token failed check: %v", err)
	}

	tok.Unlock()
	if err := tok.Check(); !errors.Is(err, ErrNotLocked) {
		t.Errorf("expected ErrNotLocked after unlock, got %v", err)
	}

	var nilTok *Token
	if err := nilTok.Check(); !errors.Is(err, ErrNotLocked) {
		t.Errorf("expected ErrNotLocked for nil token, got %v", err)
	}
}

func TestTokenUnlockIdempotent(t *testing.T) {
	var g Guard

	tok := g.Lock()
	tok.Unlock()
	tok.Unlock() // must not panic or double-unlock the mutex

	// The guard must be free again.
	tok2 := g.Lock()
	defer tok2.Unlock()
	if err := tok2.Check(); err != nil {
		t.Fatalf("guard not reusable after double unlock: %v", err)
	}
}

func TestGuardMutualExclusion(t *testing.T) {
	var g Guard

	const goroutines = 8
	const iterations = 100

	inside := 0
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				tok := g.Lock()
				inside++
				if inside != 1 {
					t.Errorf("guard held by %d goroutines at once", inside)
				}
				inside--
				tok.Unlock()
			}
		}()
	}
	wg.Wait()
}

func TestGuardWithReleasesOnPanic(t *testing.T) {
	var g Guard

	func() {
		defer func() { recover() }()
		_ = g.With(func(tok *Token) error {
			panic("native call blew up")
		})
	}()

	// The guard must be free after the panic unwound.
	done := make(chan struct{})
	go func() {
		tok := g.Lock()
		tok.Unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("guard still held after panic inside With")
	}
}

func TestGuardWithReturnsError(t *testing.T) {
	var g Guard

	want := errors.New("boom")
	if err := g.With(func(tok *Token) error { return want }); !errors.Is(err, want) {
		t.Errorf("With returned %v, want %v", err, want)
	}
}
