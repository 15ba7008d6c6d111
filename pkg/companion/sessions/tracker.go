// Package sessions tracks live conversation sessions so the gateway can warn
// and drain them on shutdown.
package sessions

import (
	"context"
	"sync"
)

// Session is the control surface a live session exposes to the tracker.
type Session interface {
	// Cancel tears the session down immediately.
	Cancel()
	// Warn delivers an advisory message to the connected client.
	Warn(code, message string)
}

type Tracker struct {
	mu   sync.Mutex
	live map[Session]struct{}
	wg   sync.WaitGroup
}

func NewTracker() *Tracker {
	return &Tracker{live: make(map[Session]struct{})}
}

// Add registers a live session and returns its removal function. Removal is
// idempotent.
func (t *Tracker) Add(s Session) (remove func()) {
	if t == nil || s == nil {
		return func() {}
	}

	t.mu.Lock()
	t.live[s] = struct{}{}
	t.wg.Add(1)
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.live, s)
			t.mu.Unlock()
			t.wg.Done()
		})
	}
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

// WarnAll sends an advisory to every live session.
func (t *Tracker) WarnAll(code, message string) (sent int) {
	for _, s := range t.snapshot() {
		s.Warn(code, message)
		sent++
	}
	return sent
}

// CancelAll tears down every live session.
func (t *Tracker) CancelAll() (canceled int) {
	for _, s := range t.snapshot() {
		s.Cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered session has been removed or the context
// expires. Returns false on timeout.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	if ctx == nil {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (t *Tracker) snapshot() []Session {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Session, 0, len(t.live))
	for s := range t.live {
		out = append(out, s)
	}
	return out
}
