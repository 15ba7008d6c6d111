package conversation

import (
	"context"
	"fmt"
	"log/slog"
)

// speechInput owns the lifecycle of the recognition engine: it holds exactly
// one live RecognitionHandle at a time, gates transcript delivery while the
// system's own voice is playing, and replaces the handle on engine errors.
type speechInput struct {
	engine RecognitionEngine
	logger *slog.Logger

	handle     RecognitionHandle
	suppressed bool
	// recognizing tracks whether the live handle has acknowledged start and
	// not yet emitted end.
	recognizing bool
}

func newSpeechInput(engine RecognitionEngine, logger *slog.Logger) *speechInput {
	return &speechInput{engine: engine, logger: logger}
}

// start creates the handle if none exists and begins listening. Idempotent
// while a handle is live.
func (c *speechInput) start(ctx context.Context) error {
	if c.handle == nil {
		h, err := c.engine.NewHandle(ctx)
		if err != nil {
			return fmt.Errorf("new recognition handle: %w", err)
		}
		c.handle = h
	}
	if c.recognizing {
		return nil
	}
	if err := c.handle.Start(); err != nil {
		return fmt.Errorf("start recognition: %w", err)
	}
	return nil
}

// stop requests a graceful stop. The handle is expected to emit an end event
// asynchronously; recognition is not guaranteed to halt instantly.
func (c *speechInput) stop() {
	if c.handle != nil {
		c.handle.Stop()
	}
}

// abort tears the handle down immediately without waiting for an end event.
func (c *speechInput) abort() {
	if c.handle != nil {
		c.handle.Abort()
		c.handle = nil
	}
	c.recognizing = false
}

// replace discards the current handle and installs a freshly started one. The
// old handle is aborted before the new one exists, so it receives no further
// events.
func (c *speechInput) replace(ctx context.Context) error {
	c.abort()
	return c.start(ctx)
}

func (c *speechInput) suppress()   { c.suppressed = true }
func (c *speechInput) unsuppress() { c.suppressed = false }

// deliverable reports whether transcript text may be forwarded downstream.
func (c *speechInput) deliverable() bool { return !c.suppressed }

func (c *speechInput) live() bool { return c.recognizing }

// events returns the current handle's event channel, or nil when no handle
// exists so a select case on it stays idle.
func (c *speechInput) events() <-chan RecognitionEvent {
	if c.handle == nil {
		return nil
	}
	return c.handle.Events()
}

// observe updates lifecycle tracking for a handle event before the session
// acts on it.
func (c *speechInput) observe(ev RecognitionEvent) {
	switch ev.Kind {
	case RecEventStart:
		c.recognizing = true
	case RecEventEnd, RecEventError:
		c.recognizing = false
	}
}
