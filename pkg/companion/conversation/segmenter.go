package conversation

import "time"

// segmenter decides when a stream of cumulative partial-transcript snapshots
// forms a complete utterance. Every snapshot resets a single-shot debounce
// timer; when the timer fires with a non-empty buffer and no assistant turn
// in flight, the buffered text is emitted as one finalized utterance.
type segmenter struct {
	window time.Duration

	timer  *time.Timer
	active bool
	buffer string
}

func newSegmenter(window time.Duration) *segmenter {
	return &segmenter{window: window}
}

// observe records the latest snapshot and re-arms the debounce timer. The
// snapshot supersedes any previously buffered text.
func (g *segmenter) observe(text string) {
	g.buffer = text
	if g.timer == nil {
		g.timer = time.NewTimer(g.window)
		g.active = true
		return
	}
	if !g.timer.Stop() {
		select {
		case <-g.timer.C:
		default:
		}
	}
	g.timer.Reset(g.window)
	g.active = true
}

// timerCh is nil while no debounce window is pending, so it never fires in a
// select loop unless armed.
func (g *segmenter) timerCh() <-chan time.Time {
	if !g.active || g.timer == nil {
		return nil
	}
	return g.timer.C
}

// finalize consumes the buffered utterance after the timer fired. It returns
// false when the buffer is empty.
func (g *segmenter) finalize() (string, bool) {
	g.active = false
	text := g.buffer
	g.buffer = ""
	if text == "" {
		return "", false
	}
	return text, true
}

// hold retains the buffered snapshot without emitting it. Used when the timer
// fires while an assistant turn is in flight: the snapshot stays buffered and
// the next snapshot re-arms the window.
func (g *segmenter) hold() {
	g.active = false
}

// clear drops the buffer and disarms the timer.
func (g *segmenter) clear() {
	g.buffer = ""
	g.active = false
	if g.timer != nil {
		if !g.timer.Stop() {
			select {
			case <-g.timer.C:
			default:
			}
		}
	}
}
