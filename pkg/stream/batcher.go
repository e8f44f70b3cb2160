package stream

import (
	"strings"
	"time"
)

// Batcher coalesces small content deltas to cut per-frame overhead without
// hurting perceived latency. The first piece of content passes through
// untouched so time-to-first-token stays unchanged; after that, text is
// buffered and released when it reaches the size threshold or when the
// interval since the last flush elapses.
//
// Batcher is not safe for concurrent use; the session loop owns it.
type Batcher struct {
	maxChars int
	interval time.Duration

	pending   strings.Builder
	lastFlush time.Time
	first     bool

	timer  *time.Timer
	timerC <-chan time.Time

	now func() time.Time
}

func NewBatcher(maxChars int, interval time.Duration) *Batcher {
	return &Batcher{
		maxChars: maxChars,
		interval: interval,
		now:      time.Now,
	}
}

// Add accepts a content delta and returns the text to emit now, or "" when
// the text was buffered. A single flush timer is armed while text is
// pending.
func (b *Batcher) Add(text string) string {
	if text == "" {
		return ""
	}
	if !b.first {
		b.first = true
		b.lastFlush = b.now()
		return text
	}
	b.pending.WriteString(text)
	if b.pending.Len() >= b.maxChars || b.now().Sub(b.lastFlush) >= b.interval {
		return b.drain()
	}
	b.arm()
	return ""
}

// TimerC exposes the pending flush timer for the caller's select. It is nil
// when nothing is buffered, which blocks that select case.
func (b *Batcher) TimerC() <-chan time.Time { return b.timerC }

// OnTimer drains the buffer after TimerC fires.
func (b *Batcher) OnTimer() string {
	b.timer = nil
	b.timerC = nil
	return b.drain()
}

// Flush drains whatever is buffered and disarms the timer.
func (b *Batcher) Flush() string {
	return b.drain()
}

// Stop releases the timer. Call it when abandoning the batcher mid-stream.
func (b *Batcher) Stop() {
	b.disarm()
}

func (b *Batcher) drain() string {
	b.disarm()
	out := b.pending.String()
	b.pending.Reset()
	if out != "" {
		b.lastFlush = b.now()
	}
	return out
}

func (b *Batcher) arm() {
	if b.timer != nil {
		return
	}
	d := b.lastFlush.Add(b.interval).Sub(b.now())
	if d < 0 {
		d = 0
	}
	b.timer = time.NewTimer(d)
	b.timerC = b.timer.C
}

func (b *Batcher) disarm() {
	if b.timer == nil {
		return
	}
	b.timer.Stop()
	b.timer = nil
	b.timerC = nil
}
