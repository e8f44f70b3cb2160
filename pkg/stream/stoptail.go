package stream

import "strings"

// StopTail scans streamed text for stop sequences that may arrive split
// across chunk boundaries. Emitted text never contains a stop sequence:
// any trailing bytes that could begin one are withheld until the next chunk
// resolves them or the stream ends naturally, at which point Drain releases
// them.
//
// StopTail is not safe for concurrent use; the session loop owns it.
type StopTail struct {
	stops  []string
	maxLen int
	held   string
}

func NewStopTail(stops []string) *StopTail {
	t := &StopTail{}
	for _, s := range stops {
		if s == "" {
			continue
		}
		t.stops = append(t.stops, s)
		if len(s) > t.maxLen {
			t.maxLen = len(s)
		}
	}
	return t
}

// Empty reports whether no stop sequences are configured. Callers can skip
// scanning entirely in that case.
func (t *StopTail) Empty() bool { return len(t.stops) == 0 }

// Scan appends chunk to the withheld tail and returns the text that is now
// safe to emit. hit is true when a stop sequence completed: emit holds the
// text before it, the matched sequence is swallowed, and anything after it
// is discarded.
func (t *StopTail) Scan(chunk string) (emit string, hit bool) {
	if t.Empty() {
		return chunk, false
	}
	buf := t.held + chunk
	t.held = ""

	if idx := earliestStop(buf, t.stops); idx >= 0 {
		return buf[:idx], true
	}

	hold := t.prefixHold(buf)
	t.held = buf[len(buf)-hold:]
	return buf[:len(buf)-hold], false
}

// Drain releases the withheld tail. Call it once at natural end of stream;
// the bytes were held only because a stop sequence might still have
// completed.
func (t *StopTail) Drain() string {
	out := t.held
	t.held = ""
	return out
}

// prefixHold returns the length of the longest suffix of buf that is a
// proper prefix of any stop sequence.
func (t *StopTail) prefixHold(buf string) int {
	max := t.maxLen - 1
	if len(buf) < max {
		max = len(buf)
	}
	for n := max; n > 0; n-- {
		suffix := buf[len(buf)-n:]
		for _, stop := range t.stops {
			if n < len(stop) && strings.HasPrefix(stop, suffix) {
				return n
			}
		}
	}
	return 0
}

// TrimAtStop truncates text at the earliest occurrence of any stop
// sequence. hit reports whether one was found.
func TrimAtStop(text string, stops []string) (trimmed string, hit bool) {
	live := stops[:0:0]
	for _, s := range stops {
		if s != "" {
			live = append(live, s)
		}
	}
	if idx := earliestStop(text, live); idx >= 0 {
		return text[:idx], true
	}
	return text, false
}

func earliestStop(text string, stops []string) int {
	idx := -1
	for _, stop := range stops {
		if j := strings.Index(text, stop); j >= 0 && (idx < 0 || j < idx) {
			idx = j
		}
	}
	return idx
}
