package terminal

import (
	"sync"
	"unicode/utf8"
)

// DefaultOutputLimit is the retained output per terminal when the agent
// does not ask for a limit.
const DefaultOutputLimit = 1024 * 1024

// TruncationMarker prefixes output whose head was dropped.
const TruncationMarker = "[output truncated]\n"

// tailBuffer keeps the most recent limit bytes written to it, cut on a
// UTF-8 boundary.
type tailBuffer struct {
	mu        sync.Mutex
	buf       []byte
	limit     int
	truncated bool
}

func newTailBuffer(limit int) *tailBuffer {
	if limit <= 0 {
		limit = DefaultOutputLimit
	}
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if len(b.buf) > b.limit {
		drop := len(b.buf) - b.limit
		for drop < len(b.buf) && !utf8.RuneStart(b.buf[drop]) {
			drop++
		}
		b.buf = append(b.buf[:0], b.buf[drop:]...)
		b.truncated = true
	}
	return len(p), nil
}

// Snapshot returns the retained output, marked when truncated.
func (b *tailBuffer) Snapshot() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return TruncationMarker + string(b.buf), true
	}
	return string(b.buf), false
}
