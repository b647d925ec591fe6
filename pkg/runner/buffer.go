package runner

import (
	"strings"
	"sync"
)

// OutputBuffer is the append-only transcript of a command's merged output.
// It is safe for concurrent use.
type OutputBuffer struct {
	mu    sync.RWMutex
	lines []string
}

// Append adds a line
func (b *OutputBuffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
}

// Snapshot returns a copy of the lines captured so far
func (b *OutputBuffer) Snapshot() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.lines...)
}

// String joins the captured lines with newlines
func (b *OutputBuffer) String() string {
	return strings.Join(b.Snapshot(), "\n")
}
