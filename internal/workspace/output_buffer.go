package workspace

import (
	"fmt"
	"sync"
)

// DefaultOutputLimit bounds the test output kept per run.
const DefaultOutputLimit = 64 * 1024

// OutputBuffer keeps the last size bytes written to it. Test runners
// stream into it so a chatty or looping suite cannot exhaust memory.
type OutputBuffer struct {
	mu      sync.Mutex
	buf     []byte
	size    int
	head    int
	full    bool
	dropped int64
}

// NewOutputBuffer returns a buffer holding at most size bytes.
func NewOutputBuffer(size int) *OutputBuffer {
	if size <= 0 {
		size = DefaultOutputLimit
	}
	return &OutputBuffer{buf: make([]byte, size), size: size}
}

// Write implements io.Writer. The oldest bytes are overwritten once the
// buffer is full.
func (b *OutputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range p {
		if b.full {
			b.dropped++
		}
		b.buf[b.head] = c
		b.head = (b.head + 1) % b.size
		if b.head == 0 {
			b.full = true
		}
	}
	return len(p), nil
}

// Len returns the number of buffered bytes.
func (b *OutputBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return b.size
	}
	return b.head
}

// Dropped returns how many bytes were overwritten.
func (b *OutputBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// String returns the buffered bytes in write order, prefixed with a marker
// when earlier output was discarded.
func (b *OutputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		return string(b.buf[:b.head])
	}
	out := string(b.buf[b.head:]) + string(b.buf[:b.head])
	if b.dropped > 0 {
		out = fmt.Sprintf("... (%d bytes truncated)\n", b.dropped) + out
	}
	return out
}
