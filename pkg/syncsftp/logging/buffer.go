package logging

import "sync"

// DefaultBufferSize is how many entries the process keeps for the log pane.
const DefaultBufferSize = 200

// Buffer is a fixed-size ring of the most recent log entries.
type Buffer struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

// NewBuffer returns a ring holding at most size entries.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Buffer{entries: make([]Entry, size)}
}

// Add stores e, overwriting the oldest entry once the ring is full.
func (b *Buffer) Add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.next] = e
	b.next = (b.next + 1) % len(b.entries)
	if b.next == 0 {
		b.full = true
	}
}

// Len returns the number of stored entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.len()
}

func (b *Buffer) len() int {
	if b.full {
		return len(b.entries)
	}
	return b.next
}

// Last returns up to n of the newest entries in chronological order.
// The slice is a copy.
func (b *Buffer) Last(n int) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := b.len()
	if n <= 0 || n > count {
		n = count
	}
	out := make([]Entry, n)
	start := b.next - n
	if start < 0 {
		start += len(b.entries)
	}
	for i := 0; i < n; i++ {
		out[i] = b.entries[(start+i)%len(b.entries)]
	}
	return out
}
