package sshpool

import "sync"

// defaultBufferSize is the maximum number of bytes retained in a session's
// output buffer. Older output is trimmed from the front; absolute offsets
// keep advancing so readers can detect what they missed.
const defaultBufferSize = 1024 * 1024

// OutputBuffer accumulates everything the remote shell writes on a session.
// Offsets are absolute over the lifetime of the buffer: End() only grows,
// even when old bytes are trimmed. Readers wait on Notify for new data.
type OutputBuffer struct {
	mu      sync.Mutex
	data    []byte
	start   int64 // absolute offset of data[0]
	maxSize int
	closed  bool
	notify  chan struct{}
}

// NewOutputBuffer creates a buffer that retains up to maxSize bytes.
// maxSize <= 0 uses the default.
func NewOutputBuffer(maxSize int) *OutputBuffer {
	if maxSize <= 0 {
		maxSize = defaultBufferSize
	}
	return &OutputBuffer{
		maxSize: maxSize,
		notify:  make(chan struct{}, 1),
	}
}

// Write appends p and wakes any reader waiting on Notify.
func (b *OutputBuffer) Write(p []byte) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.data = append(b.data, p...)
	if len(b.data) > b.maxSize {
		drop := len(b.data) - b.maxSize
		b.data = b.data[drop:]
		b.start += int64(drop)
	}
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// End returns the absolute offset one past the last byte written.
func (b *OutputBuffer) End() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.start + int64(len(b.data))
}

// Since returns a copy of all bytes at or after absolute offset off.
// Bytes already trimmed are silently skipped.
func (b *OutputBuffer) Since(off int64) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	rel := off - b.start
	if rel < 0 {
		rel = 0
	}
	if rel >= int64(len(b.data)) {
		return nil
	}
	out := make([]byte, int64(len(b.data))-rel)
	copy(out, b.data[rel:])
	return out
}

// Snapshot returns a copy of everything currently retained.
func (b *OutputBuffer) Snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Notify returns a channel that receives after new data is written or the
// buffer is closed. The channel has a single slot; a receive may coalesce
// several writes, so callers re-check Since after each wakeup.
func (b *OutputBuffer) Notify() <-chan struct{} {
	return b.notify
}

// Close marks the buffer closed and wakes waiting readers. Further writes
// are dropped.
func (b *OutputBuffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Closed reports whether Close has been called, which happens when the
// underlying channel reached EOF.
func (b *OutputBuffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
