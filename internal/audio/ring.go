package audio

import "fmt"

// Ring is a fixed-capacity byte ring buffer with explicit read and write
// cursors. Capacity never changes after construction, so sustained streaming
// cannot trigger reallocation.
type Ring struct {
	buf   []byte
	read  int // next byte to read
	write int // next byte to write
	size  int // bytes currently buffered
}

// NewRing creates a ring buffer with the given capacity in bytes.
func NewRing(capacity int) (*Ring, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring capacity must be positive, got %d", capacity)
	}

	return &Ring{buf: make([]byte, capacity)}, nil
}

// Cap returns the fixed capacity of the ring in bytes.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Len returns the number of buffered bytes.
func (r *Ring) Len() int {
	return r.size
}

// Free returns the number of bytes that can be written without overwriting
// unread data.
func (r *Ring) Free() int {
	return len(r.buf) - r.size
}

// Write copies as much of p as fits into the ring and returns the number of
// bytes written. It never overwrites unread data.
func (r *Ring) Write(p []byte) int {
	n := len(p)
	if free := r.Free(); n > free {
		n = free
	}
	if n == 0 {
		return 0
	}

	first := len(r.buf) - r.write
	if first > n {
		first = n
	}
	copy(r.buf[r.write:], p[:first])
	copy(r.buf, p[first:n])

	r.write = (r.write + n) % len(r.buf)
	r.size += n

	return n
}

// Peek copies len(dst) leading bytes into dst without consuming them.
func (r *Ring) Peek(dst []byte) error {
	if len(dst) > r.size {
		return fmt.Errorf("peek of %d bytes exceeds buffered %d", len(dst), r.size)
	}

	first := len(r.buf) - r.read
	if first > len(dst) {
		first = len(dst)
	}
	copy(dst, r.buf[r.read:r.read+first])
	copy(dst[first:], r.buf[:len(dst)-first])

	return nil
}

// Discard advances the read cursor by n bytes, dropping them.
func (r *Ring) Discard(n int) error {
	if n > r.size {
		return fmt.Errorf("discard of %d bytes exceeds buffered %d", n, r.size)
	}

	r.read = (r.read + n) % len(r.buf)
	r.size -= n

	return nil
}

// Reset empties the ring without releasing its backing array.
func (r *Ring) Reset() {
	r.read = 0
	r.write = 0
	r.size = 0
}
