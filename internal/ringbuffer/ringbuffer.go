package ringbuffer

import "sync"

// RingBuffer keeps the most recent bytes written to it, overwriting the
// oldest data when full. It is used to retain the tail of a subprocess's
// diagnostic output. Safe for concurrent use.
type RingBuffer struct {
	mu       sync.Mutex
	buf      []byte
	writePos int
	capacity int
	written  int // total bytes ever written (for tracking fill level)
}

// New creates a ring buffer holding at most capacity bytes.
func New(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{
		buf:      make([]byte, capacity),
		capacity: capacity,
	}
}

// Write appends data to the buffer. It never fails, which makes the buffer
// usable as an exec.Cmd Stderr.
func (rb *RingBuffer) Write(data []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(data)
	if len(data) > rb.capacity {
		data = data[len(data)-rb.capacity:]
		rb.written += n - len(data)
	}
	for len(data) > 0 {
		c := copy(rb.buf[rb.writePos:], data)
		data = data[c:]
		rb.writePos = (rb.writePos + c) % rb.capacity
		rb.written += c
	}
	return n, nil
}

// Snapshot returns a copy of the last n bytes written.
// If less data has been written than requested, only the available data is returned.
func (rb *RingBuffer) Snapshot(n int) []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	requested := n
	if requested > rb.capacity {
		requested = rb.capacity
	}

	available := rb.written
	if available > rb.capacity {
		available = rb.capacity
	}
	if requested > available {
		requested = available
	}

	if requested <= 0 {
		return nil
	}

	out := make([]byte, requested)
	start := (rb.writePos - requested + rb.capacity) % rb.capacity

	if start+requested <= rb.capacity {
		copy(out, rb.buf[start:start+requested])
	} else {
		first := rb.capacity - start
		copy(out[:first], rb.buf[start:])
		copy(out[first:], rb.buf[:requested-first])
	}

	return out
}

// String returns everything currently retained.
func (rb *RingBuffer) String() string {
	return string(rb.Snapshot(rb.capacity))
}

// Len returns the number of bytes currently stored.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.written > rb.capacity {
		return rb.capacity
	}
	return rb.written
}
