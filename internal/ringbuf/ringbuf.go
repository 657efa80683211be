// Package ringbuf provides a fixed-capacity FIFO ring buffer that evicts its
// oldest element when full. It backs the bounded candle history window, the
// per-channel WebSocket replay buffers and the step latency samples.
//
// A Ring is not safe for concurrent use; callers that share one must lock.
package ringbuf

// Ring is a bounded FIFO. Index 0 is the oldest retained element.
type Ring[T any] struct {
	buf   []T
	start int // index of the oldest element
	n     int // number of retained elements

	// Eviction counter, for metrics.
	evicted uint64
}

// New creates a ring buffer holding at most capacity elements.
// Minimum capacity is 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v. When the buffer is full the oldest element is discarded
// and Push returns true.
func (r *Ring[T]) Push(v T) bool {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return false
	}
	// Full: overwrite the oldest slot and advance start.
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
	r.evicted++
	return true
}

// At returns the i-th retained element, 0 being the oldest.
// It panics if i is out of range, like a slice index.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.n {
		panic("ringbuf: index out of range")
	}
	return r.buf[(r.start+i)%len(r.buf)]
}

// Last returns the newest element.
func (r *Ring[T]) Last() (T, bool) {
	if r.n == 0 {
		var zero T
		return zero, false
	}
	return r.At(r.n - 1), true
}

// AppendTo appends the retained elements, oldest first, to dst.
func (r *Ring[T]) AppendTo(dst []T) []T {
	for i := 0; i < r.n; i++ {
		dst = append(dst, r.buf[(r.start+i)%len(r.buf)])
	}
	return dst
}

// Len returns the current number of retained elements.
func (r *Ring[T]) Len() int { return r.n }

// Cap returns the buffer capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Evicted returns the total number of elements discarded because the buffer was full.
func (r *Ring[T]) Evicted() uint64 { return r.evicted }

// Reset empties the buffer and clears the eviction counter.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.start = 0
	r.n = 0
	r.evicted = 0
}
