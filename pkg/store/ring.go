package store

// ring is a fixed-capacity append-only ring buffer.
type ring[T any] struct {
	buf   []T
	start int
	count int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

// push appends an item, evicting the oldest when full.
func (r *ring[T]) push(item T) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = item
		r.count++
		return
	}
	r.buf[r.start] = item
	r.start = (r.start + 1) % len(r.buf)
}

// items returns the contents oldest-first.
func (r *ring[T]) items() []T {
	out := make([]T, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}

// latest returns up to n newest items, newest-first.
func (r *ring[T]) latest(n int) []T {
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.start + r.count - 1 - i) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

func (r *ring[T]) len() int { return r.count }
