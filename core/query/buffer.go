package query

// ring is a bounded record buffer. Under the append policy the oldest records
// are dropped once the capacity is reached; under replace the buffer holds
// only the latest record.
type ring struct {
	capacity int
	items    []any
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring{capacity: capacity}
}

func (r *ring) Append(v any) {
	r.items = append(r.items, v)
	if len(r.items) > r.capacity {
		r.items = r.items[len(r.items)-r.capacity:]
	}
}

func (r *ring) Replace(v any) {
	r.items = r.items[:0]
	r.items = append(r.items, v)
}

func (r *ring) Reset() {
	r.items = nil
}

func (r *ring) Len() int { return len(r.items) }

// Snapshot returns a copy of the buffered records in arrival order.
func (r *ring) Snapshot() []any {
	out := make([]any, len(r.items))
	copy(out, r.items)
	return out
}
