package handler

type slabEntry[T any] struct {
	value T
	next  int // -1 if occupied
}

// slab is a free list of handlers. Indices handed out by Put stay valid until
// popped, so removal never shifts other handlers.
type slab[T any] struct {
	entries []slabEntry[T]
	free    int
}

func newSlab[T any](cap int) slab[T] {
	return slab[T]{entries: make([]slabEntry[T], 0, cap)}
}

func (s *slab[T]) Put(v T) int {
	if s.free == len(s.entries) {
		index := len(s.entries)
		s.entries = append(s.entries, slabEntry[T]{v, -1})
		s.free++
		return index
	}

	i := s.free
	s.free = s.entries[i].next
	s.entries[i] = slabEntry[T]{v, -1}

	return i
}

func (s *slab[T]) Get(i int) T {
	return s.entries[i].value
}

func (s *slab[T]) Pop(i int) T {
	var zero T
	popped := s.entries[i].value
	s.entries[i] = slabEntry[T]{zero, s.free}
	s.free = i
	return popped
}

// All calls fn with every occupied entry until fn returns false.
func (s *slab[T]) All(fn func(T) bool) {
	for _, entry := range s.entries {
		if entry.next != -1 {
			continue
		}
		if !fn(entry.value) {
			return
		}
	}
}
