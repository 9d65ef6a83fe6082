// Package orderedset provides a set that remembers insertion order.
package orderedset

// Set holds unique values in the order they were first added.
// The zero value is ready to use.
type Set[T comparable] struct {
	index map[T]struct{}
	items []T
}

// New returns a set pre-populated with values, duplicates dropped.
func New[T comparable](values ...T) *Set[T] {
	s := &Set[T]{}
	for _, v := range values {
		s.Add(v)
	}
	return s
}

// Add inserts v and reports whether it was not already present.
// Re-adding an existing value does not change its position.
func (s *Set[T]) Add(v T) bool {
	if s.index == nil {
		s.index = make(map[T]struct{})
	}
	if _, ok := s.index[v]; ok {
		return false
	}
	s.index[v] = struct{}{}
	s.items = append(s.items, v)
	return true
}

func (s *Set[T]) Len() int {
	return len(s.items)
}

// Values returns a copy of the members in insertion order.
func (s *Set[T]) Values() []T {
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}

// Each calls fn for every member in insertion order.
func (s *Set[T]) Each(fn func(T)) {
	for _, v := range s.items {
		fn(v)
	}
}
