// Package set is a minimal generic set.
package set

import (
	"cmp"
	"slices"
)

// Set is an unordered set of comparable values. The zero value is ready to use.
type Set[T cmp.Ordered] struct {
	set map[T]struct{}
}

// Insert adds k to the set.
func (s *Set[T]) Insert(k T) {
	if s.set == nil {
		s.set = make(map[T]struct{})
	}
	s.set[k] = struct{}{}
}

// Contains reports whether k is in the set.
func (s *Set[T]) Contains(k T) bool {
	_, ok := s.set[k]
	return ok
}

// Len returns the number of elements.
func (s *Set[T]) Len() int {
	return len(s.set)
}

// Sorted returns the elements in ascending order.
func (s *Set[T]) Sorted() []T {
	out := make([]T, 0, len(s.set))
	for k := range s.set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
