// Package sortedset provides a generic collection kept sorted by a string
// key, with upsert semantics and no duplicates.
package sortedset

import (
	"slices"
	"strings"
)

// Collection holds values ordered by the key function. The zero value is
// not usable; construct with New.
type Collection[T any] struct {
	key   func(T) string
	items []T
}

// New creates an empty collection ordered by key.
func New[T any](key func(T) string) *Collection[T] {
	return &Collection[T]{key: key}
}

func (c *Collection[T]) search(key string) (int, bool) {
	return slices.BinarySearchFunc(c.items, key, func(item T, target string) int {
		return strings.Compare(c.key(item), target)
	})
}

// Upsert inserts the value in key order, replacing any existing value with
// the same key in place. It reports whether a new entry was inserted.
func (c *Collection[T]) Upsert(v T) bool {
	i, found := c.search(c.key(v))
	if found {
		c.items[i] = v
		return false
	}
	c.items = slices.Insert(c.items, i, v)
	return true
}

// Get returns the value for key, if present.
func (c *Collection[T]) Get(key string) (T, bool) {
	if i, found := c.search(key); found {
		return c.items[i], true
	}
	var zero T
	return zero, false
}

// Delete removes the value for key and reports whether it was present.
func (c *Collection[T]) Delete(key string) bool {
	i, found := c.search(key)
	if !found {
		return false
	}
	c.items = slices.Delete(c.items, i, i+1)
	return true
}

// Len returns the number of values.
func (c *Collection[T]) Len() int { return len(c.items) }

// Values returns the values in key order. The returned slice is the
// collection's backing storage; callers must not mutate it.
func (c *Collection[T]) Values() []T { return c.items }

// Front returns the value with the smallest key, if any.
func (c *Collection[T]) Front() (T, bool) {
	if len(c.items) == 0 {
		var zero T
		return zero, false
	}
	return c.items[0], true
}

// Back returns the value with the largest key, if any.
func (c *Collection[T]) Back() (T, bool) {
	if len(c.items) == 0 {
		var zero T
		return zero, false
	}
	return c.items[len(c.items)-1], true
}

// TrimFront removes values from the low end until at most max remain and
// returns the evicted values in key order.
func (c *Collection[T]) TrimFront(max int) []T {
	if len(c.items) <= max {
		return nil
	}
	n := len(c.items) - max
	evicted := append([]T(nil), c.items[:n]...)
	c.items = slices.Delete(c.items, 0, n)
	return evicted
}

// Clear removes all values.
func (c *Collection[T]) Clear() {
	c.items = nil
}
