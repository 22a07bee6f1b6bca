package board

import "sort"

// Collection maps entity IDs to records while keeping insertion order.
// Updates to an existing ID replace the record in place. It is not safe for
// concurrent use; State guards its collections with its own lock.
type Collection[T any] struct {
	idOf  func(T) string
	order []string
	items map[string]T
}

// NewCollection creates an empty collection keyed by idOf.
func NewCollection[T any](idOf func(T) string) *Collection[T] {
	return &Collection[T]{idOf: idOf, items: make(map[string]T)}
}

// Upsert stores v, replacing any record with the same ID.
// Reports whether v was newly inserted.
func (c *Collection[T]) Upsert(v T) bool {
	id := c.idOf(v)
	if _, ok := c.items[id]; ok {
		c.items[id] = v
		return false
	}
	c.items[id] = v
	c.order = append(c.order, id)
	return true
}

// Get returns the record stored under id.
func (c *Collection[T]) Get(id string) (T, bool) {
	v, ok := c.items[id]
	return v, ok
}

// Len returns the number of records.
func (c *Collection[T]) Len() int {
	return len(c.order)
}

// Items returns a copy of all records in order.
func (c *Collection[T]) Items() []T {
	out := make([]T, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}

// Replace discards the current contents and stores items in order.
// Later duplicates of an ID win, keeping the first position.
func (c *Collection[T]) Replace(items []T) {
	c.order = c.order[:0]
	c.items = make(map[string]T, len(items))
	for _, v := range items {
		c.Upsert(v)
	}
}

// Remove deletes id and returns the record and its former position.
func (c *Collection[T]) Remove(id string) (T, int, bool) {
	v, ok := c.items[id]
	if !ok {
		var zero T
		return zero, -1, false
	}
	delete(c.items, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return v, i, true
		}
	}
	return v, -1, true
}

// InsertAt stores v at position i, clamped to the collection bounds.
// An existing record with the same ID is replaced in place instead.
func (c *Collection[T]) InsertAt(i int, v T) {
	id := c.idOf(v)
	if _, ok := c.items[id]; ok {
		c.items[id] = v
		return
	}
	if i < 0 {
		i = 0
	}
	if i > len(c.order) {
		i = len(c.order)
	}
	c.items[id] = v
	c.order = append(c.order, "")
	copy(c.order[i+1:], c.order[i:])
	c.order[i] = id
}

// Reorder sorts the stored order with less.
func (c *Collection[T]) Reorder(less func(a, b T) bool) {
	sort.SliceStable(c.order, func(i, j int) bool {
		return less(c.items[c.order[i]], c.items[c.order[j]])
	})
}

// Truncate keeps the first n records.
func (c *Collection[T]) Truncate(n int) {
	if n < 0 || n >= len(c.order) {
		return
	}
	for _, id := range c.order[n:] {
		delete(c.items, id)
	}
	c.order = c.order[:n]
}
