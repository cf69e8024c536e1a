// Package handles maps small integer indices handed to the peer onto live
// resources owned by the worker.
//
// Slots are allocated lowest-index-first and are never compacted; an index
// stays bound to its resource until Release.
package handles

import (
	"errors"
	"fmt"
)

// DefaultCapacity bounds live handles per worker. Hitting it means handles
// are leaking, not that the peer legitimately needs more.
const DefaultCapacity = 999999

var ErrTableFull = errors.New("handles: table full")

type slot[T any] struct {
	value    T
	occupied bool
}

// Table is a fixed-capacity slot array. It is not safe for concurrent use;
// the worker owns it from a single goroutine.
type Table[T any] struct {
	slots    []slot[T]
	capacity int
	live     int
}

func NewTable[T any](capacity int) *Table[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Table[T]{capacity: capacity}
}

// Allocate stores v in the first empty slot and returns its index.
func (t *Table[T]) Allocate(v T) (int, error) {
	for i := range t.slots {
		if !t.slots[i].occupied {
			t.slots[i] = slot[T]{value: v, occupied: true}
			t.live++
			return i, nil
		}
	}
	if len(t.slots) >= t.capacity {
		return -1, fmt.Errorf("%w: %d live handles", ErrTableFull, t.live)
	}
	t.slots = append(t.slots, slot[T]{value: v, occupied: true})
	t.live++
	return len(t.slots) - 1, nil
}

// Lookup returns the resource at index. Negative, out-of-range and empty
// slots all report false.
func (t *Table[T]) Lookup(index int64) (T, bool) {
	var zero T
	if index < 0 || index >= int64(len(t.slots)) {
		return zero, false
	}
	s := t.slots[index]
	if !s.occupied {
		return zero, false
	}
	return s.value, true
}

// Release empties the slot at index. Releasing an empty or out-of-range
// slot does nothing.
func (t *Table[T]) Release(index int64) {
	if index < 0 || index >= int64(len(t.slots)) || !t.slots[index].occupied {
		return
	}
	t.slots[index] = slot[T]{}
	t.live--
}

// Len is the number of live handles.
func (t *Table[T]) Len() int { return t.live }

func (t *Table[T]) Capacity() int { return t.capacity }

// Each calls fn for every live handle in index order.
func (t *Table[T]) Each(fn func(index int, v T)) {
	for i, s := range t.slots {
		if s.occupied {
			fn(i, s.value)
		}
	}
}
