package hal

import "fmt"

// Arena is a fixed-capacity pool of slots addressed by dense index. Free slots
// are kept on a LIFO free-list so the most recently released index is reused
// first.
type Arena[T any] struct {
	slots []arenaSlot[T]
	free  []uint32
}

type arenaSlot[T any] struct {
	used bool
	val  T
}

// NewArena creates an arena with capacity slots. Index 0 is handed out first.
func NewArena[T any](capacity int) *Arena[T] {
	if capacity < 0 {
		capacity = 0
	}
	a := &Arena[T]{
		slots: make([]arenaSlot[T], capacity),
		free:  make([]uint32, 0, capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		a.free = append(a.free, uint32(i))
	}
	return a
}

// Alloc takes a slot off the free-list. The slot holds the zero value of T.
func (a *Arena[T]) Alloc() (uint32, error) {
	n := len(a.free)
	if n == 0 {
		return 0, ErrNoResources
	}
	idx := a.free[n-1]
	a.free = a.free[:n-1]
	a.slots[idx].used = true
	return idx, nil
}

// Free returns a slot to the free-list. Freeing an unused slot is an error.
func (a *Arena[T]) Free(idx uint32) error {
	if int(idx) >= len(a.slots) {
		return fmt.Errorf("%w: %d", ErrInvalidID, idx)
	}
	s := &a.slots[idx]
	if !s.used {
		return fmt.Errorf("%w: %d", ErrNotAllocated, idx)
	}
	var zero T
	s.used = false
	s.val = zero
	a.free = append(a.free, idx)
	return nil
}

// Get returns a pointer to the value held by an allocated slot.
func (a *Arena[T]) Get(idx uint32) (*T, error) {
	if int(idx) >= len(a.slots) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidID, idx)
	}
	s := &a.slots[idx]
	if !s.used {
		return nil, fmt.Errorf("%w: %d", ErrNotAllocated, idx)
	}
	return &s.val, nil
}

// InUse returns the number of allocated slots.
func (a *Arena[T]) InUse() int {
	return len(a.slots) - len(a.free)
}

// Cap returns the arena capacity.
func (a *Arena[T]) Cap() int {
	return len(a.slots)
}
