package amm

import "go.uber.org/atomic"

// Guard is a non-reentrant lock owned by one pair. Acquire never blocks.
type Guard struct {
	locked atomic.Bool
}

// Acquire takes the guard and returns the function that releases it.
func (g *Guard) Acquire() (release func(), err error) {
	if !g.locked.CompareAndSwap(false, true) {
		return nil, ErrLocked
	}
	return func() { g.locked.Store(false) }, nil
}

// Locked reports whether the guard is held.
func (g *Guard) Locked() bool {
	return g.locked.Load()
}
