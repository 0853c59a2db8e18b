package clock

import "sync/atomic"

// AtomicClock is a monotonically advancing counter shared by concurrent
// writers, used for generation ids and sequence allocation.
type AtomicClock struct {
	atomic.Int64
}

func NewAtomic(init int64) *AtomicClock {
	var ac AtomicClock
	ac.Set(init)
	return &ac
}

func (ac *AtomicClock) Val() int64 {
	return ac.Load()
}

func (ac *AtomicClock) Next() int64 {
	return ac.Add(1)
}

func (ac *AtomicClock) Set(t int64) {
	ac.Store(t)
}

// Observe advances the clock to v if v is greater than the current value.
// Safe for concurrent use; the clock never moves backwards.
func (ac *AtomicClock) Observe(v int64) {
	for {
		cur := ac.Load()
		if v <= cur || ac.CompareAndSwap(cur, v) {
			return
		}
	}
}
