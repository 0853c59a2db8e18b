package metrics

import (
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"
)

// Collector captures counters and gauges emitted by the log.
type Collector interface {
	IncCounter(name string, delta int64)
	SetGauge(name string, value int64)
}

// Nop discards everything.
type Nop struct{}

func (Nop) IncCounter(string, int64) {}
func (Nop) SetGauge(string, int64)   {}

// InMemory is a concurrent in-process Collector backed by lock-free maps,
// cheap enough to sit on the append path.
type InMemory struct {
	counters *skipmap.StringMap[*atomic.Int64]
	gauges   *skipmap.StringMap[*atomic.Int64]
}

func NewInMemory() *InMemory {
	return &InMemory{
		counters: skipmap.NewString[*atomic.Int64](),
		gauges:   skipmap.NewString[*atomic.Int64](),
	}
}

func (m *InMemory) IncCounter(name string, delta int64) {
	c, _ := m.counters.LoadOrStoreLazy(name, func() *atomic.Int64 { return new(atomic.Int64) })
	c.Add(delta)
}

func (m *InMemory) SetGauge(name string, value int64) {
	g, _ := m.gauges.LoadOrStoreLazy(name, func() *atomic.Int64 { return new(atomic.Int64) })
	g.Store(value)
}

// Snapshot returns a point-in-time copy of all counters and gauges.
func (m *InMemory) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	m.counters.Range(func(name string, v *atomic.Int64) bool {
		out[name] = v.Load()
		return true
	})
	m.gauges.Range(func(name string, v *atomic.Int64) bool {
		out[name] = v.Load()
		return true
	})
	return out
}
