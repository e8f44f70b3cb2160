// Package control implements the process-local control surface: the
// generation-activity signal and a connectionless datagram socket carrying
// small JSON commands from a co-located CLI.
package control

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Activity counts generations in flight. The counter is the UI-facing
// activity signal; an optional prometheus gauge mirrors it.
type Activity struct {
	active atomic.Int64
	gauge  prometheus.Gauge
}

// NewActivity builds the counter. gauge may be nil.
func NewActivity(gauge prometheus.Gauge) *Activity {
	return &Activity{gauge: gauge}
}

// Begin marks one generation started and returns the matching end mark.
// Calling the returned func more than once is safe.
func (a *Activity) Begin() func() {
	a.mirror(a.active.Add(1))
	var once sync.Once
	return func() {
		once.Do(func() {
			a.mirror(a.active.Add(-1))
		})
	}
}

// Active reports the number of generations currently in flight.
func (a *Activity) Active() int64 {
	return a.active.Load()
}

func (a *Activity) mirror(v int64) {
	if a.gauge != nil {
		a.gauge.Set(float64(v))
	}
}
