package core

import (
	"sync/atomic"
	"time"
)

// TicksPerSecond is the resolution of Clock.
const TicksPerSecond = 1000

// Clock is the monotonic tick source used for every driver timeout.
type Clock interface {
	Ticks() uint32
}

// SystemClock counts milliseconds since it was created.
type SystemClock struct {
	start time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) Ticks() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

// StepClock advances by Step every time it is read. It lets timeouts
// expire deterministically without sleeping.
type StepClock struct {
	now  atomic.Uint32
	Step uint32
}

func (c *StepClock) Ticks() uint32 {
	return c.now.Add(c.Step)
}

// TicksFromDuration converts d to clock ticks, rounding up.
func TicksFromDuration(d time.Duration) uint32 {
	t := (d*TicksPerSecond + time.Second - 1) / time.Second
	return uint32(t)
}

// deadline tracks a timeout against a Clock. Tick arithmetic wraps.
type deadline struct {
	clock Clock
	start uint32
	limit uint32
}

func newDeadline(clock Clock, d time.Duration) deadline {
	return deadline{clock: clock, start: clock.Ticks(), limit: TicksFromDuration(d)}
}

func (d deadline) expired() bool {
	return d.clock.Ticks()-d.start >= d.limit
}

func (d *deadline) restart() {
	d.start = d.clock.Ticks()
}
