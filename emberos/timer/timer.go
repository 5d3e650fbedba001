// Package timer owns the kernel timebase: the global tick counter, the
// timer interrupt handler, and tick-denominated sleeping. The hardware
// side of the clock is not modeled; whatever drives it just raises the
// timer interrupt once per tick.
package timer

import (
	"fmt"

	"ember/emberos/interrupt"
	"ember/emberos/kernel"
)

const (
	// DefaultHz is the default timer frequency in ticks per second.
	DefaultHz = 100

	// MinHz and MaxHz bound the usable frequency range. Below 19 Hz the
	// modeled timer hardware could not divide down to it; above 1000 Hz
	// ticks are too short to do useful work between them.
	MinHz = 19
	MaxHz = 1000
)

// Timer is the kernel timebase. Create one per kernel with New.
type Timer struct {
	k    *kernel.Kernel
	intr *interrupt.Controller
	hz   int

	// ticks counts timer interrupts since boot. Touched only with
	// interrupts masked.
	ticks uint64
}

// New builds the timebase and registers its interrupt handler with the
// kernel's controller.
func New(k *kernel.Kernel, hz int) *Timer {
	if hz < MinHz || hz > MaxHz {
		panic(fmt.Sprintf("timer: %d Hz outside [%d, %d]", hz, MinHz, MaxHz))
	}
	t := &Timer{k: k, intr: k.Intr(), hz: hz}
	t.intr.Register(t.Interrupt)
	return t
}

// Hz returns the timer frequency in ticks per second.
func (t *Timer) Hz() int { return t.hz }

// Interrupt is the timer interrupt handler: count the tick, let the
// scheduler account for it, and release due sleepers.
func (t *Timer) Interrupt() {
	t.ticks++
	t.k.Tick()
	t.k.Wakeup(t.ticks)
}

// Ticks returns the number of ticks since boot.
func (t *Timer) Ticks() uint64 {
	old := t.intr.Disable()
	n := t.ticks
	t.intr.SetLevel(old)
	return n
}

// Elapsed returns the number of ticks since then, which should be a value
// previously returned by Ticks.
func (t *Timer) Elapsed(then uint64) uint64 {
	return t.Ticks() - then
}

// Sleep suspends the calling thread for about n ticks. A deadline that has
// already passed, including any n <= 0, returns immediately without
// suspending.
func (t *Timer) Sleep(n int64) {
	start := t.Ticks()
	if t.intr.Level() != interrupt.On {
		panic("timer: sleep with interrupts masked")
	}
	if int64(t.Elapsed(start)) < n {
		t.k.Sleep(start + uint64(n))
	}
}
