// Package interrupt models the CPU interrupt state of a single logical
// processor: the mask level, the in-handler flag, and a one-shot request to
// yield when the handler returns.
//
// External goroutines (tick pumps, tests) never run kernel code. They call
// Raise, which latches a pending interrupt; the goroutine currently holding
// the CPU services pending interrupts at the next interruptible point: an
// unmask transition, an explicit Poll, or Halt.
package interrupt

import (
	"fmt"
	"sync/atomic"
)

// Level is the CPU interrupt mask state.
type Level uint8

const (
	// Off means interrupts are masked and delivery is deferred.
	Off Level = iota
	// On means interrupts are deliverable.
	On
)

func (l Level) String() string {
	switch l {
	case Off:
		return "off"
	case On:
		return "on"
	default:
		return fmt.Sprintf("level(%d)", uint8(l))
	}
}

// Controller is the interrupt state machine for one processor.
//
// All fields except pending and wake are touched only by the goroutine
// holding the CPU; pending and wake are the sole contact points for other
// goroutines.
type Controller struct {
	level        Level
	inHandler    bool
	yieldPending bool

	pending atomic.Uint64
	wake    chan struct{}

	timer func()
	yield func()
}

// New returns a controller with interrupts masked, the state a CPU boots in.
func New() *Controller {
	return &Controller{wake: make(chan struct{}, 1)}
}

// Level returns the current mask state.
func (c *Controller) Level() Level { return c.level }

// SetLevel sets the mask state and returns the previous one.
// Unmasking services any pending interrupts before returning.
func (c *Controller) SetLevel(l Level) Level {
	old := c.level
	c.level = l
	if l == On {
		c.deliver()
	}
	return old
}

// Disable masks interrupts and returns the previous level.
func (c *Controller) Disable() Level { return c.SetLevel(Off) }

// Enable unmasks interrupts and returns the previous level.
func (c *Controller) Enable() Level { return c.SetLevel(On) }

// InHandler reports whether the CPU is inside interrupt handling.
func (c *Controller) InHandler() bool { return c.inHandler }

// YieldOnReturn requests that a yield run once when the current handler
// returns. Only valid inside a handler.
func (c *Controller) YieldOnReturn() {
	if !c.inHandler {
		panic("interrupt: yield-on-return requested outside a handler")
	}
	c.yieldPending = true
}

// Register installs the timer interrupt handler. The handler runs with
// interrupts masked and must not unmask them.
func (c *Controller) Register(h func()) {
	if h == nil {
		panic("interrupt: nil handler")
	}
	c.timer = h
}

// SetYield installs the function invoked at the interrupt-return boundary
// when YieldOnReturn was requested. Bound once by the scheduler at boot.
func (c *Controller) SetYield(fn func()) { c.yield = fn }

// Raise latches one timer interrupt. Safe from any goroutine; never blocks.
func (c *Controller) Raise() {
	c.pending.Add(1)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of raised, not yet serviced interrupts.
func (c *Controller) Pending() uint64 { return c.pending.Load() }

// Poll services pending interrupts if the mask allows. It models an
// instruction boundary and must be called by the goroutine holding the CPU.
func (c *Controller) Poll() {
	if c.level == On {
		c.deliver()
	}
}

// Halt unmasks interrupts and waits until at least one has been raised and
// serviced. It models the sti;hlt idiom of an idle loop and returns with
// interrupts unmasked.
func (c *Controller) Halt() {
	c.level = On
	for c.pending.Load() == 0 {
		<-c.wake
	}
	c.deliver()
}

// deliver drains latched interrupts one at a time: each runs the handler
// masked, then the return boundary restores the unmasked level, running the
// deferred yield first when one was requested. Pending interrupts raised
// while masked are all serviced here, so no tick is lost.
func (c *Controller) deliver() {
	for {
		n := c.pending.Swap(0)
		if n == 0 {
			return
		}
		for ; n > 0; n-- {
			c.level = Off
			c.inHandler = true
			if c.timer != nil {
				c.timer()
			}
			c.inHandler = false
			y := c.yieldPending
			c.yieldPending = false
			if y && c.yield != nil {
				c.yield()
			}
			c.level = On
		}
	}
}
