package kernel

import (
	"container/list"
	"fmt"

	"ember/emberos/kalloc"
)

// ID identifies a thread. IDs are assigned monotonically from 1 and never
// reused while the system runs.
type ID uint64

// Status is a thread's scheduling state. Exactly one thread is Running at
// any instant.
type Status uint8

const (
	Running Status = iota
	Ready
	Blocked
	Dying
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Ready:
		return "ready"
	case Blocked:
		return "blocked"
	case Dying:
		return "dying"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Thread priorities. Recorded on every thread but never consulted by the
// round-robin policy; the bounds are still enforced.
const (
	PriMin     = 0
	PriDefault = 31
	PriMax     = 63
)

// Func is a thread entry point. When it returns, the thread exits.
type Func func(arg any)

// AddressSpace is the opaque handle to a user address space, owned by the
// process layer. The scheduler activates it on a switch and never looks
// inside.
type AddressSpace interface {
	Activate()
}

// threadMagic is stamped into every thread record at creation and checked
// on every current-thread lookup. A mismatch means a stack overflow has
// clobbered the record.
const threadMagic uint32 = 0x5afe57ac

// queueTag names which queue, if any, holds a thread. A thread occupies at
// most one queue at a time.
type queueTag uint8

const (
	qNone queueTag = iota
	qReady
	qSleep
	qReap
	qWaiter
)

func (q queueTag) String() string {
	switch q {
	case qNone:
		return "none"
	case qReady:
		return "ready"
	case qSleep:
		return "sleep"
	case qReap:
		return "reap"
	case qWaiter:
		return "waiter"
	default:
		return fmt.Sprintf("queue(%d)", uint8(q))
	}
}

// Thread is the per-thread kernel record: identity, scheduling state, the
// saved execution context, and queue membership. It is owned by the
// scheduler for its whole life.
type Thread struct {
	id       ID
	name     string
	status   Status
	priority int

	ctx          savedContext
	wakeDeadline uint64

	where   queueTag
	elem    *list.Element
	allElem *list.Element

	space AddressSpace
	stack *kalloc.Block

	magic uint32
}

func newThread(name string, priority int, stack *kalloc.Block) *Thread {
	return &Thread{
		name:     name,
		status:   Blocked,
		priority: priority,
		ctx:      newContext(),
		stack:    stack,
		magic:    threadMagic,
	}
}

// ID returns the thread's identifier.
func (t *Thread) ID() ID { return t.id }

// Name returns the thread's display label.
func (t *Thread) Name() string { return t.name }

// Status returns the thread's scheduling state.
func (t *Thread) Status() Status { return t.status }

// Priority returns the thread's recorded priority.
func (t *Thread) Priority() int { return t.priority }
