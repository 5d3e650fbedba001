package kernel

import (
	"fmt"

	"ember/emberos/interrupt"
)

// Current returns the running thread. It validates the integrity tag and
// the running status; a mismatch means a stack overflow has clobbered the
// thread record, and the kernel halts.
func (k *Kernel) Current() *Thread {
	t := k.current
	if t == nil {
		k.fatalf("current thread queried before boot")
	}
	if t.magic != threadMagic {
		k.fatalf("thread record for %q corrupted", t.name)
	}
	if t.status != Running {
		k.fatalf("current thread %d %q is %v, not running", t.id, t.name, t.status)
	}
	return t
}

// Spawn creates a thread that runs fn(arg) and makes it ready. The new
// thread's first dispatch lands in a trampoline that unmasks interrupts,
// calls fn, and exits the thread when fn returns. Spawn is legal with
// interrupts enabled; when no stack block is free it fails with
// kalloc.ErrExhausted wrapped and changes nothing.
func (k *Kernel) Spawn(name string, priority int, fn Func, arg any) (ID, error) {
	if k.halted {
		k.fatalf("spawn %q on a halted kernel", name)
	}
	if fn == nil {
		k.fatalf("spawn %q with nil entry", name)
	}
	if priority < PriMin || priority > PriMax {
		k.fatalf("spawn %q with priority %d outside [%d, %d]", name, priority, PriMin, PriMax)
	}

	old := k.intr.Disable()
	stack, err := k.pool.Acquire()
	k.intr.SetLevel(old)
	if err != nil {
		return 0, fmt.Errorf("spawn %q: %w", name, err)
	}

	t := newThread(name, priority, stack)
	t.id = k.allocateID()
	go k.trampoline(t, fn, arg)

	old = k.intr.Disable()
	t.allElem = k.all.PushBack(t)
	k.intr.SetLevel(old)

	k.Unblock(t)
	k.log.Debug().
		Uint64("tid", uint64(t.id)).
		Str("name", name).
		Int("slot", stack.Index()).
		Log("thread created")
	return t.id, nil
}

// trampoline is every spawned thread's outermost frame. The first dispatch
// resumes it here with interrupts masked; it unmasks them, runs the entry,
// and a returning entry exits the thread.
func (k *Kernel) trampoline(t *Thread, fn Func, arg any) {
	t.ctx.wait()
	k.intr.Enable()
	fn(arg)
	k.Exit()
}

// Block transitions the calling thread to blocked and dispatches away. The
// caller must have masked interrupts and arranged for somebody to find and
// Unblock the thread later; Block itself enqueues nothing.
func (k *Kernel) Block() {
	if k.intr.InHandler() {
		k.fatalf("block from interrupt context")
	}
	if k.intr.Level() != interrupt.Off {
		k.fatalf("block with interrupts unmasked")
	}
	k.dispatch(Blocked)
}

// Unblock moves t to the ready queue. Callable from any context, including
// interrupt handlers. It never switches immediately: the caller may hold
// invariants it has to finish first.
func (k *Kernel) Unblock(t *Thread) {
	if t == nil || t.magic != threadMagic {
		k.fatalf("unblock of a corrupt thread record")
	}
	old := k.intr.Disable()
	if t.status != Blocked {
		k.fatalf("unblock of thread %d %q in state %v", t.id, t.name, t.status)
	}
	if t.where != qNone {
		k.fatalf("unblock of thread %d %q still on the %v queue", t.id, t.name, t.where)
	}
	k.pushReady(t)
	t.status = Ready
	k.intr.SetLevel(old)
}

// Yield re-queues the calling thread at the ready tail and dispatches. The
// idle thread gives up the CPU without queueing itself.
func (k *Kernel) Yield() {
	if k.intr.InHandler() {
		k.fatalf("yield from interrupt context")
	}
	old := k.intr.Disable()
	t := k.Current()
	if t != k.idle {
		k.pushReady(t)
	}
	k.dispatch(Ready)
	k.intr.SetLevel(old)
}

// Exit terminates the calling thread: teardown hook, dying, dispatch. The
// stack block is reclaimed by a later dispatch running on another thread,
// never here. Exit does not return.
func (k *Kernel) Exit() {
	if k.intr.InHandler() {
		k.fatalf("exit from interrupt context")
	}
	t := k.Current()
	if k.exitHook != nil {
		k.exitHook(t)
	}
	k.log.Debug().Uint64("tid", uint64(t.id)).Str("name", t.name).Log("thread exit")
	k.intr.Disable()
	k.dispatch(Dying)
	k.fatalf("dispatch returned to a dying thread")
}

// Sleep blocks the calling thread until the tick counter reaches wake. The
// sleeper is kept in deadline order; ties keep arrival order. The idle
// thread never sleeps. The prior interrupt level is restored once the
// thread has been woken.
func (k *Kernel) Sleep(wake uint64) {
	if k.intr.InHandler() {
		k.fatalf("sleep from interrupt context")
	}
	old := k.intr.Disable()
	t := k.Current()
	if t != k.idle {
		t.wakeDeadline = wake
		k.insertSleeper(t)
		k.Block()
	}
	k.intr.SetLevel(old)
}

// Wakeup releases every sleeper whose deadline is at or before now,
// front to back. The queue is sorted, so it stops at the first future
// deadline. Runs from the tick handler with interrupts masked.
func (k *Kernel) Wakeup(now uint64) {
	if k.intr.Level() != interrupt.Off {
		k.fatalf("wakeup with interrupts unmasked")
	}
	for e := k.sleepers.Front(); e != nil; e = k.sleepers.Front() {
		t := e.Value.(*Thread)
		if t.wakeDeadline > now {
			return
		}
		k.sleepers.Remove(e)
		t.elem = nil
		t.where = qNone
		k.Unblock(t)
	}
}

// Tick is the per-interrupt accounting hook: bump the category statistic
// and the timeslice counter, and request a preemptive yield at the
// interrupt-return boundary once the quota is used up.
func (k *Kernel) Tick() {
	t := k.Current()
	switch {
	case t == k.idle:
		k.idleTicks++
	case t.space != nil:
		k.userTicks++
	default:
		k.kernelTicks++
	}
	k.sliceTicks++
	if k.sliceTicks >= TimeSlice {
		k.intr.YieldOnReturn()
	}
}

// BindSpace attaches an address-space handle to the calling thread. The
// handle stays opaque: dispatch activates it, nothing else touches it.
func (k *Kernel) BindSpace(s AddressSpace) {
	old := k.intr.Disable()
	k.Current().space = s
	k.intr.SetLevel(old)
}

// Priority returns the calling thread's priority.
func (k *Kernel) Priority() int {
	return k.Current().priority
}

// SetPriority records a new priority for the calling thread. Recorded
// only: the round-robin policy never consults it.
func (k *Kernel) SetPriority(p int) {
	if p < PriMin || p > PriMax {
		k.fatalf("set priority %d outside [%d, %d]", p, PriMin, PriMax)
	}
	k.Current().priority = p
}

// Nice, SetNice, LoadAvg and RecentCPU are placeholders for a
// niceness-driven policy that is not implemented; they return fixed
// values.

func (k *Kernel) Nice() int { return 0 }

func (k *Kernel) SetNice(int) {}

func (k *Kernel) LoadAvg() int { return 0 }

func (k *Kernel) RecentCPU() int { return 0 }

// pushReady appends t to the ready queue tail.
func (k *Kernel) pushReady(t *Thread) {
	if t.where != qNone {
		k.fatalf("thread %d %q already on the %v queue", t.id, t.name, t.where)
	}
	t.elem = k.ready.PushBack(t)
	t.where = qReady
}

// insertSleeper places t before the first entry with a strictly later
// deadline, keeping the queue sorted and equal deadlines in arrival order.
func (k *Kernel) insertSleeper(t *Thread) {
	for e := k.sleepers.Front(); e != nil; e = e.Next() {
		if e.Value.(*Thread).wakeDeadline > t.wakeDeadline {
			t.elem = k.sleepers.InsertBefore(t, e)
			t.where = qSleep
			return
		}
	}
	t.elem = k.sleepers.PushBack(t)
	t.where = qSleep
}

// selectNext pops the ready queue front, or falls back to the idle thread.
// Pure FIFO round robin; priority is never consulted.
func (k *Kernel) selectNext() *Thread {
	e := k.ready.Front()
	if e == nil {
		return k.idle
	}
	k.ready.Remove(e)
	t := e.Value.(*Thread)
	t.elem = nil
	t.where = qNone
	return t
}

// dispatch is the single path every suspension takes, voluntary or
// preempted: reap dead threads, record the caller's new status, pick a
// successor, switch. Interrupts stay masked across the switch; each
// resumed code path restores its own level.
func (k *Kernel) dispatch(status Status) {
	if k.intr.Level() != interrupt.Off {
		k.fatalf("dispatch with interrupts unmasked")
	}
	if k.halted {
		k.fatalf("dispatch on a halted kernel")
	}
	prev := k.Current()
	k.drainReap()
	prev.status = status

	next := k.selectNext()
	next.status = Running
	k.current = next
	k.sliceTicks = 0
	if next.space != nil {
		next.space.Activate()
	}
	if prev == next {
		return
	}

	k.log.Trace().
		Uint64("from", uint64(prev.id)).
		Uint64("to", uint64(next.id)).
		Log("switch")

	if prev.status == Dying {
		// The dying goroutine ends inside the switch. The bootstrap
		// thread's stack was never pool-allocated, so it is not reaped.
		if prev != k.bootstrap {
			prev.elem = k.reap.PushBack(prev)
			prev.where = qReap
		}
		exitTo(&next.ctx)
	}
	switchContext(&prev.ctx, &next.ctx)
}

// drainReap frees every thread queued for destruction. It runs at dispatch
// time on a live thread, so a reaped stack is never the one still in use.
func (k *Kernel) drainReap() {
	for e := k.reap.Front(); e != nil; e = k.reap.Front() {
		t := e.Value.(*Thread)
		k.reap.Remove(e)
		t.elem = nil
		t.where = qNone
		if t.allElem != nil {
			k.all.Remove(t.allElem)
			t.allElem = nil
		}
		t.magic = 0
		if t.stack != nil {
			k.pool.Release(t.stack)
			t.stack = nil
		}
	}
}
