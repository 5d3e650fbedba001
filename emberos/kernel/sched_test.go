package kernel

import (
	"errors"
	"strings"
	"testing"

	"ember/emberos/interrupt"
	"ember/emberos/kalloc"
)

func newTestKernel(blocks int) *Kernel {
	return New(Config{Intr: interrupt.New(), Pool: kalloc.NewPool(blocks)})
}

// mustPanic runs fn and checks that it dies with a *Panic whose reason
// mentions want.
func mustPanic(t *testing.T, want string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected a kernel panic mentioning %q", want)
		}
		p, ok := r.(*Panic)
		if !ok {
			t.Fatalf("expected *Panic, got %T: %v", r, r)
		}
		if !strings.Contains(p.Reason, want) {
			t.Fatalf("expected panic mentioning %q, got %q", want, p.Reason)
		}
		if len(p.Stack) == 0 {
			t.Fatal("expected a captured stack in the panic")
		}
	}()
	fn()
}

// verifyQueues checks that every live thread sits where its status says it
// should: one running thread, ready threads on the ready queue, queued
// threads in exactly one place. The idle thread is exempt; it is selected
// by pointer and never queued.
func verifyQueues(t *testing.T, k *Kernel) {
	t.Helper()
	old := k.intr.Disable()
	defer k.intr.SetLevel(old)

	running := 0
	for e := k.all.Front(); e != nil; e = e.Next() {
		th := e.Value.(*Thread)
		if th == k.idle {
			continue
		}
		switch th.status {
		case Running:
			running++
			if th != k.current {
				t.Fatalf("thread %q running but not current", th.name)
			}
			if th.where != qNone {
				t.Fatalf("running thread %q on the %v queue", th.name, th.where)
			}
		case Ready:
			if th.where != qReady {
				t.Fatalf("ready thread %q on the %v queue", th.name, th.where)
			}
		case Blocked:
			if th.where == qReady || th.where == qReap {
				t.Fatalf("blocked thread %q on the %v queue", th.name, th.where)
			}
		case Dying:
			if th != k.bootstrap && th.where != qReap {
				t.Fatalf("dying thread %q not queued for destruction", th.name)
			}
		}
	}
	if running != 1 {
		t.Fatalf("expected exactly one running thread, found %d", running)
	}
}

func TestBootstrapThread(t *testing.T) {
	k := newTestKernel(2)
	cur := k.Current()
	if cur.ID() != 1 {
		t.Fatalf("expected bootstrap id 1, got %d", cur.ID())
	}
	if cur.Name() != "main" {
		t.Fatalf("expected bootstrap name %q, got %q", "main", cur.Name())
	}
	if cur.Status() != Running {
		t.Fatalf("expected bootstrap running, got %v", cur.Status())
	}
	if cur.Priority() != PriDefault {
		t.Fatalf("expected default priority %d, got %d", PriDefault, cur.Priority())
	}
	if got := len(k.Threads()); got != 1 {
		t.Fatalf("expected 1 live thread, got %d", got)
	}
	verifyQueues(t, k)
}

func TestSpawnMakesReadyWithoutPreempting(t *testing.T) {
	k := newTestKernel(2)
	ran := false
	id, err := k.Spawn("worker", PriDefault, func(any) { ran = true }, nil)
	if err != nil {
		t.Fatalf("expected spawn to succeed, got %v", err)
	}
	if id != 2 {
		t.Fatalf("expected id 2, got %d", id)
	}
	if ran {
		t.Fatal("expected the new thread not to run before a yield")
	}
	if k.Current() != k.bootstrap {
		t.Fatal("expected spawn to leave the caller running")
	}
	if k.ready.Len() != 1 {
		t.Fatalf("expected 1 ready thread, got %d", k.ready.Len())
	}
	verifyQueues(t, k)

	k.Yield()
	if !ran {
		t.Fatal("expected the new thread to run after a yield")
	}
}

func TestSpawnedThreadStartsWithInterruptsEnabled(t *testing.T) {
	k := newTestKernel(2)
	var lvl interrupt.Level
	if _, err := k.Spawn("probe", PriDefault, func(any) { lvl = k.Intr().Level() }, nil); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	k.Intr().Enable()
	k.Yield()
	if lvl != interrupt.On {
		t.Fatalf("expected entry with interrupts on, got %v", lvl)
	}
}

func TestSpawnPassesArgument(t *testing.T) {
	k := newTestKernel(2)
	var got any
	if _, err := k.Spawn("arg", PriDefault, func(arg any) { got = arg }, 42); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	k.Yield()
	if got != 42 {
		t.Fatalf("expected entry argument 42, got %v", got)
	}
}

func TestRoundRobinOrder(t *testing.T) {
	k := newTestKernel(4)
	var order []string
	body := func(name string) Func {
		return func(any) {
			order = append(order, name)
			k.Yield()
			order = append(order, name)
		}
	}
	for _, name := range []string{"x", "y", "z"} {
		if _, err := k.Spawn(name, PriDefault, body(name), nil); err != nil {
			t.Fatalf("spawn %s: %v", name, err)
		}
	}

	k.Yield()
	verifyQueues(t, k)
	k.Yield()

	want := []string{"x", "y", "z", "x", "y", "z"}
	if len(order) != len(want) {
		t.Fatalf("expected %d runs, got %d: %v", len(want), len(order), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected rotation %v, got %v", want, order)
		}
	}

	// One more dispatch reaps the last exited thread.
	k.Yield()
	if got := len(k.Threads()); got != 1 {
		t.Fatalf("expected only the bootstrap thread left, got %d", got)
	}
	if k.pool.Free() != k.pool.Cap() {
		t.Fatalf("expected all stack blocks back, %d of %d free", k.pool.Free(), k.pool.Cap())
	}
}

func TestYieldWithEmptyReadyQueueReturns(t *testing.T) {
	k := newTestKernel(2)
	k.Yield()
	if k.Current() != k.bootstrap {
		t.Fatal("expected the bootstrap thread to keep running")
	}
	verifyQueues(t, k)
}

func TestExitReclaimsStackOnLaterDispatch(t *testing.T) {
	k := newTestKernel(2)
	if _, err := k.Spawn("short", PriDefault, func(any) {}, nil); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	th := k.all.Back().Value.(*Thread)
	if k.pool.Free() != 1 {
		t.Fatalf("expected 1 free block while the thread lives, got %d", k.pool.Free())
	}

	k.Yield()
	// The thread has exited but its block is reclaimed only by the next
	// dispatch, which must run on some other stack.
	if k.reap.Len() != 1 {
		t.Fatalf("expected 1 thread queued for destruction, got %d", k.reap.Len())
	}
	verifyQueues(t, k)

	k.Yield()
	if k.reap.Len() != 0 {
		t.Fatalf("expected the destruction queue drained, got %d", k.reap.Len())
	}
	if k.pool.Free() != 2 {
		t.Fatalf("expected both blocks free after the reap, got %d", k.pool.Free())
	}
	if th.magic == threadMagic {
		t.Fatal("expected the reaped record's integrity tag cleared")
	}
	if th.stack != nil {
		t.Fatal("expected the reaped record's stack detached")
	}
	if got := len(k.Threads()); got != 1 {
		t.Fatalf("expected 1 live thread, got %d", got)
	}
}

func TestSpawnExhaustionHasNoSideEffects(t *testing.T) {
	k := newTestKernel(2)
	stop := false
	spinner := func(any) {
		for !stop {
			k.Yield()
		}
	}
	for _, name := range []string{"s1", "s2"} {
		if _, err := k.Spawn(name, PriDefault, spinner, nil); err != nil {
			t.Fatalf("spawn %s: %v", name, err)
		}
	}

	readyBefore := k.ready.Len()
	idBefore := k.nextID
	_, err := k.Spawn("s3", PriDefault, spinner, nil)
	if !errors.Is(err, kalloc.ErrExhausted) {
		t.Fatalf("expected kalloc.ErrExhausted, got %v", err)
	}
	if !strings.Contains(err.Error(), `spawn "s3"`) {
		t.Fatalf("expected the error to name the thread, got %q", err.Error())
	}
	if k.ready.Len() != readyBefore {
		t.Fatalf("expected the ready queue untouched, %d -> %d", readyBefore, k.ready.Len())
	}
	if k.nextID != idBefore {
		t.Fatalf("expected no id consumed, %d -> %d", idBefore, k.nextID)
	}
	if got := len(k.Threads()); got != 3 {
		t.Fatalf("expected 3 live threads, got %d", got)
	}
	verifyQueues(t, k)

	// Let the spinners exit; their blocks come back and spawning works again.
	stop = true
	for i := 0; i < 4 && len(k.Threads()) > 1; i++ {
		k.Yield()
	}
	if _, err := k.Spawn("s4", PriDefault, func(any) {}, nil); err != nil {
		t.Fatalf("expected spawn to succeed after the reap, got %v", err)
	}
}

func TestPreemptionAfterTimeslice(t *testing.T) {
	k := newTestKernel(2)
	var order []string
	if _, err := k.Spawn("w", PriDefault, func(any) { order = append(order, "w") }, nil); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	intr := k.Intr()
	intr.Register(func() { k.Tick() })
	intr.Enable()

	for i := 0; i < TimeSlice-1; i++ {
		intr.Raise()
	}
	intr.Poll()
	if len(order) != 0 {
		t.Fatalf("expected no switch before the quota, got %v", order)
	}
	if k.sliceTicks != TimeSlice-1 {
		t.Fatalf("expected %d slice ticks, got %d", TimeSlice-1, k.sliceTicks)
	}

	intr.Raise()
	intr.Poll()
	if len(order) != 1 || order[0] != "w" {
		t.Fatalf("expected the quota to force a switch to w, got %v", order)
	}
	if k.sliceTicks != 0 {
		t.Fatalf("expected the slice counter reset by dispatch, got %d", k.sliceTicks)
	}
	if intr.Level() != interrupt.On {
		t.Fatalf("expected interrupts back on after delivery, got %v", intr.Level())
	}
}

func TestBlockRequiresMaskedInterrupts(t *testing.T) {
	k := newTestKernel(2)
	k.Intr().Enable()
	mustPanic(t, "block with interrupts unmasked", func() { k.Block() })
}

func TestUnblockWrongStatusPanics(t *testing.T) {
	k := newTestKernel(2)
	stop := false
	if _, err := k.Spawn("w", PriDefault, func(any) {
		for !stop {
			k.Yield()
		}
	}, nil); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	th := k.all.Back().Value.(*Thread)
	if th.Status() != Ready {
		t.Fatalf("expected the thread ready, got %v", th.Status())
	}
	mustPanic(t, "unblock of thread", func() { k.Unblock(th) })
}

func TestUnblockNilPanics(t *testing.T) {
	k := newTestKernel(2)
	mustPanic(t, "corrupt thread record", func() { k.Unblock(nil) })
}

func TestSpawnValidation(t *testing.T) {
	k := newTestKernel(2)
	mustPanic(t, "nil entry", func() { k.Spawn("bad", PriDefault, nil, nil) })
	mustPanic(t, "outside", func() { k.Spawn("bad", PriMax+1, func(any) {}, nil) })
	mustPanic(t, "outside", func() { k.Spawn("bad", PriMin-1, func(any) {}, nil) })
}

func TestCurrentDetectsCorruptedRecord(t *testing.T) {
	k := newTestKernel(2)
	k.current.magic = 0
	mustPanic(t, "corrupted", func() { k.Current() })
}
