// Package kernel is the EmberOS thread scheduler: thread lifecycle, the
// ready, sleep and destruction queues, tick-driven preemption and wakeup,
// and the context-switch protocol.
//
// The model is a single logical processor. A thread runs until it blocks,
// yields, sleeps or exits, or until the timer quota requests a yield at the
// next interrupt-return boundary. Shared state is guarded by masking
// interrupts, not by locks; the one exception is thread-id allocation,
// which uses a Mutex so it stays legal with interrupts enabled.
package kernel

import (
	"container/list"

	"ember/emberos/interrupt"
	"ember/emberos/kalloc"

	"github.com/joeycumines/logiface"
)

const (
	// TimeSlice is the number of timer ticks a thread may run before the
	// tick handler requests a preemptive yield.
	TimeSlice = 4

	// DefaultStackBlocks sizes the stack pool when Config.Pool is nil.
	DefaultStackBlocks = 16
)

// Config carries the collaborators a kernel is built from. Nil fields get
// working defaults; a nil Log stays silent.
type Config struct {
	// Intr models this CPU's interrupt mask state.
	Intr *interrupt.Controller
	// Pool supplies one execution-stack block per spawned thread.
	Pool *kalloc.Pool
	// Log receives scheduler telemetry.
	Log *logiface.Logger[logiface.Event]
	// ExitHook, when set, runs at the start of every Exit before the thread
	// turns dying. The process layer hangs its teardown here.
	ExitHook func(*Thread)
}

// Kernel is the scheduler instance. Construct it with New on the goroutine
// that is to become the bootstrap thread, then call Start once.
type Kernel struct {
	intr     *interrupt.Controller
	pool     *kalloc.Pool
	log      *logiface.Logger[logiface.Event]
	exitHook func(*Thread)

	current   *Thread
	bootstrap *Thread
	idle      *Thread

	ready    *list.List
	sleepers *list.List
	reap     *list.List
	all      *list.List

	sliceTicks  uint32
	idleTicks   uint64
	kernelTicks uint64
	userTicks   uint64

	tidMu  *Mutex
	nextID ID

	halted bool
}

// New builds a kernel and binds the calling goroutine as the bootstrap
// thread, named "main", already running with id 1. The interrupt controller
// must still be masked; Start unmasks it. The bootstrap thread uses the
// caller's own stack, so it takes no block from the pool and is never
// queued for destruction.
func New(cfg Config) *Kernel {
	k := &Kernel{
		intr:     cfg.Intr,
		pool:     cfg.Pool,
		log:      cfg.Log,
		exitHook: cfg.ExitHook,
		ready:    list.New(),
		sleepers: list.New(),
		reap:     list.New(),
		all:      list.New(),
		nextID:   1,
	}
	if k.intr == nil {
		k.intr = interrupt.New()
	}
	if k.pool == nil {
		k.pool = kalloc.NewPool(DefaultStackBlocks)
	}
	if k.intr.Level() != interrupt.Off {
		k.fatalf("kernel built with interrupts unmasked")
	}
	k.intr.SetYield(k.Yield)

	boot := newThread("main", PriDefault, nil)
	boot.status = Running
	k.current = boot
	k.bootstrap = boot
	boot.allElem = k.all.PushBack(boot)

	k.tidMu = NewMutex(k)
	boot.id = k.allocateID()
	return k
}

// Start launches the idle thread, unmasks interrupts, and waits for the
// idle readiness handshake. Must run on the bootstrap thread.
func (k *Kernel) Start() {
	if k.Current() != k.bootstrap {
		k.fatalf("start from thread %q, not the bootstrap thread", k.current.name)
	}
	started := NewSemaphore(k, 0)
	if _, err := k.Spawn("idle", PriMin, k.idleLoop, started); err != nil {
		k.fatalf("idle thread: %v", err)
	}
	k.intr.Enable()
	started.Down()
	k.log.Debug().Log("scheduler started")
}

// idleLoop is the idle thread body. It publishes itself, releases the boot
// handshake, then alternates between blocking and halting: whenever
// selected it lets one interrupt arrive and immediately offers the CPU
// back. The idle thread never joins the ready queue; selectNext returns it
// by pointer when the queue is empty.
func (k *Kernel) idleLoop(arg any) {
	started := arg.(*Semaphore)
	k.idle = k.Current()
	started.Up()
	for {
		k.intr.Disable()
		k.Block()
		k.intr.Halt()
	}
}

// Halt stops the scheduler: statistics are logged, interrupts stay masked,
// and every later kernel operation is a contract violation. Parked threads
// are not unwound; the process is expected to end.
func (k *Kernel) Halt() {
	k.intr.Disable()
	k.halted = true
	k.log.Info().
		Uint64("idle_ticks", k.idleTicks).
		Uint64("kernel_ticks", k.kernelTicks).
		Uint64("user_ticks", k.userTicks).
		Log("scheduler halted")
}

// Intr returns the kernel's interrupt controller.
func (k *Kernel) Intr() *interrupt.Controller { return k.intr }

// Stats is a snapshot of tick accounting.
type Stats struct {
	IdleTicks   uint64
	KernelTicks uint64
	UserTicks   uint64
	Threads     int
}

// Stats returns current tick accounting and the live thread count.
func (k *Kernel) Stats() Stats {
	old := k.intr.Disable()
	s := Stats{
		IdleTicks:   k.idleTicks,
		KernelTicks: k.kernelTicks,
		UserTicks:   k.userTicks,
		Threads:     k.all.Len(),
	}
	k.intr.SetLevel(old)
	return s
}

// ThreadInfo is one row of a thread-table snapshot.
type ThreadInfo struct {
	ID       ID
	Name     string
	Status   Status
	Priority int
}

// Threads returns a snapshot of all live threads in creation order.
func (k *Kernel) Threads() []ThreadInfo {
	old := k.intr.Disable()
	out := make([]ThreadInfo, 0, k.all.Len())
	for e := k.all.Front(); e != nil; e = e.Next() {
		t := e.Value.(*Thread)
		out = append(out, ThreadInfo{ID: t.id, Name: t.name, Status: t.status, Priority: t.priority})
	}
	k.intr.SetLevel(old)
	return out
}

// allocateID hands out the next thread id under the id mutex, so creation
// does not need a long masked section.
func (k *Kernel) allocateID() ID {
	k.tidMu.Lock()
	id := k.nextID
	k.nextID++
	k.tidMu.Unlock()
	return id
}
