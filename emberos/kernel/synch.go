package kernel

import "container/list"

// Semaphore is a counting semaphore whose waiters are parked threads,
// released oldest first. Down must not run in interrupt context; Up may,
// which is how interrupt handlers hand work to threads.
type Semaphore struct {
	k       *Kernel
	value   int
	waiters *list.List
}

// NewSemaphore returns a semaphore with the given initial count.
func NewSemaphore(k *Kernel, n int) *Semaphore {
	if n < 0 {
		k.fatalf("semaphore with negative count %d", n)
	}
	return &Semaphore{k: k, value: n, waiters: list.New()}
}

// Down decrements the count, blocking the calling thread until it is
// positive.
func (s *Semaphore) Down() {
	k := s.k
	if k.intr.InHandler() {
		k.fatalf("semaphore down from interrupt context")
	}
	old := k.intr.Disable()
	for s.value == 0 {
		t := k.Current()
		t.elem = s.waiters.PushBack(t)
		t.where = qWaiter
		k.Block()
	}
	s.value--
	k.intr.SetLevel(old)
}

// TryDown decrements the count without blocking; it reports whether it
// succeeded.
func (s *Semaphore) TryDown() bool {
	k := s.k
	old := k.intr.Disable()
	ok := s.value > 0
	if ok {
		s.value--
	}
	k.intr.SetLevel(old)
	return ok
}

// Up increments the count and readies the longest-waiting thread, if any.
func (s *Semaphore) Up() {
	k := s.k
	old := k.intr.Disable()
	if e := s.waiters.Front(); e != nil {
		t := e.Value.(*Thread)
		s.waiters.Remove(e)
		t.elem = nil
		t.where = qNone
		k.Unblock(t)
	}
	s.value++
	k.intr.SetLevel(old)
}

// Mutex is a binary semaphore with an owner: only the holder may unlock,
// and re-acquiring is fatal. It exists for critical sections that must stay
// legal with interrupts enabled, like thread-id allocation.
type Mutex struct {
	sem    *Semaphore
	holder *Thread
}

// NewMutex returns an unlocked mutex.
func NewMutex(k *Kernel) *Mutex {
	return &Mutex{sem: NewSemaphore(k, 1)}
}

// Lock acquires the mutex, blocking until it is free.
func (m *Mutex) Lock() {
	k := m.sem.k
	if k.intr.InHandler() {
		k.fatalf("mutex lock from interrupt context")
	}
	if m.Held() {
		k.fatalf("recursive lock by thread %d %q", k.current.id, k.current.name)
	}
	m.sem.Down()
	m.holder = k.Current()
}

// TryLock acquires the mutex without blocking; it reports whether it
// succeeded.
func (m *Mutex) TryLock() bool {
	k := m.sem.k
	if m.Held() {
		k.fatalf("recursive try-lock by thread %d %q", k.current.id, k.current.name)
	}
	if !m.sem.TryDown() {
		return false
	}
	m.holder = k.Current()
	return true
}

// Unlock releases the mutex. Only the holder may call it.
func (m *Mutex) Unlock() {
	k := m.sem.k
	if !m.Held() {
		k.fatalf("unlock of a mutex the calling thread does not hold")
	}
	m.holder = nil
	m.sem.Up()
}

// Held reports whether the calling thread holds the mutex.
func (m *Mutex) Held() bool {
	return m.holder != nil && m.holder == m.sem.k.Current()
}

// Cond is a condition variable tied to an external Mutex. Each waiter
// parks on its own one-shot semaphore, queued oldest first.
type Cond struct {
	k       *Kernel
	waiters *list.List
}

// NewCond returns a condition variable.
func NewCond(k *Kernel) *Cond {
	return &Cond{k: k, waiters: list.New()}
}

// Wait atomically releases mu and parks the calling thread until Signal,
// then reacquires mu before returning.
func (c *Cond) Wait(mu *Mutex) {
	k := c.k
	if k.intr.InHandler() {
		k.fatalf("condition wait from interrupt context")
	}
	if !mu.Held() {
		k.fatalf("condition wait without holding the mutex")
	}
	w := NewSemaphore(k, 0)
	c.waiters.PushBack(w)
	mu.Unlock()
	w.Down()
	mu.Lock()
}

// Signal releases the oldest waiter, if any. The caller must hold mu.
func (c *Cond) Signal(mu *Mutex) {
	k := c.k
	if k.intr.InHandler() {
		k.fatalf("condition signal from interrupt context")
	}
	if !mu.Held() {
		k.fatalf("condition signal without holding the mutex")
	}
	if e := c.waiters.Front(); e != nil {
		c.waiters.Remove(e)
		e.Value.(*Semaphore).Up()
	}
}

// Broadcast releases every waiter. The caller must hold mu.
func (c *Cond) Broadcast(mu *Mutex) {
	for c.waiters.Front() != nil {
		c.Signal(mu)
	}
}
