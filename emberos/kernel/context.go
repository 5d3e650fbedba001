package kernel

import "runtime"

// savedContext is a thread's suspended execution state. It is opaque by
// construction: owned by its thread and touched only by switchContext,
// exitTo and the trampoline. The host backend parks each thread's goroutine
// on a one-slot resume gate; handing the gate a token transfers the CPU.
//
// The gate transfer doubles as the memory barrier between consecutive
// running threads, so kernel state needs no other synchronization.
type savedContext struct {
	resume chan struct{}
}

func newContext() savedContext {
	return savedContext{resume: make(chan struct{}, 1)}
}

// wait parks the calling goroutine until the thread is dispatched.
func (c *savedContext) wait() {
	<-c.resume
}

// switchContext suspends the calling thread and resumes to. It returns when
// a later dispatch switches back to from.
func switchContext(from, to *savedContext) {
	to.resume <- struct{}{}
	<-from.resume
}

// exitTo resumes to and terminates the calling goroutine without returning.
// Dispatch uses it for dying threads: the goroutine must end here, but the
// thread record stays queued until a later dispatch reaps it.
func exitTo(to *savedContext) {
	to.resume <- struct{}{}
	runtime.Goexit()
}
