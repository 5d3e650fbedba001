package kernel

import "fmt"

// Panic is the value thrown on a kernel contract violation: an unblock of a
// running thread, a dispatch with interrupts unmasked, a corrupt thread
// record. These are programming errors, never recoverable at runtime.
type Panic struct {
	Reason string
	Stack  []byte
}

func (p *Panic) Error() string {
	return "kernel panic: " + p.Reason
}

// fatalf halts the kernel with a diagnostic. It logs one structured record
// and panics with a *Panic carrying the reason and the captured stack.
func (k *Kernel) fatalf(format string, args ...any) {
	reason := fmt.Sprintf(format, args...)
	k.log.Emerg().Str("reason", reason).Log("kernel panic")
	panic(&Panic{Reason: reason, Stack: captureStack()})
}
