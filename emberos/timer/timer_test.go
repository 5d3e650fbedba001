package timer

import (
	"strings"
	"testing"
	"time"

	"ember/emberos/interrupt"
	"ember/emberos/kalloc"
	"ember/emberos/kernel"
)

func newTestTimer(hz int) (*kernel.Kernel, *Timer) {
	k := kernel.New(kernel.Config{Intr: interrupt.New(), Pool: kalloc.NewPool(4)})
	return k, New(k, hz)
}

func TestNewRejectsFrequencyOutOfRange(t *testing.T) {
	for _, hz := range []int{MinHz - 1, MaxHz + 1, 0, -100} {
		func() {
			defer func() {
				r := recover()
				if r == nil {
					t.Fatalf("expected %d Hz to be rejected", hz)
				}
				if s, ok := r.(string); !ok || !strings.Contains(s, "Hz outside") {
					t.Fatalf("expected a frequency range panic, got %v", r)
				}
			}()
			newTestTimer(hz)
		}()
	}
}

func TestTicksCountDeliveredInterrupts(t *testing.T) {
	k, tm := newTestTimer(DefaultHz)
	if tm.Hz() != DefaultHz {
		t.Fatalf("expected %d Hz, got %d", DefaultHz, tm.Hz())
	}
	intr := k.Intr()
	intr.Enable()

	if tm.Ticks() != 0 {
		t.Fatalf("expected 0 ticks at boot, got %d", tm.Ticks())
	}
	for i := 0; i < 3; i++ {
		intr.Raise()
	}
	intr.Poll()
	if tm.Ticks() != 3 {
		t.Fatalf("expected 3 ticks, got %d", tm.Ticks())
	}
	if got := tm.Elapsed(1); got != 2 {
		t.Fatalf("expected 2 ticks elapsed since tick 1, got %d", got)
	}
}

func TestMaskedTicksAreNotLost(t *testing.T) {
	k, tm := newTestTimer(DefaultHz)
	intr := k.Intr()
	intr.Enable()

	old := intr.Disable()
	for i := 0; i < 5; i++ {
		intr.Raise()
	}
	if tm.Ticks() != 0 {
		t.Fatalf("expected no delivery while masked, got %d ticks", tm.Ticks())
	}
	intr.SetLevel(old)
	if tm.Ticks() != 5 {
		t.Fatalf("expected the masked backlog delivered on unmask, got %d", tm.Ticks())
	}
}

func TestSleepAlreadyElapsedReturnsImmediately(t *testing.T) {
	k, tm := newTestTimer(DefaultHz)
	k.Intr().Enable()

	tm.Sleep(0)
	tm.Sleep(-3)
	if tm.Ticks() != 0 {
		t.Fatalf("expected no ticks consumed, got %d", tm.Ticks())
	}
	if k.Current().Status() != kernel.Running {
		t.Fatal("expected the caller to keep running")
	}
}

func TestSleepWithInterruptsMaskedPanics(t *testing.T) {
	_, tm := newTestTimer(DefaultHz)
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a panic sleeping with interrupts masked")
		}
		if s, ok := r.(string); !ok || !strings.Contains(s, "interrupts masked") {
			t.Fatalf("expected the mask panic, got %v", r)
		}
	}()
	tm.Sleep(10)
}

// TestSleepLive boots the full stack with a real tick pump and checks that
// a sleeping thread is woken no earlier than its deadline.
func TestSleepLive(t *testing.T) {
	irq := interrupt.New()
	k := kernel.New(kernel.Config{Intr: irq, Pool: kalloc.NewPool(4)})
	tm := New(k, 250)
	k.Start()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tk := time.NewTicker(time.Millisecond)
		defer tk.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tk.C:
				irq.Raise()
			}
		}
	}()

	start := tm.Ticks()
	tm.Sleep(5)
	if got := tm.Elapsed(start); got < 5 {
		t.Fatalf("expected at least 5 ticks to pass, got %d", got)
	}

	if s := k.Stats(); s.IdleTicks == 0 {
		t.Fatalf("expected idle to accrue ticks while the sleeper waited, got %+v", s)
	}
	k.Halt()
}
