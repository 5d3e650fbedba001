package hal

// StepTime is a hand-driven tick source for tests and simulation. Each
// Step emits the next tick numbers synchronously; there is no background
// goroutine and nothing to stop.
type StepTime struct {
	ch  chan uint64
	seq uint64
}

// NewStepTime returns a stepper whose channel buffers up to n ticks.
func NewStepTime(n int) *StepTime {
	if n < 1 {
		n = 1
	}
	return &StepTime{ch: make(chan uint64, n)}
}

// Ticks returns the tick stream.
func (t *StepTime) Ticks() <-chan uint64 { return t.ch }

// Step emits n ticks. It blocks once the channel buffer is full, so the
// caller must drain what it asks for.
func (t *StepTime) Step(n int) {
	for i := 0; i < n; i++ {
		t.seq++
		t.ch <- t.seq
	}
}
