//go:build !tinygo

package hal

import "time"

// HostTime is the host-platform tick source: a wall-clock ticker that
// emits monotonically numbered ticks. It accumulates real elapsed time and
// catches up when the host scheduler runs it late, so the tick count stays
// honest under load. Emission is lossy when nobody drains the channel.
type HostTime struct {
	ch  chan uint64
	seq uint64

	last   time.Time
	acc    time.Duration
	period time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewHostTime starts a tick source with the given tick period. Stop it
// when done.
func NewHostTime(period time.Duration) *HostTime {
	if period <= 0 {
		period = time.Millisecond
	}
	t := &HostTime{
		ch:     make(chan uint64, 1024),
		period: period,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go t.run()
	return t
}

// Ticks returns the tick stream.
func (t *HostTime) Ticks() <-chan uint64 { return t.ch }

// Stop ends tick emission. It does not close the tick channel.
func (t *HostTime) Stop() {
	close(t.stop)
	<-t.done
}

func (t *HostTime) run() {
	defer close(t.done)
	tk := time.NewTicker(t.period)
	defer tk.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-tk.C:
			t.step()
		}
	}
}

func (t *HostTime) step() {
	now := time.Now()
	if t.last.IsZero() {
		t.last = now
		t.acc = 0
		t.emit(1)
		return
	}

	t.acc += now.Sub(t.last)
	t.last = now

	ticks := uint64(t.acc / t.period)
	if ticks == 0 {
		return
	}
	t.acc = t.acc % t.period
	t.emit(ticks)
}

func (t *HostTime) emit(n uint64) {
	for i := uint64(0); i < n; i++ {
		t.seq++
		select {
		case t.ch <- t.seq:
		default:
		}
	}
}
