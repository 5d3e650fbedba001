// Package hal is the only contact point between the OS and the host
// platform. EmberOS consumes exactly one signal from the outside world:
// "one tick elapsed".
package hal

// Time provides a base tick stream.
//
// The tick duration is chosen by the platform backend; the kernel timebase
// counts whatever this emits.
type Time interface {
	Ticks() <-chan uint64
}
