package camera

import "sync/atomic"

// Interaction tracks whether a user is currently looking at the stream.
// It combines an explicit flag set by the UI with the number of connected
// MJPEG viewers.
type Interaction struct {
	explicit atomic.Bool
	viewers  atomic.Int32
}

// Set records the UI's explicit interaction flag.
func (i *Interaction) Set(active bool) {
	i.explicit.Store(active)
}

// Acquire registers a viewer and returns its release func.
func (i *Interaction) Acquire() (release func()) {
	i.viewers.Add(1)
	var done atomic.Bool
	return func() {
		if done.CompareAndSwap(false, true) {
			i.viewers.Add(-1)
		}
	}
}

// Viewers returns the number of connected viewers.
func (i *Interaction) Viewers() int {
	return int(i.viewers.Load())
}

// Interacting reports whether any interaction is in progress.
func (i *Interaction) Interacting() bool {
	return i.explicit.Load() || i.viewers.Load() > 0
}
