package collab

import "time"

// Autosaver is a debounce timer owned by a session loop. Every Touch restarts
// the quiet period; when it elapses without another Touch, fire runs on the loop.
type Autosaver struct {
	delay      time.Duration
	post       func(func())
	fire       func()
	timer      *time.Timer
	generation uint64
	pending    bool
}

// NewAutosaver builds a debouncer. post must schedule its argument onto the
// goroutine that owns the Autosaver.
func NewAutosaver(delay time.Duration, post func(func()), fire func()) *Autosaver {
	return &Autosaver{delay: delay, post: post, fire: fire}
}

// Touch (re)starts the quiet period.
func (a *Autosaver) Touch() {
	a.stop()
	a.pending = true
	generation := a.generation
	a.timer = time.AfterFunc(a.delay, func() {
		a.post(func() {
			// A Touch or Cancel after this timer fired supersedes it.
			if a.generation != generation || !a.pending {
				return
			}
			a.pending = false
			a.timer = nil
			a.fire()
		})
	})
}

// Cancel drops the pending save, if any.
func (a *Autosaver) Cancel() {
	a.stop()
	a.pending = false
}

// Pending reports whether a save is scheduled.
func (a *Autosaver) Pending() bool {
	return a.pending
}

func (a *Autosaver) stop() {
	a.generation++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
