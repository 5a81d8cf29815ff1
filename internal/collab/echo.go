package collab

// EchoGuard marks document mutations that originate from a remote participant
// so the resulting change notification is not broadcast back.
type EchoGuard struct {
	applying bool
}

// Apply runs fn in the applying-remote state. The guard returns to its prior
// state when fn returns, including on panic.
func (g *EchoGuard) Apply(fn func()) {
	previous := g.applying
	g.applying = true
	defer func() { g.applying = previous }()
	fn()
}

// Applying reports whether a remote mutation is in progress.
func (g *EchoGuard) Applying() bool {
	return g.applying
}
