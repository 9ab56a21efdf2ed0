// Package fsstate holds the process-wide filesystem state that every
// request into shadowfs consults: the absolute path of the backing
// directory tree. It is resolved once, at mount bootstrap, and never
// mutated afterward, so it needs no synchronization.
package fsstate

// State is the read-only, process-wide filesystem state.
type State struct {
	// BackingRoot is the absolute path of the directory tree that holds
	// the encrypted backing store.
	BackingRoot string
}

// New returns a State rooted at backingRoot, which must already be an
// absolute, cleaned path.
func New(backingRoot string) *State {
	return &State{BackingRoot: backingRoot}
}
