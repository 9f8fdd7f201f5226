//go:build windows

package orchestrator

// readKey waits for disarm. Console keystroke polling is not wired on
// Windows; the grace window runs to its timer.
func (k *KeyWatcher) readKey(_ chan<- struct{}, stop <-chan struct{}) {
	<-stop
}
