package orchestrator

import (
	"os"
	"sync"

	"golang.org/x/term"
)

// KeyWatcher delivers single keystrokes during a kill-grace window.
// The terminal enters raw mode only while a window is armed and is
// restored before Disarm returns, so Ctrl-C keeps generating SIGINT
// for the interrupt handler at every other moment of the run.
type KeyWatcher struct {
	fd int

	mu    sync.Mutex
	armed bool
}

// NewKeyWatcher returns a watcher over stdin, or nil when stdin is
// not a terminal. A nil watcher arms to a nil channel, which never
// fires.
func NewKeyWatcher() *KeyWatcher {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	return &KeyWatcher{fd: fd}
}

// Arm switches the terminal to raw mode and delivers the next
// keystroke on the returned channel. The disarm function stops the
// reader and restores the terminal; callers must invoke it when the
// grace window ends. Workers share one terminal, so a second Arm
// while a window is already armed gets a channel that never fires.
func (k *KeyWatcher) Arm() (<-chan struct{}, func()) {
	noop := func() {}
	if k == nil {
		return nil, noop
	}

	k.mu.Lock()
	if k.armed {
		k.mu.Unlock()
		return nil, noop
	}
	k.armed = true
	k.mu.Unlock()

	state, err := term.MakeRaw(k.fd)
	if err != nil {
		k.disarmed()
		return nil, noop
	}

	keys := make(chan struct{}, 1)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		k.readKey(keys, stop)
	}()

	var once sync.Once
	disarm := func() {
		once.Do(func() {
			close(stop)
			<-done
			_ = term.Restore(k.fd, state)
			k.disarmed()
		})
	}
	return keys, disarm
}

func (k *KeyWatcher) disarmed() {
	k.mu.Lock()
	k.armed = false
	k.mu.Unlock()
}
