//go:build unix

package orchestrator

import "golang.org/x/sys/unix"

// keyPollMillis bounds how long a disarm waits for the reader loop to
// notice the stop signal.
const keyPollMillis = 50

// readKey polls the terminal and forwards the first byte read. The
// loop exits within one poll interval of stop closing, so disarm
// never strands a blocked read that would swallow a keystroke typed
// after the terminal is restored.
func (k *KeyWatcher) readKey(keys chan<- struct{}, stop <-chan struct{}) {
	fds := []unix.PollFd{{Fd: int32(k.fd), Events: unix.POLLIN}}
	buf := make([]byte, 1)
	for {
		select {
		case <-stop:
			return
		default:
		}
		fds[0].Revents = 0
		n, err := unix.Poll(fds, keyPollMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if n == 0 || fds[0].Revents&unix.POLLIN == 0 {
			continue
		}
		if m, _ := unix.Read(k.fd, buf); m > 0 {
			select {
			case keys <- struct{}{}:
			default:
			}
			return
		}
	}
}
