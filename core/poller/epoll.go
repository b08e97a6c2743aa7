//go:build linux

package poller

import (
	"golang.org/x/sys/unix"
)

// Event sets for registration.
const (
	// ReadHangup watches for readable data, peer shutdown and socket errors
	// in edge-triggered mode. Consumers must drain until EAGAIN.
	ReadHangup = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLERR | unix.EPOLLET

	// ReadLevel watches for readable data in level-triggered mode. Used for
	// the listening socket, which is drained on every wake-up anyway.
	ReadLevel = unix.EPOLLIN
)

// Poller is an epoll-based I/O readiness notifier. Each worker owns one;
// the acceptor owns another for the listening socket.
type Poller struct {
	epfd int
}

// New creates a poller.
func New() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Poller{epfd: epfd}, nil
}

// Add registers fd with the given event mask.
func (p *Poller) Add(fd int, events uint32) error {
	ev := unix.EpollEvent{
		Events: events,
		Fd:     int32(fd),
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Remove deregisters fd.
func (p *Poller) Remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks until at least one registered fd is ready, msec elapses
// (msec >= 0), or the wait is interrupted. The caller owns the events
// slice so steady-state waits allocate nothing.
func (p *Poller) Wait(events []unix.EpollEvent, msec int) (int, error) {
	return unix.EpollWait(p.epfd, events, msec)
}

// Close closes the epoll descriptor. A worker blocked in Wait observes
// EBADF on its next wake and treats it as the shutdown signal.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}
