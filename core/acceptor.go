package core

import (
	"log"

	"golang.org/x/sys/unix"

	"github.com/searchktools/shard-server/core/poller"
)

// Run is the acceptor loop. It watches the listening socket level-
// triggered on a dedicated poller, drains all pending connections on
// every wake-up and shards them across the workers. A write to the wake
// eventfd (see Stop) makes it return nil; a poller setup error or a wait
// error other than EINTR is returned instead.
//
// A dedicated acceptor avoids the thundering herd of workers sharing the
// listen fd and keeps workers pure reactors, at the cost of one extra
// registration hop per connection.
func (s *Server) Run() error {
	p, err := poller.New()
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.Add(s.listenFD, poller.ReadLevel); err != nil {
		return err
	}
	if err := p.Add(s.wakeFD, poller.ReadLevel); err != nil {
		return err
	}

	log.Printf("Listening on port %d.", s.boundPort)

	events := make([]unix.EpollEvent, 128)
	for {
		n, err := p.Wait(events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == s.wakeFD {
				var drain [8]byte
				unix.Read(s.wakeFD, drain[:])
				return nil
			}
			s.acceptPending()
		}
	}
}

// acceptPending drains the listen queue. Accept failures other than
// would-block are logged and skipped; they never terminate the acceptor.
func (s *Server) acceptPending() {
	for {
		fd, _, err := unix.Accept4(s.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			if err == unix.EINTR {
				continue
			}
			log.Printf("accept: %v", err)
			return
		}

		s.pushConnection(fd)
	}
}

// pushConnection routes an accepted fd to a worker chosen by the
// scheduler and registers it edge-triggered for read, hangup and error.
// Registration failure is fatal: a connection the core cannot track is a
// broken invariant, not a transient condition.
func (s *Server) pushConnection(fd int) {
	w := s.workers[s.scheduleConnection()]

	if err := w.poll.Add(fd, poller.ReadHangup); err != nil {
		log.Fatalf("epoll_ctl add fd %d: %v", fd, err)
	}

	s.stats.accepted.Add(1)
}
