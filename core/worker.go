package core

import (
	"encoding/binary"
	"log"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/searchktools/shard-server/core/poller"
)

// tickMillis is the wait granularity while keep-alive connections are
// pending expiry: one tick of the worker's death clock is one second.
const tickMillis = 1000

// worker is a per-shard reactor. It owns one poller, one death ring and a
// monotone death clock, and touches only slots whose fds it was handed by
// the acceptor. All state below is confined to the worker's goroutine, so
// the alive check-then-set on dispatch cannot race.
type worker struct {
	idx    int
	server *Server
	poll   *poller.Poller
	ring   *deathRing
	events []unix.EpollEvent

	// wakeFD is the worker's shutdown eventfd. Closing an epoll fd does
	// not interrupt a blocked epoll_wait, so cancellation is a write to
	// this descriptor instead.
	wakeFD int

	// deathTime advances by one on every wait timeout.
	deathTime uint32
}

func newWorker(idx int, s *Server) (*worker, error) {
	p, err := poller.New()
	if err != nil {
		return nil, err
	}

	wakeFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := p.Add(wakeFD, poller.ReadLevel); err != nil {
		p.Close()
		unix.Close(wakeFD)
		return nil, err
	}

	return &worker{
		idx:    idx,
		server: s,
		poll:   p,
		ring:   newDeathRing(s.maxFDPerWorker),
		events: make([]unix.EpollEvent, s.maxFDPerWorker),
		wakeFD: wakeFD,
	}, nil
}

// shutdown asks the worker to exit its next wait. Safe to call from any
// goroutine.
func (w *worker) shutdown() {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	if _, err := unix.Write(w.wakeFD, one[:]); err != nil {
		log.Printf("worker %d: shutdown eventfd write: %v", w.idx, err)
	}
}

// close releases the worker's descriptors. Only valid after run returned.
func (w *worker) close() {
	w.poll.Close()
	unix.Close(w.wakeFD)
}

// run drains readiness events and ages out idle keep-alive connections
// until the lifecycle layer signals the shutdown eventfd.
func (w *worker) run() {
	defer w.server.wg.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if w.server.cfg.ThreadAffinity {
		var set unix.CPUSet
		set.Zero()
		set.Set(w.idx)
		if err := unix.SchedSetaffinity(0, &set); err != nil {
			log.Printf("worker %d: sched_setaffinity: %v", w.idx, err)
		}
	}

	for {
		timeout := -1
		if w.ring.population > 0 {
			timeout = tickMillis
		}

		n, err := w.poll.Wait(w.events, timeout)
		if err != nil {
			if err == unix.EINTR {
				log.Printf("worker %d: epoll_wait interrupted", w.idx)
				continue
			}
			if err == unix.EBADF || err == unix.EINVAL {
				// Poller closed by shutdown.
				return
			}
			log.Printf("worker %d: epoll_wait: %v", w.idx, err)
			continue
		}

		if n == 0 {
			w.expireConnections()
			continue
		}

		for i := 0; i < n; i++ {
			if int(w.events[i].Fd) == w.wakeFD {
				return
			}
			w.handleEvent(&w.events[i])
		}
	}
}

// expireConnections advances the death clock one tick and closes every
// connection at the head of the ring whose deadline has passed. The scan
// is O(expired): it stops at the first entry still in the future.
func (w *worker) expireConnections() {
	w.deathTime++

	for w.ring.population > 0 {
		fd := w.ring.peek()
		slot := &w.server.slots[fd]

		if slot.timeToDie > w.deathTime {
			break
		}

		w.ring.pop()

		// Stale entries (connection already closed by hangup or a
		// non-keep-alive response) are dequeued with no side effect.
		if slot.alive {
			slot.alive = false
			unix.Close(fd)
			w.server.stats.expired.Add(1)
			w.server.stats.closed.Add(1)
		}
	}
}

// handleEvent dispatches one readiness event.
func (w *worker) handleEvent(ev *unix.EpollEvent) {
	fd := int(ev.Fd)
	slot := &w.server.slots[fd]

	if ev.Events&(unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		if err := w.poll.Remove(fd); err != nil {
			log.Printf("worker %d: epoll_ctl del fd %d: %v", w.idx, fd, err)
		}
		slot.alive = false
		unix.Close(fd)
		w.server.stats.closed.Add(1)
		return
	}

	if !slot.alive {
		// New or recycled fd: zero the request scratch, keep the
		// owned buffers.
		slot.reset(fd)
	}

	// Even when the request could not be handled, the keep-alive
	// disposition still decides the connection's fate.
	w.server.processRequest(slot)

	w.finishRequest(slot)
}

// finishRequest applies the slot's keep-alive disposition after request
// processing: re-arm with a fresh deadline, or close.
func (w *worker) finishRequest(slot *Slot) {
	if slot.keepAlive {
		slot.timeToDie = w.deathTime + uint32(w.server.cfg.KeepAliveTimeout)

		// Already-ringed connections only get their deadline moved;
		// re-appending would duplicate the fd and corrupt the
		// population count.
		if !slot.alive {
			w.ring.push(slot.fd)
			slot.alive = true
		}
		return
	}

	// The ring entry, if any, stays behind; the expiry scan skips it
	// once its deadline passes because alive is false by then.
	unix.Close(slot.fd)
	slot.alive = false
	w.server.stats.closed.Add(1)
}
