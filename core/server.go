package core

import (
	"encoding/binary"
	"log"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/searchktools/shard-server/config"
	"github.com/searchktools/shard-server/core/http"
	"github.com/searchktools/shard-server/core/router"
)

// minWorkers is the floor on the reactor count regardless of CPU count.
const minWorkers = 2

// HandlerFunc defines the handler function type.
type HandlerFunc func(ctx *http.Context)

// Server owns the listening socket, the worker reactors, the shared
// fd-indexed slot table and the URL map. One acceptor goroutine plus
// worker-count reactor goroutines, created at Init and joined at
// Shutdown; no resizing, no work stealing.
type Server struct {
	cfg *config.Config

	listenFD int
	wakeFD   int

	workers        []*worker
	slots          []Slot
	maxFDPerWorker int

	urlMap *router.Trie

	schedCounter atomic.Uint32
	stats        stats
	wg           sync.WaitGroup

	boundPort int
}

// NewServer creates a server instance. Init must be called before Run.
func NewServer(cfg *config.Config) *Server {
	return &Server{
		cfg:      cfg,
		listenFD: -1,
		wakeFD:   -1,
		urlMap:   router.NewTrie(),
	}
}

// Handle registers a handler under a URL prefix. Longest prefix wins.
func (s *Server) Handle(prefix string, h HandlerFunc) {
	s.urlMap.Add(prefix, func(ctx any) {
		h(ctx.(*http.Context))
	})
}

// Init brings the server to the ready-to-accept state: fd budget, slot
// table, listening socket and worker reactors. Any failure is fatal to
// the caller; nothing here is retried.
func (s *Server) Init() error {
	workerCount := runtime.NumCPU()
	if workerCount < minWorkers {
		workerCount = minWorkers
	}

	softLimit, err := raiseFDLimit()
	if err != nil {
		return err
	}

	s.slots = newSlotTable(softLimit)
	s.maxFDPerWorker = softLimit / workerCount
	log.Printf("Using %d workers, maximum %d sockets per worker.", workerCount, s.maxFDPerWorker)

	signal.Ignore(unix.SIGPIPE)
	os.Stdin.Close()

	if err := s.socketInit(workerCount); err != nil {
		return err
	}

	wakeFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return err
	}
	s.wakeFD = wakeFD

	return s.workerInit(workerCount)
}

// raiseFDLimit lifts the soft open-file limit to the hard limit (or by a
// factor of 8 when the hard limit is unbounded) and returns the resulting
// soft limit, which sizes the slot table.
func raiseFDLimit() (int, error) {
	var r unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &r); err != nil {
		return 0, err
	}

	if r.Max == unix.RLIM_INFINITY {
		r.Cur *= 8
	} else if r.Cur < r.Max {
		r.Cur = r.Max
	}

	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &r); err != nil {
		return 0, err
	}

	return int(r.Cur), nil
}

// socketInit creates, binds and listens on the TCP socket, leaving it
// non-blocking. Backlog is sized so a full complement of connections can
// queue while the acceptor catches up.
func (s *Server) socketInit(workerCount int) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return err
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return err
	}

	if s.cfg.EnableLinger {
		linger := unix.Linger{Onoff: 1, Linger: 1}
		if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &linger); err != nil {
			unix.Close(fd)
			return err
		}
	}

	addr := unix.SockaddrInet4{Port: s.cfg.Port}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return err
	}

	if err := unix.Listen(fd, workerCount*s.maxFDPerWorker); err != nil {
		unix.Close(fd)
		return err
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return err
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return err
	}
	if inet4, ok := bound.(*unix.SockaddrInet4); ok {
		s.boundPort = inet4.Port
	}

	s.listenFD = fd
	return nil
}

// workerInit spawns the reactors in reverse index order, each with its
// own poller, on a locked OS thread.
func (s *Server) workerInit(workerCount int) error {
	s.workers = make([]*worker, workerCount)

	for i := workerCount - 1; i >= 0; i-- {
		w, err := newWorker(i, s)
		if err != nil {
			return err
		}
		s.workers[i] = w
		s.wg.Add(1)
		go w.run()
	}

	return nil
}

// Port returns the port the listening socket is bound to. Differs from
// the configured port only when that was 0.
func (s *Server) Port() int {
	return s.boundPort
}

// Stop wakes the acceptor out of its wait; Run returns once the wake is
// observed. Safe to call from a signal-handling goroutine.
func (s *Server) Stop() {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	if _, err := unix.Write(s.wakeFD, one[:]); err != nil {
		log.Printf("stop: eventfd write: %v", err)
	}
}

// Shutdown tears the server down in dependency order: workers stop
// touching slots before slots are freed, and the listening socket goes
// last among the fds because workers never reference it.
func (s *Server) Shutdown() {
	// Wake every worker in one sweep before any join, so slow-to-exit
	// workers do not serialize faster ones. The pollers are closed only
	// after the join: closing an epoll fd under a blocked wait would not
	// interrupt it.
	for i := len(s.workers) - 1; i >= 0; i-- {
		s.workers[i].shutdown()
	}
	s.wg.Wait()
	for i := len(s.workers) - 1; i >= 0; i-- {
		s.workers[i].close()
	}
	s.workers = nil

	if err := unix.Shutdown(s.listenFD, unix.SHUT_RDWR); err != nil {
		log.Printf("shutdown: listening socket: %v", err)
	}
	unix.Close(s.listenFD)
	unix.Close(s.wakeFD)

	s.urlMap = nil

	for i := range s.slots {
		s.slots[i].free()
	}
	s.slots = nil

	snap := s.Stats()
	log.Printf("Served %d requests on %d connections (%d expired).",
		snap.Requests, snap.Accepted, snap.Expired)
}
