//go:build linux

package core

import (
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/searchktools/shard-server/config"
	"github.com/searchktools/shard-server/core/http"
)

// newLoopServer builds a server around a small slot table, bypassing the
// rlimit and listen-socket init so worker paths can be driven directly.
func newLoopServer(t *testing.T, keepAliveTimeout int) *Server {
	t.Helper()

	cfg := config.Default()
	cfg.KeepAliveTimeout = keepAliveTimeout

	s := NewServer(cfg)
	s.slots = newSlotTable(512)
	s.maxFDPerWorker = 64
	s.Handle("/", func(ctx *http.Context) {
		ctx.String(200, "hello")
	})
	return s
}

// connPair returns a connected stream pair: the server side non-blocking,
// as an accepted socket would be. The server side is closed by the worker
// paths under test; the caller closes the client side.
func connPair(t *testing.T) (srv, cli int) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("set nonblock: %v", err)
	}
	return fds[0], fds[1]
}

func sendRequest(t *testing.T, fd int, request string) {
	t.Helper()
	if _, err := unix.Write(fd, []byte(request)); err != nil {
		t.Fatalf("write request: %v", err)
	}
}

func recvResponse(t *testing.T, fd int) string {
	t.Helper()
	buf := make([]byte, 64*1024)
	n, err := unix.Read(fd, buf)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return string(buf[:n])
}

func readableEvent(fd int) unix.EpollEvent {
	return unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
}

func TestWorker_SingleRequestClose(t *testing.T) {
	s := newLoopServer(t, 5)
	w, err := newWorker(0, s)
	if err != nil {
		t.Fatalf("newWorker: %v", err)
	}
	defer w.close()

	srv, cli := connPair(t)
	defer unix.Close(cli)

	sendRequest(t, cli, "GET / HTTP/1.0\r\n\r\n")
	ev := readableEvent(srv)
	w.handleEvent(&ev)

	resp := recvResponse(t, cli)
	if !strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n") || !strings.HasSuffix(resp, "hello") {
		t.Errorf("Unexpected response %q", resp)
	}

	// HTTP/1.0 without keep-alive: the fd is closed in the same dispatch.
	buf := make([]byte, 1)
	if n, _ := unix.Read(cli, buf); n != 0 {
		t.Error("Expected EOF after non-keep-alive response")
	}

	slot := &s.slots[srv]
	if slot.alive {
		t.Error("Slot still alive after close disposition")
	}
	if w.ring.population != 0 {
		t.Errorf("Expected empty death ring, population %d", w.ring.population)
	}
	if got := s.stats.closed.Load(); got != 1 {
		t.Errorf("Expected 1 closed connection, got %d", got)
	}
}

func TestWorker_KeepAliveThenClose(t *testing.T) {
	s := newLoopServer(t, 5)
	w, err := newWorker(0, s)
	if err != nil {
		t.Fatalf("newWorker: %v", err)
	}
	defer w.close()

	srv, cli := connPair(t)
	defer unix.Close(cli)
	slot := &s.slots[srv]

	sendRequest(t, cli, "GET / HTTP/1.1\r\nHost: t\r\n\r\n")
	ev := readableEvent(srv)
	w.handleEvent(&ev)
	recvResponse(t, cli)

	if !slot.alive {
		t.Fatal("Expected slot alive after keep-alive request")
	}
	if w.ring.population != 1 {
		t.Fatalf("Expected 1 ring entry, got %d", w.ring.population)
	}
	if slot.timeToDie != w.deathTime+5 {
		t.Errorf("Expected deadline %d, got %d", w.deathTime+5, slot.timeToDie)
	}

	// A second request on an armed connection moves the deadline without
	// re-appending the fd.
	sendRequest(t, cli, "GET / HTTP/1.1\r\nHost: t\r\n\r\n")
	w.handleEvent(&ev)
	recvResponse(t, cli)
	if w.ring.population != 1 {
		t.Fatalf("Deadline refresh duplicated the ring entry: population %d", w.ring.population)
	}

	sendRequest(t, cli, "GET / HTTP/1.1\r\nConnection: close\r\n\r\n")
	w.handleEvent(&ev)
	recvResponse(t, cli)

	if slot.alive {
		t.Error("Expected slot dead after Connection: close")
	}
	// The ring keeps the stale entry until its deadline passes.
	if w.ring.population != 1 {
		t.Fatalf("Expected stale ring entry, population %d", w.ring.population)
	}

	for i := 0; i < 6; i++ {
		w.expireConnections()
	}
	if w.ring.population != 0 {
		t.Errorf("Stale entry not drained, population %d", w.ring.population)
	}
	if got := s.stats.expired.Load(); got != 0 {
		t.Errorf("Stale entry counted as expiry: %d", got)
	}
}

func TestWorker_IdleExpiry(t *testing.T) {
	s := newLoopServer(t, 5)
	w, err := newWorker(0, s)
	if err != nil {
		t.Fatalf("newWorker: %v", err)
	}
	defer w.close()

	srv, cli := connPair(t)
	defer unix.Close(cli)
	slot := &s.slots[srv]

	sendRequest(t, cli, "GET / HTTP/1.1\r\nHost: t\r\n\r\n")
	ev := readableEvent(srv)
	w.handleEvent(&ev)
	recvResponse(t, cli)

	// Ticks 1..4: deadline still in the future.
	for i := 0; i < 4; i++ {
		w.expireConnections()
	}
	if !slot.alive || w.ring.population != 1 {
		t.Fatal("Connection expired before its deadline")
	}

	// Tick 5: the deadline passes and the fd is closed.
	w.expireConnections()
	if slot.alive {
		t.Error("Expected slot dead after idle timeout")
	}
	if w.ring.population != 0 {
		t.Errorf("Expected entry dequeued, population %d", w.ring.population)
	}
	if got := s.stats.expired.Load(); got != 1 {
		t.Errorf("Expected 1 expiry, got %d", got)
	}

	buf := make([]byte, 1)
	if n, _ := unix.Read(cli, buf); n != 0 {
		t.Error("Expected EOF after idle timeout close")
	}
}

func TestWorker_PeerHangup(t *testing.T) {
	s := newLoopServer(t, 5)
	w, err := newWorker(0, s)
	if err != nil {
		t.Fatalf("newWorker: %v", err)
	}
	defer w.close()

	srv, cli := connPair(t)
	slot := &s.slots[srv]

	sendRequest(t, cli, "GET / HTTP/1.1\r\nHost: t\r\n\r\n")
	ev := readableEvent(srv)
	w.handleEvent(&ev)
	recvResponse(t, cli)
	unix.Close(cli)

	hup := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLRDHUP, Fd: int32(srv)}
	w.handleEvent(&hup)

	if slot.alive {
		t.Error("Expected slot dead after peer hangup")
	}
	if got := s.stats.closed.Load(); got != 1 {
		t.Errorf("Expected 1 closed connection, got %d", got)
	}

	// The stale ring entry is skipped with no side effect.
	for i := 0; i < 6; i++ {
		w.expireConnections()
	}
	if w.ring.population != 0 {
		t.Errorf("Stale entry not drained, population %d", w.ring.population)
	}
	if got := s.stats.closed.Load(); got != 1 {
		t.Errorf("Stale entry closed twice: %d", got)
	}
}

func TestWorker_ShutdownWakesWait(t *testing.T) {
	s := newLoopServer(t, 5)
	w, err := newWorker(0, s)
	if err != nil {
		t.Fatalf("newWorker: %v", err)
	}

	s.wg.Add(1)
	done := make(chan struct{})
	go func() {
		w.run()
		close(done)
	}()

	w.shutdown()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Worker did not exit after shutdown wake")
	}
	w.close()
}
