package core

import (
	"log"

	"golang.org/x/sys/unix"

	"github.com/searchktools/shard-server/core/http"
)

// Granularity of socket reads while draining.
const readChunkSize = 4096

// processRequest services all requests readable on the slot's socket. The
// fd is edge-triggered, so the socket is drained until EAGAIN before
// parsing: data left in the kernel buffer would never wake the worker
// again. Pipelined requests in the same batch are served back to back.
//
// The keep-alive disposition is always left on the slot; the worker
// consults it afterwards and never treats a processing failure as fatal.
// It must not mutate fd, alive or timeToDie, nor free the buffers.
func (s *Server) processRequest(slot *Slot) {
	if !s.drainSocket(slot) {
		slot.keepAlive = false
		return
	}

	for {
		slot.req.Reset()
		consumed, err := http.ParseRequestInto(&slot.req, slot.in.Bytes())
		if err == http.ErrIncompleteRequest {
			// Wait for the rest; the idle timeout caps how long a
			// half-sent request can hold the slot.
			slot.keepAlive = true
			return
		}
		if err != nil {
			slot.ctx.Reset(slot.fd, &slot.req, slot.response)
			slot.ctx.Error(http.StatusBadRequest, "Bad Request")
			slot.keepAlive = false
			return
		}

		s.serveRequest(slot)
		s.stats.requests.Add(1)

		slot.keepAlive = slot.req.KeepAlive()
		slot.in.Discard(consumed)

		if !slot.keepAlive || slot.in.Len() == 0 {
			return
		}
	}
}

// drainSocket reads until the socket would block. Returns false when the
// peer is gone (EOF or a hard error) and the connection must close.
func (s *Server) drainSocket(slot *Slot) bool {
	for {
		chunk := slot.in.WritableChunk(readChunkSize)
		n, err := unix.Read(slot.fd, chunk)
		if err != nil {
			if err == unix.EAGAIN {
				return true
			}
			if err == unix.EINTR {
				continue
			}
			return false
		}
		if n == 0 {
			return false
		}
		slot.in.Extend(n)
	}
}

// serveRequest routes one parsed request and renders its response into
// the slot's buffer.
func (s *Server) serveRequest(slot *Slot) {
	slot.ctx.Reset(slot.fd, &slot.req, slot.response)

	h, matched := s.urlMap.Find(slot.req.Path)
	if h == nil {
		slot.ctx.Error(http.StatusNotFound, "Not Found")
		return
	}

	slot.ctx.SetMatchedLen(matched)

	defer func() {
		if r := recover(); r != nil {
			log.Printf("handler panic on %s: %v", slot.req.Path, r)
			slot.ctx.Error(http.StatusInternalServerError, "Internal Server Error")
		}
	}()

	h(&slot.ctx)
}
