package core

import (
	"github.com/searchktools/shard-server/core/http"
	"github.com/searchktools/shard-server/core/pools"
)

// Initial capacity of each slot's response buffer. Buffers grow on demand
// and keep their capacity for the server's lifetime.
const responseBufferSize = 256

// Slot is the per-connection state record, addressed directly by fd in the
// server's slot table. Exactly one worker owns any live slot at a time.
type Slot struct {
	fd int

	// alive means the fd is registered with its owner's poller and sits
	// exactly once in that worker's death ring.
	alive bool

	// keepAlive is the disposition of the most recent request.
	keepAlive bool

	// timeToDie is the worker-local tick after which an idle keep-alive
	// connection is closed. Wraps in ~136 years of worker uptime.
	timeToDie uint32

	// response is owned by the slot: allocated once at init, truncated on
	// reset, freed only at server shutdown.
	response *pools.Buffer

	// Request scratch owned by request processing.
	in  *pools.Buffer
	req http.Request
	ctx http.Context
}

// newSlotTable allocates the flat fd-indexed slot table, one slot per
// descriptor the process may reach, each with its own response buffer.
func newSlotTable(size int) []Slot {
	slots := make([]Slot, size)
	for i := range slots {
		slots[i].fd = -1
		slots[i].response = pools.NewBuffer(responseBufferSize)
		slots[i].in = pools.NewBuffer(0)
	}
	return slots
}

// reset prepares a slot for a new connection on fd: all request scratch is
// zeroed, the owned buffers are truncated but never freed.
func (s *Slot) reset(fd int) {
	s.fd = fd
	s.keepAlive = false
	s.timeToDie = 0
	s.response.Reset()
	s.in.Reset()
	s.req.Reset()
	s.ctx.Reset(fd, &s.req, s.response)
}

// free releases the slot's buffers at server shutdown.
func (s *Slot) free() {
	s.response.Free()
	s.in.Free()
}
