package core

import "sync/atomic"

// stats tracks connection and request counters across the acceptor and
// all workers.
type stats struct {
	accepted atomic.Uint64
	closed   atomic.Uint64
	expired  atomic.Uint64
	requests atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of the server counters.
type StatsSnapshot struct {
	Accepted uint64 `json:"accepted"`
	Closed   uint64 `json:"closed"`
	Expired  uint64 `json:"expired"`
	Requests uint64 `json:"requests"`
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() StatsSnapshot {
	return StatsSnapshot{
		Accepted: s.stats.accepted.Load(),
		Closed:   s.stats.closed.Load(),
		Expired:  s.stats.expired.Load(),
		Requests: s.stats.requests.Load(),
	}
}
