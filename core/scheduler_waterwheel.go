//go:build waterwheel

package core

import "math/rand/v2"

// scheduleConnection picks the worker that will own a freshly accepted
// connection using the "Lorentz waterwheel" policy: a 4-bit random draw
// nudges the shared counter up or down, spreading connections across all
// workers while staying resilient to phase-lock with client arrival
// patterns. The policy is a hint, not a fairness guarantee.
func (s *Server) scheduleConnection() int {
	var c uint32
	if rand.Uint32()&15 > 7 {
		c = s.schedCounter.Add(1)
	} else {
		c = s.schedCounter.Add(^uint32(0))
	}
	return int(c % uint32(len(s.workers)))
}
