package pools

import "runtime/debug"

// GCConfig holds garbage collector tuning for the server process.
type GCConfig struct {
	// GOGC sets the collection target percentage. The heap here is
	// dominated by the slot table and its buffers, all allocated at init
	// and live until shutdown, so a higher target trades a little float
	// for far fewer collections.
	GOGC int

	// MemoryLimit sets a soft memory limit in bytes. 0 = no limit.
	MemoryLimit int64
}

// ServerGCConfig returns GC settings matched to the slot-table design:
// the slot buffers are reused across requests, so per-request garbage is
// limited to short-lived values such as copied header strings and encoded
// JSON bodies.
func ServerGCConfig() GCConfig {
	return GCConfig{
		GOGC: 200,
	}
}

// Apply installs the tuning.
func (c GCConfig) Apply() {
	if c.GOGC > 0 {
		debug.SetGCPercent(c.GOGC)
	}
	if c.MemoryLimit > 0 {
		debug.SetMemoryLimit(c.MemoryLimit)
	}
}
