package ledger

import "go.uber.org/atomic"

// Stats are process-wide counters readable from any goroutine.
type Stats struct {
	Blocks            atomic.Uint64
	MessagesSubmitted atomic.Uint64
	MessagesProcessed atomic.Uint64
	LastBlock         atomic.Uint32
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Blocks            uint64
	MessagesSubmitted uint64
	MessagesProcessed uint64
	LastBlock         uint32
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Blocks:            s.Blocks.Load(),
		MessagesSubmitted: s.MessagesSubmitted.Load(),
		MessagesProcessed: s.MessagesProcessed.Load(),
		LastBlock:         s.LastBlock.Load(),
	}
}
