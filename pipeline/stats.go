package pipeline

import "sync/atomic"

// TierStats is the per-tier operation tally: totals, successes, business
// rejections and failures. Each tier instance owns one aggregate and updates
// it only from its own processing loop; Snapshot may be read from any
// goroutine (shutdown reporting, tests).
type TierStats struct {
	total     atomic.Uint64
	succeeded atomic.Uint64
	rejected  atomic.Uint64
	failed    atomic.Uint64
}

// TierStatsSnapshot is a point-in-time copy of a TierStats aggregate.
type TierStatsSnapshot struct {
	Total     uint64 `json:"total"`
	Succeeded uint64 `json:"succeeded"`
	Rejected  uint64 `json:"rejected"`
	Failed    uint64 `json:"failed"`
}

// RecordSuccess counts one successfully completed operation.
func (s *TierStats) RecordSuccess() {
	s.total.Add(1)
	s.succeeded.Add(1)
}

// RecordRejection counts one business-level rejection (conflict, not found,
// RECHAZADO).
func (s *TierStats) RecordRejection() {
	s.total.Add(1)
	s.rejected.Add(1)
}

// RecordFailure counts one system failure.
func (s *TierStats) RecordFailure() {
	s.total.Add(1)
	s.failed.Add(1)
}

// Snapshot returns the current tallies.
func (s *TierStats) Snapshot() TierStatsSnapshot {
	return TierStatsSnapshot{
		Total:     s.total.Load(),
		Succeeded: s.succeeded.Load(),
		Rejected:  s.rejected.Load(),
		Failed:    s.failed.Load(),
	}
}
