package scheduler

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Enabled:        s.cfg.Enabled,
		Running:        s.c != nil,
		Interval:       normalizeInterval(s.cfg.Interval),
		Timezone:       s.loc.String(),
		Scans:          s.stats.scans,
		Triggered:      s.stats.triggered,
		Lost:           s.stats.lost,
		Failed:         s.stats.failed,
		DispatchFailed: s.stats.dispatchFailed,
		LastScanAt:     s.stats.lastScanAt,
		LastScanTook:   s.stats.lastScanTook,
		LastError:      s.stats.lastErr,
		LastErrorAt:    s.stats.lastErrAt,
	}
	if s.c != nil && s.entryID != 0 {
		snap.NextScanAt = s.c.Entry(s.entryID).Next
	}
	if !snap.LastScanAt.IsZero() {
		snap.LastScanAt = snap.LastScanAt.In(s.loc)
	}
	return snap
}
