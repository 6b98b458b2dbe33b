package crawler

import (
	"sync/atomic"

	"rccrawler/internal/models"
)

// Stats are the run counters shared by all scrapers of a run
type Stats struct {
	Fetched       atomic.Int64
	FromCache     atomic.Int64
	Harvested     atomic.Int64
	Failed        atomic.Int64
	Retried       atomic.Int64
	AntiScraping  atomic.Int64
	Captchas      atomic.Int64
	AgentSwitches atomic.Int64
}

func (s *Stats) Snapshot() models.RunStats {
	return models.RunStats{
		Fetched:       s.Fetched.Load(),
		FromCache:     s.FromCache.Load(),
		Harvested:     s.Harvested.Load(),
		Failed:        s.Failed.Load(),
		Retried:       s.Retried.Load(),
		AntiScraping:  s.AntiScraping.Load(),
		Captchas:      s.Captchas.Load(),
		AgentSwitches: s.AgentSwitches.Load(),
	}
}
