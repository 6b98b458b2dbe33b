package models

import (
	"fmt"
	"time"
)

// Harvest is the data extracted from one page during a crawl run
type Harvest struct {
	ID           string         `json:"id,omitempty"`
	RunID        string         `json:"run"`
	Platform     string         `json:"platform"`
	Keyword      string         `json:"keyword"`
	Category     PageCategory   `json:"category"`
	URL          string         `json:"url"`
	RunTimestamp int64          `json:"run_timestamp"`
	Data         map[string]any `json:"data"`
	Created      time.Time      `json:"created,omitempty"`
}

// RunStatus represents the lifecycle of a crawl run
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunFinished RunStatus = "finished"
	RunFailed   RunStatus = "failed"
)

// RunStats are the counters a crawl run accumulates
type RunStats struct {
	Fetched       int64 `json:"fetched"`
	FromCache     int64 `json:"from_cache"`
	Harvested     int64 `json:"harvested"`
	Failed        int64 `json:"failed"`
	Retried       int64 `json:"retried"`
	AntiScraping  int64 `json:"anti_scraping"`
	Captchas      int64 `json:"captchas"`
	AgentSwitches int64 `json:"agent_switches"`
}

// CrawlRun records one invocation of the crawler against a platform
type CrawlRun struct {
	ID           string    `json:"id,omitempty"`
	Platform     string    `json:"platform"`
	RunTimestamp int64     `json:"run_timestamp"`
	Status       RunStatus `json:"status"`
	Keywords     []string  `json:"keywords"`
	Stats        RunStats  `json:"stats"`
	Error        string    `json:"error,omitempty"`
	Started      time.Time `json:"started"`
	Finished     time.Time `json:"finished,omitempty"`
}

// ValidateStatus checks if the run status is valid
func ValidateStatus(s RunStatus) error {
	switch s {
	case RunRunning, RunFinished, RunFailed:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}
