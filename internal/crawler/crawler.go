// Package crawler runs scraper actors against a platform: it seeds them
// with search pages, lets them follow links and records the run.
package crawler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"gocloud.dev/blob"
	"golang.org/x/sync/errgroup"

	"rccrawler/internal/browser"
	"rccrawler/internal/captcha"
	"rccrawler/internal/formatter"
	"rccrawler/internal/logging"
	"rccrawler/internal/middleware"
	"rccrawler/internal/models"
	"rccrawler/internal/platform"
)

// seenCacheSize bounds the urls remembered per run
const seenCacheSize = 100_000

// Store records runs and their harvests
type Store interface {
	formatter.Sink
	CreateRun(ctx context.Context, run *models.CrawlRun) error
	FinishRun(ctx context.Context, run *models.CrawlRun) error
}

// BrowserFactory creates the browser of one scraper
type BrowserFactory func(device browser.DeviceType) (Browser, error)

// RunConfig describes one crawl
type RunConfig struct {
	Platform    platform.Platform
	Keywords    []string
	NumScrapers int

	// Store is optional; without it harvests are only logged
	Store Store
	// PageBucket is optional; pages are saved there and reused on reruns
	// with the same RunTimestamp
	PageBucket *blob.Bucket
	Solver     captcha.Solver

	AgentPool      *browser.AgentPool
	RequestTimeout time.Duration
	NewBrowser     BrowserFactory

	// RunTimestamp defaults to now
	RunTimestamp int64

	// OnStart is called once the run has been recorded, before any page is
	// fetched
	OnStart func(run *models.CrawlRun)
}

func (cfg *RunConfig) browserFactory() BrowserFactory {
	if cfg.NewBrowser != nil {
		return cfg.NewBrowser
	}
	opts := []browser.Option{}
	if cfg.AgentPool != nil {
		opts = append(opts, browser.WithAgentPool(cfg.AgentPool))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, browser.WithTimeout(cfg.RequestTimeout))
	}
	return func(device browser.DeviceType) (Browser, error) {
		return browser.New(device, opts...)
	}
}

// Run crawls cfg.Platform to completion and returns the recorded run. The
// run is stored as failed when ctx is cancelled or a scraper errors.
func Run(ctx context.Context, cfg RunConfig) (*models.CrawlRun, error) {
	if cfg.Platform == nil {
		return nil, errors.New("no platform given")
	}
	if cfg.NumScrapers < 1 {
		cfg.NumScrapers = 1
	}
	if cfg.RunTimestamp == 0 {
		cfg.RunTimestamp = time.Now().Unix()
	}
	log := logging.For("crawler")

	seeds, err := cfg.Platform.Seeds(cfg.Keywords)
	if err != nil {
		return nil, fmt.Errorf("failed to generate seeds: %w", err)
	}

	run := &models.CrawlRun{
		Platform:     cfg.Platform.Name(),
		RunTimestamp: cfg.RunTimestamp,
		Status:       models.RunRunning,
		Keywords:     cfg.Keywords,
		Started:      time.Now().UTC(),
	}
	var sink formatter.Sink
	if cfg.Store != nil {
		if err := cfg.Store.CreateRun(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to record run: %w", err)
		}
		sink = cfg.Store
	} else {
		run.ID = uuid.NewString()
	}
	if cfg.OnStart != nil {
		cfg.OnStart(run)
	}

	stats := &Stats{}
	scrapers, err := buildScrapers(cfg, run, sink, stats)
	if err != nil {
		return finish(ctx, cfg, run, stats, err)
	}

	log.Info("starting scrapers", "count", len(scrapers), "platform", run.Platform, "seeds", len(seeds))
	g, gctx := errgroup.WithContext(ctx)
	for _, sc := range scrapers {
		g.Go(func() error { return sc.Start(gctx) })
	}

	seen := scrapers[0].seen
	for i, seed := range seeds {
		seen.Add(seed.URL, struct{}{})
		log.Debug("seed keyword", "keyword", seed.Keyword)
		scrapers[i%len(scrapers)].Send(PriorityDefault, seed.Target())
	}

	log.Info("putting stoppers in scraper inboxes")
	for _, sc := range scrapers {
		sc.Stop()
	}

	err = g.Wait()
	return finish(ctx, cfg, run, stats, err)
}

func buildScrapers(cfg RunConfig, run *models.CrawlRun, sink formatter.Sink, stats *Stats) ([]*Scraper, error) {
	seen, err := lru.New[string, struct{}](seenCacheSize)
	if err != nil {
		return nil, err
	}
	newBrowser := cfg.browserFactory()

	scrapers := make([]*Scraper, 0, cfg.NumScrapers)
	for i := 0; i < cfg.NumScrapers; i++ {
		b, err := newBrowser(cfg.Platform.DeviceType())
		if err != nil {
			return nil, fmt.Errorf("failed to create browser: %w", err)
		}

		// each scraper is its own identity, so each gets its own budget
		limiter, err := middleware.RateLimit(cfg.Platform.RateLimits())
		if err != nil {
			return nil, err
		}
		mws := []middleware.Middleware{limiter}
		if cfg.PageBucket != nil {
			mws = append(mws, middleware.PageStore(cfg.PageBucket, cfg.RunTimestamp))
		}

		sc, err := NewScraper(ScraperConfig{
			Browser:      b,
			Middlewares:  mws,
			Platform:     cfg.Platform,
			Solver:       cfg.Solver,
			Formatter:    formatter.New(sink, run.ID, run.Platform),
			RunTimestamp: cfg.RunTimestamp,
			Stats:        stats,
			Seen:         seen,
		})
		if err != nil {
			return nil, err
		}
		scrapers = append(scrapers, sc)
	}
	return scrapers, nil
}

func finish(ctx context.Context, cfg RunConfig, run *models.CrawlRun, stats *Stats, runErr error) (*models.CrawlRun, error) {
	run.Stats = stats.Snapshot()
	run.Finished = time.Now().UTC()
	run.Status = models.RunFinished
	if runErr != nil {
		run.Status = models.RunFailed
		run.Error = runErr.Error()
	}

	if cfg.Store != nil {
		// record the outcome even when the crawl was cancelled
		if err := cfg.Store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
			return run, errors.Join(runErr, fmt.Errorf("failed to record run result: %w", err))
		}
	}

	logging.For("crawler").Info("crawl finished",
		"run", run.ID,
		"status", run.Status,
		"fetched", run.Stats.Fetched,
		"harvested", run.Stats.Harvested,
		"failed", run.Stats.Failed,
	)
	return run, runErr
}

// ReadKeywords reads one keyword per line, skipping blank lines
func ReadKeywords(r io.Reader) ([]string, error) {
	var keywords []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if kw := strings.TrimSpace(scanner.Text()); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read keywords: %w", err)
	}
	return keywords, nil
}
