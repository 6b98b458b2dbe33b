package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"rccrawler/internal/logging"
	"rccrawler/internal/models"
	"rccrawler/internal/platform"
)

// ErrInvalidRequest marks crawl requests rejected before anything was
// recorded
var ErrInvalidRequest = errors.New("invalid crawl request")

// Service starts crawls in the background, e.g. on behalf of the API
type Service struct {
	ctx      context.Context
	registry *platform.Registry
	template RunConfig
	wg       sync.WaitGroup
}

// NewService creates a service whose crawls share template's settings and
// stop when ctx is cancelled
func NewService(ctx context.Context, registry *platform.Registry, template RunConfig) *Service {
	return &Service{ctx: ctx, registry: registry, template: template}
}

// StartCrawl records a new run and crawls it in the background. It returns
// once the run exists in the store.
func (s *Service) StartCrawl(platformName string, keywords []string) (*models.CrawlRun, error) {
	p, err := s.registry.Get(platformName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if _, err := p.Seeds(keywords); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	cfg := s.template
	cfg.Platform = p
	cfg.Keywords = keywords

	started := make(chan *models.CrawlRun, 1)
	failed := make(chan error, 1)
	cfg.OnStart = func(run *models.CrawlRun) {
		copied := *run
		started <- &copied
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		run, err := Run(s.ctx, cfg)
		if err != nil {
			logging.For("crawler").Error("background crawl failed", "platform", platformName, "error", err)
			if run == nil {
				failed <- err
			}
		}
	}()

	select {
	case run := <-started:
		return run, nil
	case err := <-failed:
		return nil, err
	}
}

// Wait blocks until every background crawl has returned
func (s *Service) Wait() {
	s.wg.Wait()
}
