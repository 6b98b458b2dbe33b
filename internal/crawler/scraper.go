package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"rccrawler/internal/browser"
	"rccrawler/internal/captcha"
	"rccrawler/internal/formatter"
	"rccrawler/internal/logging"
	"rccrawler/internal/middleware"
	"rccrawler/internal/models"
	"rccrawler/internal/platform"
)

const (
	// RetryMax is how many times a target is retried after its first attempt
	RetryMax = 2
	// ProxyFailureCountMax is how many maybe-proxy failures are tolerated
	// before the agent is switched
	ProxyFailureCountMax = 2
)

// Browser is the session a scraper fetches through
type Browser interface {
	browser.Fetcher
	SwitchAgent() error
	String() string
}

// fetchResult is a download result after the page has been scrutinised
type fetchResult struct {
	Outcome     browser.Outcome
	Reason      string
	SwitchAgent bool
}

// ScraperConfig holds what a scraper needs
type ScraperConfig struct {
	Browser      Browser
	Middlewares  []middleware.Middleware
	Platform     platform.Platform
	Solver       captcha.Solver
	Formatter    *formatter.ResultsFormatter
	RunTimestamp int64
	Stats        *Stats
	// Seen is shared by the scrapers of a run so a url is queued once
	Seen *lru.Cache[string, struct{}]
}

// Scraper is an actor owning one browser. It works through its inbox until
// it receives a stopper, queueing retries and followed links into the same
// inbox.
type Scraper struct {
	id       string
	log      *slog.Logger
	inbox    *Inbox
	browser  Browser
	download middleware.DownloadFunc
	platform platform.Platform
	solver   captcha.Solver
	format   *formatter.ResultsFormatter
	runTS    int64
	stats    *Stats
	seen     *lru.Cache[string, struct{}]
}

// NewScraper creates a scraper; the browser's Fetch is wrapped with the
// configured middlewares.
func NewScraper(cfg ScraperConfig) (*Scraper, error) {
	if cfg.Browser == nil || cfg.Platform == nil || cfg.Formatter == nil {
		return nil, errors.New("scraper needs a browser, a platform and a formatter")
	}
	id := uuid.NewString()[:8]
	s := &Scraper{
		id:       id,
		log:      logging.For("scrape." + id),
		inbox:    NewInbox(),
		browser:  cfg.Browser,
		download: middleware.Chain(middleware.FromFetcher(cfg.Browser), cfg.Middlewares...),
		platform: cfg.Platform,
		solver:   cfg.Solver,
		format:   cfg.Formatter,
		runTS:    cfg.RunTimestamp,
		stats:    cfg.Stats,
		seen:     cfg.Seen,
	}
	if s.stats == nil {
		s.stats = &Stats{}
	}
	return s, nil
}

// ID identifies the scraper in logs
func (s *Scraper) ID() string {
	return s.id
}

// Send queues a target
func (s *Scraper) Send(p Priority, target models.Target) {
	s.inbox.Put(p, &target)
}

// Stop queues a stopper behind all pending work
func (s *Scraper) Stop() {
	s.inbox.Put(PriorityStopper, nil)
}

// Start handles targets until a stopper arrives or ctx is done
func (s *Scraper) Start(ctx context.Context) error {
	s.log.Info("starting browser", "browser", s.browser.String())

	proxyFailureCount := 0
	for {
		_, target, err := s.inbox.Get(ctx)
		if err != nil {
			return err
		}
		if target == nil {
			break
		}

		res := s.onReceive(ctx, *target)

		switch {
		case res.Outcome == browser.MaybeProxyFailure && proxyFailureCount < ProxyFailureCountMax:
			proxyFailureCount++
		case res.Outcome == browser.AntiScraping && res.SwitchAgent,
			res.Outcome == browser.ProxyFailure,
			res.Outcome == browser.MaybeProxyFailure:
			s.log.Warn("changing browser", "outcome", res.Outcome, "from", s.browser.String())
			if err := s.browser.SwitchAgent(); err != nil {
				s.log.Error("failed to switch agent", "error", err)
			} else {
				s.stats.AgentSwitches.Add(1)
				s.log.Warn("changed browser", "to", s.browser.String())
			}
			proxyFailureCount = 0
		case res.Outcome == browser.Success:
			proxyFailureCount = 0
		}
	}

	s.log.Info("exiting scraper")
	return nil
}

func (s *Scraper) onReceive(ctx context.Context, target models.Target) fetchResult {
	s.log.Debug("downloading content",
		"category", target.Category,
		"url", target.URL,
		"keyword", target.Keyword,
		"retry", target.RetryCount,
	)

	dl := s.download(ctx, browser.Request{
		URL:           target.URL,
		Params:        target.Params,
		Headers:       http.Header{"Referer": {target.Referer}},
		ReadFromCache: target.RetryCount == 0,
	})
	if dl.FromCache {
		s.stats.FromCache.Add(1)
	} else if dl.Outcome == browser.Success {
		s.stats.Fetched.Add(1)
	}

	res := fetchResult{Outcome: dl.Outcome, Reason: dl.Reason}
	switch {
	case dl.Outcome == browser.Success && target.Category != "":
		// the page may still turn out to be a block page
		res = s.handleDownloadSuccess(ctx, target, dl.Content, dl.FromCache)
	case dl.Outcome == browser.Failure:
		s.log.Error("download failed, skipping", "url", target.URL, "reason", dl.Reason)
		s.stats.Failed.Add(1)
	}

	if res.Outcome.NeedsRetry() {
		if res.Outcome == browser.AntiScraping {
			s.stats.AntiScraping.Add(1)
		}
		if target.RetryCount < RetryMax {
			s.log.Warn("download failed, scheduling for retry", "reason", res.Reason, "url", target.URL)
			s.stats.Retried.Add(1)
			s.Send(PriorityRetry, target.Retry())
		} else {
			s.log.Warn("download failed, retried max number of times", "reason", res.Reason, "url", target.URL)
			s.stats.Failed.Add(1)
		}
	}
	return res
}

func (s *Scraper) handleDownloadSuccess(ctx context.Context, target models.Target, html []byte, fromCache bool) fetchResult {
	out, err := s.platform.Extract(target.Category, html, target, s.runTS)
	switch {
	case errors.Is(err, platform.ErrAntiScraping):
		return fetchResult{
			Outcome:     browser.AntiScraping,
			Reason:      browser.DescribeError(err),
			SwitchAgent: !fromCache,
		}
	case err != nil:
		s.log.Error("extraction failed", "url", target.URL, "error", err)
		s.stats.Failed.Add(1)
		return fetchResult{Outcome: browser.Failure, Reason: browser.DescribeError(err)}
	}

	if out.Captcha != nil {
		s.stats.Captchas.Add(1)
		if fromCache {
			return fetchResult{Outcome: browser.AntiScraping, Reason: "captcha challenge, from saved page"}
		}
		s.log.Info("captcha detected, attempting to answer it", "url", target.URL)
		if err := s.answerCaptcha(ctx, out.Captcha, target.URL); err != nil {
			return fetchResult{
				Outcome:     browser.AntiScraping,
				Reason:      fmt.Sprintf("captcha challenge, unanswered due to %v", err),
				SwitchAgent: true,
			}
		}
		return fetchResult{Outcome: browser.AntiScraping, Reason: "captcha challenge, answered"}
	}

	s.log.Debug("extraction succeeded, harvesting", "url", target.URL)
	_, next, err := s.format.ProcessOutput(ctx, out, target, s.runTS)
	if err != nil {
		s.log.Error("harvest failed", "url", target.URL, "error", err)
		s.stats.Failed.Add(1)
		return fetchResult{Outcome: browser.Failure, Reason: err.Error()}
	}
	s.stats.Harvested.Add(1)

	for _, t := range next {
		if s.seen != nil {
			if seen, _ := s.seen.ContainsOrAdd(t.URL, struct{}{}); seen {
				s.log.Debug("already queued, skipping", "url", t.URL)
				continue
			}
		}
		s.Send(PriorityDefault, t)
	}
	return fetchResult{Outcome: browser.Success}
}

// answerCaptcha downloads the captcha image, solves it and submits the
// answer through the challenge form
func (s *Scraper) answerCaptcha(ctx context.Context, challenge *platform.CaptchaChallenge, referer string) error {
	if s.solver == nil {
		return errors.New("no captcha solver configured")
	}
	headers := http.Header{"Referer": {referer}}

	img := s.browser.Fetch(ctx, browser.Request{URL: challenge.ImageURL, Headers: headers, Binary: true})
	if img.Outcome != browser.Success {
		return fmt.Errorf("failed to fetch captcha image due to %s", img.Reason)
	}

	answer, err := s.solver.Solve(ctx, img.Content)
	if err != nil {
		return err
	}
	if answer == "" {
		return errors.New("unable to recognize characters in captcha")
	}

	form := challenge.Form
	if form.Method != http.MethodGet {
		return fmt.Errorf("non-GET request is not yet supported: %s", form.Method)
	}

	// the field without a value takes the answer
	params := url.Values{}
	for name, value := range form.Fields {
		if value == nil {
			params.Set(name, answer)
		} else {
			params.Set(name, *value)
		}
	}
	s.log.Info("submitting captcha answer", "image", challenge.ImageURL, "params", params.Encode())

	res := s.browser.Fetch(ctx, browser.Request{URL: form.Action, Params: params, Headers: headers})
	if res.Outcome != browser.Success {
		s.log.Warn("captcha submission was not accepted", "outcome", res.Outcome, "reason", res.Reason)
	}
	return nil
}
