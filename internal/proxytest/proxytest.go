// Package proxytest checks which proxies of a list can reach the crawled
// sites.
package proxytest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"rccrawler/internal/browser"
	"rccrawler/internal/logging"
)

const (
	DefaultWorkers = 80
	DefaultTimeout = 20 * time.Second
)

// DefaultURLs are the sites a proxy is tried against
var DefaultURLs = []string{
	"http://www.1688.com",
	"http://www.alibaba.com",
	"http://www.aliexpress.com",
	"http://www.amazon.ca",
	"http://www.amazon.co.uk",
	"http://www.amazon.com",
	"http://www.amazon.de",
	"http://www.amazon.fr",
	"http://www.amazon.it",
	"http://www.ebay.com.sg",
	"http://www.flipkart.com",
	"http://www.jd.com",
}

// Tester tries every proxy against URLs. A proxy is good when at most
// len(URLs)/6 of its requests fail.
type Tester struct {
	URLs      []string
	Workers   int
	Timeout   time.Duration
	UserAgent string
}

func NewTester() *Tester {
	return &Tester{
		URLs:      DefaultURLs,
		Workers:   DefaultWorkers,
		Timeout:   DefaultTimeout,
		UserAgent: browser.DefaultUserAgent(browser.Desktop),
	}
}

// MaxErrors is the failure budget of a good proxy
func (t *Tester) MaxErrors() int {
	return len(t.URLs) / 6
}

// Run tests proxies concurrently and returns the good ones in input order.
// onGood, when set, is called as soon as a proxy passes.
func (t *Tester) Run(ctx context.Context, proxies []string, onGood func(proxy string)) ([]string, error) {
	log := logging.For("proxy_tester")
	log.Info("starting proxy tester", "proxies", len(proxies), "workers", t.Workers)

	good := make([]bool, len(proxies))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	workers := t.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)
	for i, proxy := range proxies {
		g.Go(func() error {
			errCount := t.Test(gctx, proxy)
			if errCount > t.MaxErrors() {
				log.Warn("proxy is bad", "proxy", proxy, "errors", errCount)
				return nil
			}
			log.Info("proxy is good", "proxy", proxy, "errors", errCount)
			mu.Lock()
			good[i] = true
			if onGood != nil {
				onGood(proxy)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []string
	for i, ok := range good {
		if ok {
			out = append(out, proxies[i])
		}
	}
	log.Info("exiting proxy tester", "good", len(out))
	return out, nil
}

// Test returns how many of the test urls could not be fetched through proxy
// with a 200 status
func (t *Tester) Test(ctx context.Context, proxy string) int {
	log := logging.For("proxy_tester")

	transport, err := browser.NewTransport(proxy)
	if err != nil {
		log.Warn("unusable proxy", "proxy", proxy, "error", err)
		return len(t.URLs)
	}
	defer transport.CloseIdleConnections()
	client := &http.Client{Transport: transport}

	errCount := 0
	for _, u := range t.URLs {
		if err := t.get(ctx, client, u); err != nil {
			log.Warn("proxy request failed", "proxy", proxy, "url", u, "error", browser.DescribeError(err))
			errCount++
			continue
		}
		log.Info("proxy request succeeded", "proxy", proxy, "url", u)
	}
	return errCount
}

func (t *Tester) get(ctx context.Context, client *http.Client, u string) error {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	for k, v := range browser.DefaultHeaders {
		req.Header[k] = v
	}
	req.Header.Set("User-Agent", t.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
