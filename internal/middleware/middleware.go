// Package middleware wraps page downloads with cross-cutting behaviour:
// rate limiting and a page store that doubles as a cache.
package middleware

import (
	"context"

	"rccrawler/internal/browser"
)

// DownloadFunc performs a download
type DownloadFunc func(ctx context.Context, req browser.Request) browser.Result

// Middleware decorates a DownloadFunc
type Middleware func(next DownloadFunc) DownloadFunc

// Chain wraps base with mws. The first middleware is the innermost, so
// Chain(fetch, RateLimit(..), PageStore(..)) consults the store before the
// rate limiter.
func Chain(base DownloadFunc, mws ...Middleware) DownloadFunc {
	handler := base
	for _, mw := range mws {
		handler = mw(handler)
	}
	return handler
}

// FromFetcher adapts a browser to a DownloadFunc
func FromFetcher(f browser.Fetcher) DownloadFunc {
	return f.Fetch
}
