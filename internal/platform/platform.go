// Package platform holds the site specific knowledge of the crawler: where
// searches start, how fast a site may be hit and how data is pulled out of
// its pages.
package platform

import (
	"errors"
	"fmt"

	"rccrawler/internal/browser"
	"rccrawler/internal/middleware"
	"rccrawler/internal/models"
)

var (
	// ErrAntiScraping means the site served a page meant to stop crawlers
	ErrAntiScraping = errors.New("anti-scraping mechanism triggered")

	ErrUnsupportedCategory = errors.New("unsupported page category")
	ErrUnknownPlatform     = errors.New("unknown platform")
)

// Platform defines how one site is crawled
type Platform interface {
	// Name is the registry key, e.g. "amazon"
	Name() string

	// DeviceType is the kind of browser to pose as
	DeviceType() browser.DeviceType

	// RateLimits bounds the request rate of every scraper
	RateLimits() []middleware.Limit

	// Seeds returns the search pages to start from. Platforms that do not
	// search by keyword ignore keywords.
	Seeds(keywords []string) ([]Seed, error)

	// Extract pulls data and links out of a downloaded page
	Extract(category models.PageCategory, html []byte, target models.Target, runTimestamp int64) (*Output, error)
}

// Seed is a starting search page
type Seed struct {
	Keyword string
	URL     string
	Referer string
}

// Target converts the seed to a search results target
func (s Seed) Target() models.Target {
	return models.Target{
		Keyword:  s.Keyword,
		URL:      s.URL,
		Referer:  s.Referer,
		Category: models.CategorySearch,
	}
}

// Output is what an extractor found on a page
type Output struct {
	NextURL     string
	ListingURLs []string
	Captcha     *CaptchaChallenge
	Data        map[string]any
}

// CaptchaChallenge is a captcha image plus the form its answer goes into
type CaptchaChallenge struct {
	ImageURL string
	Form     SubmissionForm
}

// SubmissionForm describes a captcha form. The field with a nil value is
// the one that receives the answer.
type SubmissionForm struct {
	Method string
	Action string
	Fields map[string]*string
}

// ExtractError represents an extraction error at a specific stage
type ExtractError struct {
	Platform string
	Stage    string
	Err      error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("%s extract error at %s stage: %v", e.Platform, e.Stage, e.Err)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

// NewExtractError creates a new ExtractError
func NewExtractError(platform, stage string, err error) *ExtractError {
	return &ExtractError{
		Platform: platform,
		Stage:    stage,
		Err:      err,
	}
}
