package platform

import (
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"rccrawler/internal/browser"
	"rccrawler/internal/middleware"
	"rccrawler/internal/models"
)

const (
	aliExpressBaseURL        = "http://www.aliexpress.com"
	aliExpressSearchTemplate = "/wholesale?catId=0&initiative_id=&SearchText={keyword}"
	aliExpressFollowNextMax  = 2
)

// PriceBucket is one bar of the share of buyers per price range histogram.
// A nil bound is open ended.
type PriceBucket struct {
	From       *float64 `json:"from"`
	To         *float64 `json:"to"`
	Percentage float64  `json:"percentage"`
}

// AliExpress crawls aliexpress.com wholesale search results
type AliExpress struct {
	BaseURL string
}

func NewAliExpress() *AliExpress {
	return &AliExpress{BaseURL: aliExpressBaseURL}
}

func (a *AliExpress) Name() string                   { return "aliexpress" }
func (a *AliExpress) DeviceType() browser.DeviceType { return browser.Desktop }

func (a *AliExpress) RateLimits() []middleware.Limit {
	return []middleware.Limit{
		{MaxRate: 2, Period: 10 * time.Second},
		{MaxRate: 150, Period: time.Hour},
	}
}

func (a *AliExpress) Seeds(keywords []string) ([]Seed, error) {
	return keywordSeeds(a.BaseURL, aliExpressSearchTemplate, keywords)
}

func (a *AliExpress) Extract(category models.PageCategory, html []byte, target models.Target, runTimestamp int64) (*Output, error) {
	doc, err := parseDocument(html)
	if err != nil {
		return nil, NewExtractError(a.Name(), "parse", err)
	}

	switch category {
	case models.CategorySearch:
		return a.searchResults(doc, target), nil
	case models.CategoryListing:
		return &Output{Data: map[string]any{"title": title(doc)}}, nil
	default:
		return nil, NewExtractError(a.Name(), "dispatch", ErrUnsupportedCategory)
	}
}

func (a *AliExpress) searchResults(doc *goquery.Document, target models.Target) *Output {
	out := &Output{Data: map[string]any{}}

	if n, ok := digitsOnly(doc.Find(".search-count").First().Text()); ok {
		out.Data["total_listings"] = n
	} else {
		out.Data["total_listings"] = nil
	}
	out.Data["price_distribution"] = priceDistribution(doc)

	if target.FollowNextCount < aliExpressFollowNextMax {
		if href, ok := doc.Find("a.page-next").First().Attr("href"); ok {
			out.NextURL = "http:" + strings.TrimLeft(href, " \t\n")
		}
	}

	seen := make(map[string]bool)
	doc.Find("a.product").Each(func(_ int, link *goquery.Selection) {
		if href, ok := link.Attr("href"); ok {
			out.ListingURLs = uniqueAppend(out.ListingURLs, seen, "http:"+strings.TrimLeft(href, " \t\n"))
		}
	})
	return out
}

// priceDistribution reads the histogram up to the first malformed bar
func priceDistribution(doc *goquery.Document) []PriceBucket {
	var buckets []PriceBucket
	doc.Find("#price-range-list > li").EachWithBreak(func(_ int, li *goquery.Selection) bool {
		bar := li.Find(".histogram-height").First()
		from, okFrom := bar.Attr("price-range-from")
		to, okTo := bar.Attr("price-range-to")
		balloon := li.Find(".ui-histogram-ballon").First()
		if bar.Length() == 0 || !okFrom || !okTo || balloon.Length() == 0 {
			return false
		}
		pct, err := strconv.ParseFloat(strings.TrimSpace(strings.SplitN(balloon.Text(), "%", 2)[0]), 64)
		if err != nil {
			return false
		}
		buckets = append(buckets, PriceBucket{
			From:       parseBound(from),
			To:         parseBound(to),
			Percentage: pct,
		})
		return true
	})
	return buckets
}

func parseBound(s string) *float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &f
}
