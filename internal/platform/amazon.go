package platform

import (
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"rccrawler/internal/browser"
	"rccrawler/internal/logging"
	"rccrawler/internal/middleware"
	"rccrawler/internal/models"
)

const (
	amazonBaseURL        = "http://www.amazon.com"
	amazonSearchTemplate = "/s/ref=nb_sb_noss?url=search-alias%3Daps&field-keywords={keyword}"
	amazonFollowNextMax  = 6

	// real result pages are never smaller than this
	amazonBlockedPageSize = 7218
)

// Amazon crawls amazon.com search results as a mobile browser
type Amazon struct {
	BaseURL string
}

func NewAmazon() *Amazon {
	return &Amazon{BaseURL: amazonBaseURL}
}

func (a *Amazon) Name() string                   { return "amazon" }
func (a *Amazon) DeviceType() browser.DeviceType { return browser.Mobile }

func (a *Amazon) RateLimits() []middleware.Limit {
	return []middleware.Limit{{MaxRate: 2, Period: 5 * time.Second}}
}

func (a *Amazon) Seeds(keywords []string) ([]Seed, error) {
	return keywordSeeds(a.BaseURL, amazonSearchTemplate, keywords)
}

func (a *Amazon) Extract(category models.PageCategory, html []byte, target models.Target, runTimestamp int64) (*Output, error) {
	doc, err := parseDocument(html)
	if err != nil {
		return nil, NewExtractError(a.Name(), "parse", err)
	}

	if challenge := a.captcha(doc); challenge != nil {
		return &Output{Captcha: challenge}, nil
	}
	if len(html) < amazonBlockedPageSize {
		return nil, NewExtractError(a.Name(), "blocked_check", ErrAntiScraping)
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

func (a *Amazon) searchResults(doc *goquery.Document, target models.Target) *Output {
	log := logging.For("amazon")
	out := &Output{Data: map[string]any{}}

	if h4 := doc.Find("#results h4").First(); h4.Length() > 0 && strings.Contains(h4.Text(), "sorry") {
		return out
	}

	if n, ok := digitsOnly(doc.Find("#s-slick-result-header span").First().Text()); ok {
		out.Data["total_listings"] = n
	} else {
		out.Data["total_listings"] = nil
	}

	if target.FollowNextCount < amazonFollowNextMax {
		next := doc.Find(".a-pagination > li:nth-child(2)").First()
		if next.Length() > 0 && !next.HasClass("a-disabled") {
			if href, ok := next.Find("a").First().Attr("href"); ok {
				out.NextURL = a.BaseURL + strings.TrimLeft(href, " \t\n")
			}
		}
	}

	seen := make(map[string]bool)
	collect := func(items *goquery.Selection, linkSelector string) {
		items.Each(func(_ int, li *goquery.Selection) {
			href, ok := li.Find(linkSelector).First().Attr("href")
			if !ok {
				log.Warn("could not extract listing url", "item", strings.TrimSpace(li.Text()), "target", target.String())
				return
			}
			out.ListingURLs = uniqueAppend(out.ListingURLs, seen, a.BaseURL+strings.TrimLeft(href, " \t\n"))
		})
	}

	if listings := doc.Find("#resultItems > li"); listings.Length() > 0 {
		collect(listings, "a.aw-search-results")
	} else {
		log.Info("multi-item row layout detected", "target", target.String())
		collect(doc.Find("#resultItems li"), "a.sx-grid-link")
	}
	return out
}

// captcha recognises the "type the characters you see" interstitial
func (a *Amazon) captcha(doc *goquery.Document) *CaptchaChallenge {
	form := doc.Find(`form[action*="validateCaptcha"]`).First()
	if form.Length() == 0 {
		return nil
	}
	src, ok := doc.Find(`img[src*="captcha"]`).First().Attr("src")
	if !ok {
		return nil
	}

	fields := make(map[string]*string)
	form.Find("input[name]").Each(func(_ int, input *goquery.Selection) {
		name := input.AttrOr("name", "")
		if strings.EqualFold(input.AttrOr("type", "text"), "hidden") {
			value := input.AttrOr("value", "")
			fields[name] = &value
			return
		}
		fields[name] = nil
	})

	return &CaptchaChallenge{
		ImageURL: a.resolve(src),
		Form: SubmissionForm{
			Method: strings.ToUpper(form.AttrOr("method", "GET")),
			Action: a.resolve(form.AttrOr("action", "")),
			Fields: fields,
		},
	}
}

func (a *Amazon) resolve(ref string) string {
	base, err := url.Parse(a.BaseURL + "/")
	if err != nil {
		return ref
	}
	u, err := base.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return u.String()
}
