package platform

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"rccrawler/internal/browser"
	"rccrawler/internal/middleware"
	"rccrawler/internal/models"
)

const (
	thieveBaseURL    = "http://thieve.co"
	thieveSearchPath = "/?filter=Most%20Popular"
	thieveKeyword    = "most popular"
	thievePageSize   = 24
	thieveMaxOffset  = 100
)

// Product is an item from the thieve.co feed
type Product struct {
	Title     string   `json:"title"`
	Price     *float64 `json:"price"`
	LikeCount *int     `json:"like_count"`
}

// Thieve crawls the most popular feed of thieve.co. It has no keyword search.
type Thieve struct {
	BaseURL string
}

func NewThieve() *Thieve {
	return &Thieve{BaseURL: thieveBaseURL}
}

func (t *Thieve) Name() string                   { return "thieve" }
func (t *Thieve) DeviceType() browser.DeviceType { return browser.Desktop }

func (t *Thieve) RateLimits() []middleware.Limit {
	return []middleware.Limit{{MaxRate: 2, Period: 10 * time.Second}}
}

// Seeds pages through the feed; keywords are ignored
func (t *Thieve) Seeds(_ []string) ([]Seed, error) {
	var seeds []Seed
	for offset := 0; offset < thieveMaxOffset; offset += thievePageSize {
		u := t.BaseURL + thieveSearchPath
		if offset > 0 {
			u += fmt.Sprintf("&offset=%d", offset)
		}
		seeds = append(seeds, Seed{Keyword: thieveKeyword, URL: u, Referer: t.BaseURL + "/"})
	}
	return seeds, nil
}

func (t *Thieve) Extract(category models.PageCategory, html []byte, target models.Target, runTimestamp int64) (*Output, error) {
	if category != models.CategorySearch {
		return nil, NewExtractError(t.Name(), "dispatch", ErrUnsupportedCategory)
	}
	doc, err := parseDocument(html)
	if err != nil {
		return nil, NewExtractError(t.Name(), "parse", err)
	}

	products := []Product{}
	doc.Find(".product-feed .product-item").Each(func(_ int, item *goquery.Selection) {
		if p, ok := productItem(item); ok {
			products = append(products, p)
		}
	})
	return &Output{Data: map[string]any{"products": products}}, nil
}

func productItem(item *goquery.Selection) (Product, bool) {
	p := Product{Title: item.Find(".title").First().Text()}
	if p.Title == "" {
		return p, false
	}

	// skip the currency symbol
	priceText := []rune(strings.TrimSpace(item.Find(".price").First().Text()))
	if len(priceText) > 1 {
		if price, err := strconv.ParseFloat(string(priceText[1:]), 64); err == nil {
			p.Price = &price
		}
	}
	if likes, err := strconv.Atoi(strings.TrimSpace(item.Find(".like-count").First().Text())); err == nil {
		p.LikeCount = &likes
	}
	return p, true
}
