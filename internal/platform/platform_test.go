package platform

import (
	"errors"
	"strings"
	"testing"

	"rccrawler/internal/models"
)

// padded makes a page large enough to pass the blocked page check
func padded(body string) []byte {
	return []byte("<html><head><title>Amazon.com: shoes</title></head><body>" + body +
		"<!--" + strings.Repeat("x", 8000) + "--></body></html>")
}

func searchTarget(follow int) models.Target {
	return models.Target{
		Keyword:         "shoes",
		URL:             "http://www.amazon.com/s?field-keywords=shoes",
		Category:        models.CategorySearch,
		FollowNextCount: follow,
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	want := []string{"aliexpress", "amazon", "bing", "thieve"}
	if got := r.Names(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	if _, err := r.Get("ebay"); !errors.Is(err, ErrUnknownPlatform) {
		t.Fatalf("expected ErrUnknownPlatform, got %v", err)
	}
	p, err := r.Get("amazon")
	if err != nil || p.DeviceType() != "mobile" {
		t.Fatalf("Get(amazon) = %v, %v", p, err)
	}
}

func TestSeeds(t *testing.T) {
	seeds, err := NewAmazon().Seeds([]string{"running shoes", "  ", "hat"})
	if err != nil {
		t.Fatalf("Seeds() error = %v", err)
	}
	if len(seeds) != 2 {
		t.Fatalf("expected 2 seeds, got %d", len(seeds))
	}
	want := "http://www.amazon.com/s/ref=nb_sb_noss?url=search-alias%3Daps&field-keywords=running+shoes"
	if seeds[0].URL != want || seeds[0].Referer != "http://www.amazon.com/" {
		t.Fatalf("unexpected seed: %+v", seeds[0])
	}
	if target := seeds[1].Target(); target.Category != models.CategorySearch || target.Keyword != "hat" {
		t.Fatalf("unexpected target: %+v", target)
	}

	if _, err := NewBing().Seeds(nil); err == nil {
		t.Fatalf("expected error without keywords")
	}

	seeds, err = NewThieve().Seeds(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(seeds) != 5 || seeds[0].URL != "http://thieve.co/?filter=Most%20Popular" ||
		seeds[4].URL != "http://thieve.co/?filter=Most%20Popular&offset=96" {
		t.Fatalf("unexpected thieve seeds: %+v", seeds)
	}
}

func TestAmazonSearchResults(t *testing.T) {
	html := padded(`
<div id="s-slick-result-header"><span>2,345 results</span></div>
<ul class="a-pagination"><li class="a-disabled">Previous</li><li><a href=" /s?page=2">Next</a></li></ul>
<ul id="resultItems">
  <li><a class="aw-search-results" href="/dp/A1">one</a></li>
  <li><a class="aw-search-results" href="/dp/A2">two</a></li>
  <li><a class="aw-search-results" href="/dp/A1">dup</a></li>
  <li><span>sponsored</span></li>
</ul>`)

	out, err := NewAmazon().Extract(models.CategorySearch, html, searchTarget(0), 0)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if out.Data["total_listings"] != 2345 {
		t.Fatalf("total_listings = %v", out.Data["total_listings"])
	}
	if out.NextURL != "http://www.amazon.com/s?page=2" {
		t.Fatalf("NextURL = %q", out.NextURL)
	}
	want := "http://www.amazon.com/dp/A1,http://www.amazon.com/dp/A2"
	if got := strings.Join(out.ListingURLs, ","); got != want {
		t.Fatalf("ListingURLs = %s", got)
	}

	out, err = NewAmazon().Extract(models.CategorySearch, html, searchTarget(amazonFollowNextMax), 0)
	if err != nil || out.NextURL != "" {
		t.Fatalf("next page followed past the limit: %+v, %v", out, err)
	}
}

func TestAmazonGridLayoutAndLastPage(t *testing.T) {
	html := padded(`
<ul class="a-pagination"><li><a href="/s?page=1">Previous</a></li><li class="a-disabled"><a href="/s?page=3">Next</a></li></ul>
<div id="resultItems"><ul><li><a class="sx-grid-link" href="/dp/G1">grid</a></li></ul></div>`)

	out, err := NewAmazon().Extract(models.CategorySearch, html, searchTarget(0), 0)
	if err != nil {
		t.Fatal(err)
	}
	if out.NextURL != "" {
		t.Fatalf("disabled next link was followed: %q", out.NextURL)
	}
	if len(out.ListingURLs) != 1 || out.ListingURLs[0] != "http://www.amazon.com/dp/G1" {
		t.Fatalf("ListingURLs = %v", out.ListingURLs)
	}
	if out.Data["total_listings"] != nil {
		t.Fatalf("total_listings should be nil, got %v", out.Data["total_listings"])
	}
}

func TestAmazonNoResults(t *testing.T) {
	html := padded(`<div id="results"><h4>We're sorry. Your search did not match any products.</h4></div>`)
	out, err := NewAmazon().Extract(models.CategorySearch, html, searchTarget(0), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Data) != 0 || len(out.ListingURLs) != 0 || out.NextURL != "" {
		t.Fatalf("expected empty output, got %+v", out)
	}
}

func TestAmazonBlockedPage(t *testing.T) {
	_, err := NewAmazon().Extract(models.CategorySearch, []byte("<html><body>Robot Check</body></html>"), searchTarget(0), 0)
	if !errors.Is(err, ErrAntiScraping) {
		t.Fatalf("expected ErrAntiScraping, got %v", err)
	}
	var extractErr *ExtractError
	if !errors.As(err, &extractErr) || extractErr.Stage != "blocked_check" {
		t.Fatalf("expected blocked_check stage, got %v", err)
	}
}

func TestAmazonCaptcha(t *testing.T) {
	html := []byte(`<html><body>
<img src="https://images-na.ssl-images-amazon.com/captcha/abc/Captcha_xyz.jpg">
<form method="get" action="/errors/validateCaptcha">
  <input type="hidden" name="amzn" value="token">
  <input type="hidden" name="amzn-r" value="/s">
  <input id="captchacharacters" name="field-keywords" type="text">
</form></body></html>`)

	out, err := NewAmazon().Extract(models.CategoryListing, html, searchTarget(0), 0)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	c := out.Captcha
	if c == nil {
		t.Fatalf("captcha not detected")
	}
	if c.ImageURL != "https://images-na.ssl-images-amazon.com/captcha/abc/Captcha_xyz.jpg" {
		t.Fatalf("ImageURL = %s", c.ImageURL)
	}
	if c.Form.Method != "GET" || c.Form.Action != "http://www.amazon.com/errors/validateCaptcha" {
		t.Fatalf("unexpected form: %+v", c.Form)
	}
	if v := c.Form.Fields["amzn"]; v == nil || *v != "token" {
		t.Fatalf("hidden field lost: %v", v)
	}
	if v, ok := c.Form.Fields["field-keywords"]; !ok || v != nil {
		t.Fatalf("answer field should be present and nil")
	}
}

func TestAmazonListing(t *testing.T) {
	out, err := NewAmazon().Extract(models.CategoryListing, padded(""), models.Target{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if out.Data["title"] != "Amazon.com: shoes" {
		t.Fatalf("title = %v", out.Data["title"])
	}
}

func TestAliExpressSearchResults(t *testing.T) {
	html := []byte(`<html><body>
<strong class="search-count">12,345</strong>
<ul id="price-range-list">
  <li><span class="histogram-height" price-range-from="0" price-range-to="5.5"></span><span class="ui-histogram-ballon">40% of buyers</span></li>
  <li><span class="histogram-height" price-range-from="5.5" price-range-to=""></span><span class="ui-histogram-ballon">60%</span></li>
  <li><span class="ui-histogram-ballon">broken</span></li>
</ul>
<a class="page-next" href=" //www.aliexpress.com/wholesale?page=2">Next</a>
<a class="product" href="//www.aliexpress.com/item/1.html">1</a>
<a class="product" href="//www.aliexpress.com/item/2.html">2</a>
</body></html>`)

	out, err := NewAliExpress().Extract(models.CategorySearch, html, searchTarget(0), 0)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if out.Data["total_listings"] != 12345 {
		t.Fatalf("total_listings = %v", out.Data["total_listings"])
	}
	dist := out.Data["price_distribution"].([]PriceBucket)
	if len(dist) != 2 {
		t.Fatalf("expected 2 price buckets, got %d", len(dist))
	}
	if *dist[0].From != 0 || *dist[0].To != 5.5 || dist[0].Percentage != 40 {
		t.Fatalf("unexpected first bucket: %+v", dist[0])
	}
	if dist[1].To != nil || dist[1].Percentage != 60 {
		t.Fatalf("open ended bucket not parsed: %+v", dist[1])
	}
	if out.NextURL != "http://www.aliexpress.com/wholesale?page=2" {
		t.Fatalf("NextURL = %q", out.NextURL)
	}
	if len(out.ListingURLs) != 2 || out.ListingURLs[1] != "http://www.aliexpress.com/item/2.html" {
		t.Fatalf("ListingURLs = %v", out.ListingURLs)
	}

	out, err = NewAliExpress().Extract(models.CategorySearch, html, searchTarget(aliExpressFollowNextMax), 0)
	if err != nil || out.NextURL != "" {
		t.Fatalf("next page followed past the limit: %+v, %v", out, err)
	}
}

func TestThieveProducts(t *testing.T) {
	html := []byte(`<html><body><div class="product-feed">
  <div class="product-item"><div class="title">Lamp</div><div class="price">$12.50</div><div class="like-count">31</div></div>
  <div class="product-item"><div class="title">Mug</div><div class="price">€n/a</div><div class="like-count">x</div></div>
  <div class="product-item"><div class="price">$1</div></div>
</div></body></html>`)

	out, err := NewThieve().Extract(models.CategorySearch, html, models.Target{}, 0)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	products := out.Data["products"].([]Product)
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %+v", products)
	}
	if products[0].Title != "Lamp" || *products[0].Price != 12.5 || *products[0].LikeCount != 31 {
		t.Fatalf("unexpected product: %+v", products[0])
	}
	if products[1].Price != nil || products[1].LikeCount != nil {
		t.Fatalf("unparseable fields should be nil: %+v", products[1])
	}

	if _, err := NewThieve().Extract(models.CategoryListing, html, models.Target{}, 0); !errors.Is(err, ErrUnsupportedCategory) {
		t.Fatalf("expected ErrUnsupportedCategory, got %v", err)
	}
}
