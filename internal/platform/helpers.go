package platform

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/valyala/fasttemplate"
)

// searchURL renders a search template such as "/s?k={keyword}" under base
func searchURL(base, template, keyword string) string {
	path := fasttemplate.ExecuteString(template, "{", "}", map[string]interface{}{
		"keyword": url.QueryEscape(keyword),
	})
	return base + path
}

// keywordSeeds builds one seed per non-blank keyword
func keywordSeeds(base, template string, keywords []string) ([]Seed, error) {
	var seeds []Seed
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		seeds = append(seeds, Seed{Keyword: kw, URL: searchURL(base, template, kw), Referer: base + "/"})
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("no keywords given")
	}
	return seeds, nil
}

func parseDocument(html []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return doc, nil
}

// digitsOnly concatenates the digits in s and parses them, so "2,345 results"
// gives 2345
func digitsOnly(s string) (int, bool) {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	n, err := strconv.Atoi(b.String())
	if err != nil {
		return 0, false
	}
	return n, true
}

// title returns the page title or nil
func title(doc *goquery.Document) any {
	sel := doc.Find("title").First()
	if sel.Length() == 0 {
		return nil
	}
	return sel.Text()
}

// uniqueAppend appends s unless it is already present
func uniqueAppend(list []string, seen map[string]bool, s string) []string {
	if seen[s] {
		return list
	}
	seen[s] = true
	return append(list, s)
}
