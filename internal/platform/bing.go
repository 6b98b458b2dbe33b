package platform

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/markusmobius/go-dateparser"

	"rccrawler/internal/browser"
	"rccrawler/internal/logging"
	"rccrawler/internal/middleware"
	"rccrawler/internal/models"
)

const (
	bingBaseURL        = "http://www.bing.com"
	bingSearchTemplate = "/videos/search?q={keyword}&FORM=BVLH1"

	videoInfoSeparator = "·"
)

var videoInfoRe = regexp.MustCompile(`^(?:(?P<title>[^·]+) from [^·]+|(?P<views>[\d,]+)\+? views|uploaded on (?P<uploaded_on>[^·]+))`)

// VideoInfo is what bing shows about a video result. Fields that could not
// be read are nil.
type VideoInfo struct {
	Title      *string    `json:"title"`
	Views      *int       `json:"views"`
	UploadedOn *time.Time `json:"uploaded_on"`
}

// Bing crawls bing video search results
type Bing struct {
	BaseURL string
}

func NewBing() *Bing {
	return &Bing{BaseURL: bingBaseURL}
}

func (b *Bing) Name() string                   { return "bing" }
func (b *Bing) DeviceType() browser.DeviceType { return browser.Desktop }

func (b *Bing) RateLimits() []middleware.Limit {
	return []middleware.Limit{{MaxRate: 2, Period: 5 * time.Second}}
}

func (b *Bing) Seeds(keywords []string) ([]Seed, error) {
	return keywordSeeds(b.BaseURL, bingSearchTemplate, keywords)
}

func (b *Bing) Extract(category models.PageCategory, html []byte, target models.Target, runTimestamp int64) (*Output, error) {
	if category != models.CategorySearch {
		return nil, NewExtractError(b.Name(), "dispatch", ErrUnsupportedCategory)
	}
	doc, err := parseDocument(html)
	if err != nil {
		return nil, NewExtractError(b.Name(), "parse", err)
	}

	log := logging.For("bing")
	base := time.Unix(runTimestamp, 0).UTC()
	videos := []VideoInfo{}

	doc.Find("a.dv_i[aria-label]").Each(func(_ int, a *goquery.Selection) {
		label := a.AttrOr("aria-label", "")
		info := ParseVideoInfo(label, base)
		if info.Views != nil && *info.Views != 0 && info.UploadedOn != nil {
			videos = append(videos, info)
			return
		}
		log.Warn("incomplete parsing of video info", "info", label)
		if info.Views == nil && strings.Contains(label, " views") {
			log.Error("unable to extract view count from video info", "info", label)
		}
		if info.UploadedOn == nil && strings.Contains(label, "uploaded on") {
			log.Error("unable to extract uploaded_on from video info", "info", label)
		}
	})

	return &Output{Data: map[string]any{"videos_info": videos}}, nil
}

// ParseVideoInfo reads title, views and upload date from a label like
// "Title from YouTube · Duration: 4 minutes · 1,000+ views · uploaded on 5/7/2016".
// Relative dates ("1 day ago") are taken relative to now.
func ParseVideoInfo(s string, now time.Time) VideoInfo {
	var title, views, uploaded string
	for _, fragment := range strings.Split(s, videoInfoSeparator) {
		m := videoInfoRe.FindStringSubmatch(strings.TrimSpace(fragment))
		if m == nil {
			continue
		}
		for i, name := range videoInfoRe.SubexpNames() {
			if m[i] == "" {
				continue
			}
			switch name {
			case "title":
				title = m[i]
			case "views":
				views = m[i]
			case "uploaded_on":
				uploaded = m[i]
			}
		}
	}

	var info VideoInfo
	if title != "" {
		info.Title = &title
	}
	if views != "" {
		if n, err := strconv.Atoi(strings.ReplaceAll(views, ",", "")); err == nil {
			info.Views = &n
		}
	}
	if uploaded != "" {
		if t, ok := parseUploadDate(strings.TrimSpace(uploaded), now); ok {
			info.UploadedOn = &t
		}
	}
	return info
}

func parseUploadDate(s string, now time.Time) (time.Time, bool) {
	if t, err := time.Parse("2/1/2006", s); err == nil {
		return t, true
	}

	// relative labels ("3 days ago", "yesterday") count back from now
	cfg := &dateparser.Configuration{
		CurrentTime:      now,
		DefaultTimezone:  now.Location(),
		DefaultLanguages: []string{"en"},
	}
	d, err := dateparser.Parse(cfg, s)
	if err != nil || d.Time.IsZero() {
		return time.Time{}, false
	}
	return d.Time.In(now.Location()), true
}
