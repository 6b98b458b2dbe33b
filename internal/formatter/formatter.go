package formatter

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"rccrawler/internal/logging"
	"rccrawler/internal/models"
	"rccrawler/internal/platform"
)

// Sink persists harvests
type Sink interface {
	SaveHarvest(ctx context.Context, h *models.Harvest) error
}

// ResultsFormatter turns extractor output into harvest records and the
// targets to crawl next
type ResultsFormatter struct {
	sink     Sink
	runID    string
	platform string
	now      func() time.Time
}

// New creates a new ResultsFormatter. A nil sink only logs harvests.
func New(sink Sink, runID, platformName string) *ResultsFormatter {
	return &ResultsFormatter{
		sink:     sink,
		runID:    runID,
		platform: platformName,
		now:      time.Now,
	}
}

// ProcessOutput records the data found on target's page and returns the
// follow-up targets: the next results page and every listing.
func (f *ResultsFormatter) ProcessOutput(ctx context.Context, out *platform.Output, target models.Target, runTimestamp int64) (*models.Harvest, []models.Target, error) {
	log := logging.For("harvest")

	data := out.Data
	if data == nil {
		data = map[string]any{}
	}
	for key, value := range data {
		if isEmpty(value) {
			log.Error("could not extract value", "key", key, "target", target.String())
		}
	}

	var next []models.Target
	if out.NextURL != "" {
		log.Debug("following next page", "target", target.String(), "next_url", out.NextURL)
		next = append(next, models.Target{
			Keyword:         target.Keyword,
			URL:             out.NextURL,
			Referer:         target.URL,
			Category:        models.CategorySearch,
			FollowNextCount: target.FollowNextCount + 1,
		})
	}
	for _, u := range out.ListingURLs {
		next = append(next, models.Target{
			Keyword:  target.Keyword,
			URL:      u,
			Referer:  target.URL,
			Category: models.CategoryListing,
		})
	}

	harvest := &models.Harvest{
		RunID:        f.runID,
		Platform:     f.platform,
		Keyword:      target.Keyword,
		Category:     target.Category,
		URL:          target.URL,
		RunTimestamp: runTimestamp,
		Data:         data,
		Created:      f.now().UTC(),
	}

	if f.sink != nil {
		if err := f.sink.SaveHarvest(ctx, harvest); err != nil {
			return harvest, next, fmt.Errorf("failed to save harvest: %w", err)
		}
	}
	log.Debug("output persisted", "url", harvest.URL, "keys", len(data))
	return harvest, next, nil
}

// isEmpty mirrors what a reader of the data would call missing: nil, zero
// values and empty collections
func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array, reflect.String:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	default:
		return rv.IsZero()
	}
}
