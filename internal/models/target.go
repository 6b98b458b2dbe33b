package models

import (
	"fmt"
	"net/url"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// PageCategory tells an extractor which kind of page it is looking at
type PageCategory string

const (
	CategorySearch  PageCategory = "search_results"
	CategoryListing PageCategory = "listing"
)

// ValidateCategory checks if the category is known
func ValidateCategory(c PageCategory) error {
	switch c {
	case CategorySearch, CategoryListing:
		return nil
	default:
		return fmt.Errorf("invalid page category: %s", c)
	}
}

// Target is the message scrapers pass around: a page to download plus the
// context needed to extract and follow it.
type Target struct {
	Keyword         string       `json:"keyword"`
	URL             string       `json:"url"`
	Referer         string       `json:"referer"`
	Params          url.Values   `json:"params,omitempty"`
	Category        PageCategory `json:"category,omitempty"`
	RetryCount      int          `json:"retry_count"`
	FollowNextCount int          `json:"follow_next_count"`
}

// Validate ensures the target can be fetched
func (t *Target) Validate() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.URL, validation.Required, is.URL),
		validation.Field(&t.Referer, is.URL),
		validation.Field(&t.RetryCount, validation.Min(0)),
		validation.Field(&t.FollowNextCount, validation.Min(0)),
	)
}

// Retry returns a copy of the target scheduled for another attempt
func (t Target) Retry() Target {
	t.RetryCount++
	return t
}

func (t Target) String() string {
	return fmt.Sprintf("<Target %s %s keyword=%q retry=%d follow=%d>",
		t.Category, t.URL, t.Keyword, t.RetryCount, t.FollowNextCount)
}
