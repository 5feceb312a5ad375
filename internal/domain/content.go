package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type ContentType string

const (
	ContentNews   ContentType = "news"
	ContentStocks ContentType = "stocks"
	ContentSports ContentType = "sports"
)

var ContentTypes = []ContentType{ContentNews, ContentStocks, ContentSports}

func ParseContentType(s string) (ContentType, error) {
	switch ContentType(s) {
	case ContentNews, ContentStocks, ContentSports:
		return ContentType(s), nil
	}
	return "", fmt.Errorf("unknown content type %q", s)
}

// ContentEntry is one immutable snapshot fetched from a content source.
type ContentEntry struct {
	ID          int64           `db:"id" json:"id"`
	ContentType ContentType     `db:"content_type" json:"content_type"`
	Source      string          `db:"source" json:"source"`
	Data        json.RawMessage `db:"data" json:"data"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	ExpiresAt   time.Time       `db:"expires_at" json:"expires_at"`
}

// FreshContent holds, per content type, the newest unexpired entry of every
// source. Types with nothing fresh are absent.
type FreshContent map[ContentType][]ContentEntry

type FreshnessState string

const (
	FreshnessFresh   FreshnessState = "fresh"
	FreshnessWarn    FreshnessState = "warn"
	FreshnessStale   FreshnessState = "stale"
	FreshnessMissing FreshnessState = "missing"
)

// TypeFreshness summarises the newest cache entry of one content type.
type TypeFreshness struct {
	ContentType   ContentType    `json:"content_type"`
	State         FreshnessState `json:"state"`
	NewestAt      *time.Time     `json:"newest_at,omitempty"`
	Age           time.Duration  `json:"age"`
	ActiveSources int            `json:"active_sources"`
}

// Headline is the normalised item shape content sources store in entry data.
type Headline struct {
	ExternalID  int64     `json:"external_id"`
	Title       string    `json:"title"`
	Summary     *string   `json:"summary,omitempty"`
	URL         string    `json:"url"`
	ImageURL    *string   `json:"image_url,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}
