package ecb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"briefing_scheduler/internal/domain"
)

const SourceID = "ecb"

type Config struct {
	BaseURL        string
	PageSize       int
	MaxPages       int
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Source pulls cricket headlines from the ECB content API and serves them as
// sports content.
type Source struct {
	httpClient     *http.Client
	baseURL        string
	pageSize       int
	maxPages       int
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Source {
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Source{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:        cfg.BaseURL,
		pageSize:       cfg.PageSize,
		maxPages:       maxPages,
		maxAttempts:    maxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logger.With("source", SourceID),
	}
}

func (s *Source) ID() string {
	return SourceID
}

func (s *Source) ContentType() domain.ContentType {
	return domain.ContentSports
}

// Fetch returns the current headlines as a JSON array of domain.Headline. A
// page failing after the first one yields the pages already read.
func (s *Source) Fetch(ctx context.Context) (json.RawMessage, error) {
	var items []item

	for n := 0; n < s.maxPages; n++ {
		p, err := s.fetchPage(ctx, n)
		if err != nil {
			if len(items) == 0 {
				return nil, fmt.Errorf("fetch page %d: %w", n, err)
			}
			s.logger.Warn("stopping early, keeping fetched pages", "page", n, "error", err)
			break
		}
		items = append(items, p.Items...)
		s.logger.Debug("fetched page", "page", n, "items", len(p.Items), "total", len(items))

		if n >= p.Info.NumPages-1 {
			break
		}
	}

	data, err := json.Marshal(s.headlines(items))
	if err != nil {
		return nil, fmt.Errorf("encode headlines: %w", err)
	}
	return data, nil
}

func (s *Source) fetchPage(ctx context.Context, n int) (*page, error) {
	url := fmt.Sprintf("%s?pageSize=%d&page=%d", s.baseURL, s.pageSize, n)

	var p *page
	err := s.retry(ctx, func() error {
		var err error
		p, err = s.get(ctx, url)
		return err
	})
	return p, err
}

// retry runs fn until it succeeds, fails permanently or runs out of
// attempts, sleeping with exponential backoff in between.
func (s *Source) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}

		var se *statusError
		if errors.As(err, &se) && !se.retryable() {
			return err
		}
		if attempt == s.maxAttempts {
			break
		}

		backoff := s.calculateBackoff(attempt)
		s.logger.Warn("request failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("after %d attempts: %w", s.maxAttempts, err)
}

func (s *Source) get(ctx context.Context, url string) (*page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "briefingd/1.0")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode}
	}

	var p page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &p, nil
}

func (s *Source) calculateBackoff(attempt int) time.Duration {
	backoff := s.initialBackoff << (attempt - 1)
	if backoff > s.maxBackoff || backoff <= 0 {
		backoff = s.maxBackoff
	}
	return backoff
}

// headlines normalises API items, skipping any without a parseable date.
func (s *Source) headlines(items []item) []domain.Headline {
	out := make([]domain.Headline, 0, len(items))

	for _, it := range items {
		publishedAt, err := time.Parse(time.RFC3339, it.Date)
		if err != nil {
			s.logger.Warn("skipping item with bad date", "external_id", it.ID, "date", it.Date)
			continue
		}

		h := domain.Headline{
			ExternalID:  it.ID,
			Title:       it.Title,
			Summary:     it.Summary,
			URL:         it.CanonicalURL,
			PublishedAt: publishedAt,
		}
		if h.Summary == nil {
			h.Summary = it.Description
		}
		if it.LeadMedia != nil && it.LeadMedia.ImageURL != "" {
			img := it.LeadMedia.ImageURL
			h.ImageURL = &img
		}
		for _, tag := range it.Tags {
			h.Tags = append(h.Tags, tag.Label)
		}
		out = append(out, h)
	}
	return out
}
