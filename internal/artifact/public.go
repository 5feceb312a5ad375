package artifact

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// PublicStore serves artifacts from a plain base URL, for local setups where
// the audio sits behind a static file server. The returned expiry is advisory.
type PublicStore struct {
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

func NewPublicStore(baseURL string, ttl time.Duration) *PublicStore {
	return &PublicStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *PublicStore) SignedURL(_ context.Context, path string) (string, time.Time, error) {
	parts := strings.Split(strings.TrimLeft(path, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.baseURL + "/" + strings.Join(parts, "/"), s.now().Add(s.ttl), nil
}

// Delete is a no-op; files behind a static server are managed elsewhere.
func (s *PublicStore) Delete(context.Context, string) error {
	return nil
}
