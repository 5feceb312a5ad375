package artifact

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicStore_SignedURL(t *testing.T) {
	now := time.Date(2026, 3, 11, 7, 0, 0, 0, time.UTC)
	store := NewPublicStore("http://localhost:9000/audio/", time.Hour)
	store.now = func() time.Time { return now }

	url, expires, err := store.SignedURL(context.Background(), "/briefings/user 1/2026-03-11.mp3")

	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/audio/briefings/user%201/2026-03-11.mp3", url)
	assert.Equal(t, now.Add(time.Hour), expires)
}

func TestPublicStore_DeleteIsNoop(t *testing.T) {
	assert.NoError(t, NewPublicStore("http://x", time.Minute).Delete(context.Background(), "a.mp3"))
}
