package activity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCache struct {
	mu   sync.Mutex
	data map[string]VideoMeta
}

func newMemCache() *memCache { return &memCache{data: make(map[string]VideoMeta)} }

func (m *memCache) GetVideoMeta(_ context.Context, id string, into interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.data[id]
	if !ok {
		return false, nil
	}
	*into.(*VideoMeta) = meta
	return true, nil
}

func (m *memCache) PutVideoMeta(_ context.Context, id string, meta interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = meta.(VideoMeta)
	return nil
}

func TestClassifyVideoWatchWithOEmbed(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"title":"Lecture 1","author_name":"MIT","thumbnail_url":"https://i.example/t.jpg"}`))
	}))
	defer srv.Close()

	cache := newMemCache()
	c := NewClassifier(cache)
	c.oEmbedBase = srv.URL

	snap := c.Classify(context.Background(), "https://www.youtube.com/watch?v=abc123", "ignored", true)
	assert.Equal(t, TypeVideo, snap.ActivityType)
	assert.Equal(t, "Lecture 1", snap.VideoTitle)
	assert.Equal(t, "MIT", snap.VideoChannel)
	assert.Equal(t, "https://i.example/t.jpg", snap.VideoThumbnail)
	assert.True(t, snap.FocusActive)

	// Second classification of the same video comes from the cache.
	c.Classify(context.Background(), "https://www.youtube.com/watch?v=abc123", "ignored", true)
	assert.Equal(t, 1, hits)
}

func TestClassifyVideoFallsBackToTitleScraping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClassifier(nil)
	c.oEmbedBase = srv.URL

	snap := c.Classify(context.Background(), "https://youtu.be/xyz", "Cool Video - YouTube", false)
	assert.Equal(t, TypeVideo, snap.ActivityType)
	assert.Equal(t, "Cool Video", snap.VideoTitle)
	assert.Empty(t, snap.VideoChannel)
}

func TestClassifyShorts(t *testing.T) {
	c := NewClassifier(nil)
	snap := c.Classify(context.Background(), "https://www.youtube.com/shorts/q1w2e3", "Short clip - YouTube", true)
	assert.Equal(t, TypeShorts, snap.ActivityType)
	assert.Equal(t, "Short clip", snap.VideoTitle)
}

func TestClassifyStudyPlatform(t *testing.T) {
	c := NewClassifier(nil)
	snap := c.Classify(context.Background(), "https://www.khanacademy.org/math/calculus-1", "Calculus 1", true)
	assert.Equal(t, TypeStudy, snap.ActivityType)
	assert.Equal(t, "Studying", snap.Status)
}

func TestClassifySearchExtractsQuery(t *testing.T) {
	c := NewClassifier(nil)
	snap := c.Classify(context.Background(), "https://www.google.com/search?q=go+generics", "go generics - Google Search", false)
	assert.Equal(t, TypeSearch, snap.ActivityType)
	assert.Equal(t, "go generics", snap.ActivityDetails)
}

func TestClassifyPDFDerivesDisplayName(t *testing.T) {
	c := NewClassifier(nil)
	snap := c.Classify(context.Background(), "https://arxiv.org/pdf/paper-v2.pdf", "", false)
	assert.Equal(t, TypeDocument, snap.ActivityType)
	assert.Equal(t, "paper-v2.pdf", snap.ActivityDetails)
}

func TestClassifySocial(t *testing.T) {
	c := NewClassifier(nil)
	snap := c.Classify(context.Background(), "https://reddit.com/r/golang", "r/golang", false)
	assert.Equal(t, TypeSocial, snap.ActivityType)
}

func TestClassifyFallbackBrowsing(t *testing.T) {
	c := NewClassifier(nil)
	snap := c.Classify(context.Background(), "https://go.dev/doc/effective_go", "Effective Go", false)
	assert.Equal(t, TypeBrowsing, snap.ActivityType)
	assert.Equal(t, "Browsing", snap.Status)
	require.Equal(t, "https://go.dev/doc/effective_go", snap.CurrentURL)
}

func TestClassifyIsIdempotent(t *testing.T) {
	c := NewClassifier(nil)
	a := c.Classify(context.Background(), "https://go.dev/", "Go", true)
	b := c.Classify(context.Background(), "https://go.dev/", "Go", true)
	a.UpdatedAt = b.UpdatedAt
	assert.Equal(t, a, b)
}
