// Package activity turns a (url, title) pair into a structured snapshot of
// what the user is currently doing. Classification is side-effect-free
// except for the video metadata fetch, which may populate a cache entry.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"focusd/internal/state"
)

// Activity types produced by the classifier.
const (
	TypeVideo    = "video"
	TypeShorts   = "shorts"
	TypeStudy    = "study"
	TypeSearch   = "search"
	TypeDocument = "document"
	TypeSocial   = "social"
	TypeBrowsing = "browsing"
)

var studyHosts = []string{
	"khanacademy.org",
	"coursera.org",
	"udemy.com",
	"leetcode.com",
	"edx.org",
}

var socialHosts = []string{
	"facebook.com",
	"twitter.com",
	"x.com",
	"instagram.com",
	"reddit.com",
}

// VideoMeta is the oEmbed subset cached per video id.
type VideoMeta struct {
	Title     string `json:"title"`
	Channel   string `json:"author_name"`
	Thumbnail string `json:"thumbnail_url"`
}

// MetaCache is the optional secondary cache the fetch path writes through.
type MetaCache interface {
	GetVideoMeta(ctx context.Context, videoID string, into interface{}) (bool, error)
	PutVideoMeta(ctx context.Context, videoID string, meta interface{}) error
}

type Classifier struct {
	client *http.Client
	cache  MetaCache
	// oEmbedBase is overridable in tests.
	oEmbedBase string
}

func NewClassifier(cache MetaCache) *Classifier {
	return &Classifier{
		client:     &http.Client{Timeout: 5 * time.Second},
		cache:      cache,
		oEmbedBase: "https://www.youtube.com/oembed",
	}
}

// Classify inspects the navigation and produces the current snapshot. It
// never fails: every fallback path lands on a generic browsing snapshot.
func (c *Classifier) Classify(ctx context.Context, rawURL, title string, focusActive bool) state.ActivitySnapshot {
	snap := state.ActivitySnapshot{
		FocusActive: focusActive,
		CurrentURL:  rawURL,
		UpdatedAt:   time.Now(),
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		u, err = url.Parse("https://" + rawURL)
	}
	if err != nil || u == nil {
		snap.Status = "Browsing"
		snap.ActivityType = TypeBrowsing
		return snap
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")

	switch {
	case isYouTubeShorts(host, u.Path):
		snap.Status = "Watching Shorts"
		snap.ActivityType = TypeShorts
		snap.VideoTitle = scrapeVideoTitle(title)
		snap.ActionButton = "openVideo"

	case isYouTubeWatch(host, u):
		snap.Status = "Watching a video"
		snap.ActivityType = TypeVideo
		snap.ActionButton = "openVideo"
		meta := c.videoMeta(ctx, videoID(host, u))
		if meta.Title != "" {
			snap.VideoTitle = meta.Title
			snap.VideoChannel = meta.Channel
			snap.VideoThumbnail = meta.Thumbnail
		} else {
			snap.VideoTitle = scrapeVideoTitle(title)
		}

	case matchesHost(host, studyHosts):
		snap.Status = "Studying"
		snap.ActivityType = TypeStudy
		snap.ActivityDetails = title

	case isSearch(host, u):
		snap.Status = "Searching"
		snap.ActivityType = TypeSearch
		snap.ActivityDetails = u.Query().Get("q")

	case strings.HasSuffix(strings.ToLower(u.Path), ".pdf"):
		snap.Status = "Reading a document"
		snap.ActivityType = TypeDocument
		snap.ActivityDetails = path.Base(u.Path)

	case matchesHost(host, socialHosts):
		snap.Status = "On social media"
		snap.ActivityType = TypeSocial
		snap.ActivityDetails = title

	default:
		snap.Status = "Browsing"
		snap.ActivityType = TypeBrowsing
		snap.ActivityDetails = title
	}
	return snap
}

func matchesHost(host string, list []string) bool {
	for _, h := range list {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func isYouTubeWatch(host string, u *url.URL) bool {
	if host == "youtu.be" {
		return strings.Trim(u.Path, "/") != ""
	}
	return (host == "youtube.com" || strings.HasSuffix(host, ".youtube.com")) &&
		u.Path == "/watch" && u.Query().Get("v") != ""
}

func isYouTubeShorts(host, p string) bool {
	return (host == "youtube.com" || strings.HasSuffix(host, ".youtube.com")) &&
		strings.HasPrefix(p, "/shorts/")
}

func isSearch(host string, u *url.URL) bool {
	return strings.HasPrefix(host, "google.") && u.Path == "/search" && u.Query().Get("q") != ""
}

func videoID(host string, u *url.URL) string {
	if host == "youtu.be" {
		return strings.Trim(u.Path, "/")
	}
	return u.Query().Get("v")
}

// scrapeVideoTitle strips the platform suffix from a page title.
func scrapeVideoTitle(title string) string {
	return strings.TrimSpace(strings.TrimSuffix(title, "- YouTube"))
}

// videoMeta resolves metadata via the cache, then oEmbed. Failures are
// logged and return an empty meta; the caller falls back to title scraping.
func (c *Classifier) videoMeta(ctx context.Context, id string) VideoMeta {
	var meta VideoMeta
	if id == "" {
		return meta
	}
	if c.cache != nil {
		if ok, err := c.cache.GetVideoMeta(ctx, id, &meta); err == nil && ok {
			return meta
		}
	}

	endpoint := fmt.Sprintf("%s?url=%s&format=json",
		c.oEmbedBase, url.QueryEscape("https://www.youtube.com/watch?v="+id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return VideoMeta{}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		log.Printf("oEmbed fetch failed for video %s: %v", id, err)
		return VideoMeta{}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("oEmbed fetch for video %s returned %d", id, resp.StatusCode)
		return VideoMeta{}
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		log.Printf("oEmbed decode failed for video %s: %v", id, err)
		return VideoMeta{}
	}

	if c.cache != nil {
		if err := c.cache.PutVideoMeta(ctx, id, meta); err != nil {
			log.Printf("Warning: failed to cache video metadata: %v", err)
		}
	}
	return meta
}
