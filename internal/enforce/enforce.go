// Package enforce evaluates navigations against allow/block lists during
// focus sessions.
package enforce

import (
	"net/url"
	"strings"
)

// CoreBlocked is the fixed always-blocked set consulted while focusing,
// before the user-configured keyword list.
var CoreBlocked = []string{
	"facebook.com",
	"twitter.com",
	"x.com",
	"instagram.com",
	"tiktok.com",
	"reddit.com",
	"netflix.com",
	"9gag.com",
	"twitch.tv",
}

// Verdict is the outcome of evaluating a single navigation.
type Verdict struct {
	Allow bool
	// Blocked marks a countable block attempt (feeds the focus score).
	Blocked  bool
	Redirect string
	Reason   string
}

// Filter holds the effective enforcement lists. Instances are cheap; the app
// rebuilds one on config reload.
type Filter struct {
	// Permanent entries block at all times, session or not.
	Permanent []string
	// AllowList entries permit matching navigations while focusing.
	AllowList []string
	// Keywords are the user-configured block terms checked while focusing.
	Keywords []string
	// BlockedPage is the local redirect target for blocked navigations.
	BlockedPage string
}

// Normalize strips the scheme and trailing slash from a list entry so
// "https://www.google.com/" and "www.google.com" compare equal.
func Normalize(entry string) string {
	e := strings.TrimSpace(entry)
	e = strings.TrimPrefix(e, "https://")
	e = strings.TrimPrefix(e, "http://")
	return strings.TrimSuffix(e, "/")
}

func hostnameOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		u, err = url.Parse("https://" + rawURL)
		if err != nil {
			return ""
		}
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// entryMatches reports whether a normalized list entry matches the
// navigation. Matching is substring-based in both directions so a bare
// hostname matches a full-URL entry and vice versa.
func entryMatches(entry, rawURL, hostname string) bool {
	e := Normalize(entry)
	if e == "" {
		return false
	}
	if strings.Contains(rawURL, e) {
		return true
	}
	return hostname != "" && (strings.Contains(e, hostname) || strings.Contains(hostname, e))
}

// Evaluate applies the enforcement order: permanent list first regardless of
// session state, then session gating, allow list, core set and keywords.
func (f *Filter) Evaluate(rawURL string, focusing, onBreak bool) Verdict {
	hostname := hostnameOf(rawURL)

	for _, entry := range f.Permanent {
		if entryMatches(entry, rawURL, hostname) {
			return Verdict{Blocked: true, Redirect: f.BlockedPage, Reason: "permanent"}
		}
	}

	if !focusing || onBreak {
		return Verdict{Allow: true}
	}

	for _, entry := range f.AllowList {
		if entryMatches(entry, rawURL, hostname) {
			return Verdict{Allow: true, Reason: "allowlist"}
		}
	}

	for _, entry := range CoreBlocked {
		if entryMatches(entry, rawURL, hostname) {
			return Verdict{Blocked: true, Redirect: f.BlockedPage, Reason: "core"}
		}
	}
	for _, kw := range f.Keywords {
		k := strings.ToLower(strings.TrimSpace(kw))
		if k != "" && strings.Contains(strings.ToLower(rawURL), k) {
			return Verdict{Blocked: true, Redirect: f.BlockedPage, Reason: "keyword"}
		}
	}

	return Verdict{Allow: true}
}
