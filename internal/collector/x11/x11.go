package x11

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"focusd/internal/collector"

	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"
)

// browserClasses maps X11 WM_CLASS values to the title suffix browsers
// append to page titles.
var browserClasses = map[string]string{
	"Google-chrome":  " - Google Chrome",
	"Chromium":       " - Chromium",
	"firefox":        " — Mozilla Firefox",
	"Firefox":        " — Mozilla Firefox",
	"Brave-browser":  " - Brave",
	"Microsoft-edge": " - Microsoft Edge",
}

// X11Watcher polls the active window and reports browser page visits as
// navigations. Only window titles are visible, so URLs are best-effort
// heuristics; the snapshot feed does not rely on them.
type X11Watcher struct {
	X         *xgbutil.XUtil
	lastTitle string
	stopChan  chan struct{}
}

func NewX11Watcher() (*X11Watcher, error) {
	X, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}
	if _, err := ewmh.CurrentDesktopGet(X); err != nil {
		log.Printf("Warning: EWMH potentially not supported by window manager: %v", err)
	}
	return &X11Watcher{
		X:        X,
		stopChan: make(chan struct{}),
	}, nil
}

// activeBrowserPage returns the page title of the focused browser window,
// or ok=false when the focused window is not a browser.
func (w *X11Watcher) activeBrowserPage() (string, bool, error) {
	winID, err := ewmh.ActiveWindowGet(w.X)
	if err != nil {
		return "", false, fmt.Errorf("could not get active window: %w", err)
	}
	if winID == 0 {
		return "", false, nil
	}

	title, err := ewmh.WmNameGet(w.X, winID)
	if err != nil || title == "" {
		title, err = icccm.WmNameGet(w.X, winID)
		if err != nil || title == "" {
			return "", false, nil
		}
	}

	classHints, err := icccm.WmClassGet(w.X, winID)
	if err != nil || classHints == nil {
		return "", false, nil
	}
	suffix, isBrowser := browserClasses[classHints.Class]
	if !isBrowser {
		return "", false, nil
	}
	return strings.TrimSuffix(title, suffix), true, nil
}

// guessURL maps well-known title shapes onto a pseudo-URL so the classifier
// can recognize the site. Unrecognized titles yield an empty URL and fall
// through to generic browsing.
func guessURL(title string) string {
	switch {
	case strings.HasSuffix(title, "- YouTube"):
		return "https://www.youtube.com/watch"
	case strings.HasSuffix(title, "- Google Search"):
		q := strings.TrimSpace(strings.TrimSuffix(title, "- Google Search"))
		return "https://www.google.com/search?q=" + url.QueryEscape(q)
	case strings.HasSuffix(title, ".pdf"):
		return "https://local/" + url.PathEscape(title)
	}
	return ""
}

func (w *X11Watcher) Start(ctx context.Context, interval time.Duration, output chan<- collector.Navigation) error {
	log.Printf("Starting X11 browser watcher (interval: %s)", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("X11 watcher stopping due to context cancellation.")
			return ctx.Err()
		case <-w.stopChan:
			log.Println("X11 watcher stopping.")
			return nil
		case <-ticker.C:
			title, isBrowser, err := w.activeBrowserPage()
			if err != nil || !isBrowser || title == w.lastTitle {
				continue
			}
			w.lastTitle = title
			nav := collector.Navigation{
				URL:   guessURL(title),
				Title: title,
				At:    time.Now(),
			}
			select {
			case output <- nav:
			case <-ctx.Done():
				return ctx.Err()
			case <-w.stopChan:
				return nil
			}
		}
	}
}

func (w *X11Watcher) Stop() error {
	log.Println("Sending stop signal to X11 watcher.")
	close(w.stopChan)
	return nil
}
