package collector

import (
	"context"
	"time"
)

// Navigation is a page-visit observation produced by a collector. It mirrors
// what a browser-extension bridge would report over the socket.
type Navigation struct {
	URL   string
	Title string
	At    time.Time
}

// Collector watches the desktop for browser activity and reports
// navigations. It is an optional secondary source; socket-reported
// navigations always take precedence.
type Collector interface {
	Start(ctx context.Context, interval time.Duration, output chan<- Navigation) error
	Stop() error
}
