package publisher

import (
	"context"
	"time"

	"github.com/itambient/feedpost/app/feed"
	"github.com/itambient/feedpost/app/sources"
)

// Ledger is the durable publication record consulted and updated during a
// cycle. Any error from it aborts the cycle: dedup and rate state cannot be
// partially trusted.
type Ledger interface {
	Exists(rawURL string) (bool, error)
	Record(rawURL, title string) error
	CountSince(windowStart time.Time) (int, error)
	CountSinceByDomain(domain string, windowStart time.Time) (int, error)
	Prune(cutoff time.Time) (int64, error)
}

// SourceLoader provides the current source list, re-read every cycle.
type SourceLoader interface {
	Load() ([]sources.Source, error)
}

// Fetcher retrieves candidate items from one feed endpoint.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]feed.Item, error)
}

// Deliverer sends one formatted message to the destination channel.
type Deliverer interface {
	Send(ctx context.Context, text string) error
}
