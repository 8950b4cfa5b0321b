package feed

import (
	"time"
)

// Item is a candidate entry produced from one feed fetch. Items are
// ephemeral: nothing here is persisted unless the item gets delivered.
type Item struct {
	Title       string
	Summary     string
	Link        string
	PublishedAt *time.Time
}
