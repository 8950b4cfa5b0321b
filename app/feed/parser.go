package feed

import (
	"bytes"
	"cmp"
	"fmt"

	"github.com/mmcdole/gofeed"
)

type Parser struct {
	gofeedParser *gofeed.Parser
}

func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
	}
}

// Run parses raw RSS/Atom data into candidate items, preserving feed order.
// Entries without a usable link are dropped.
func (p *Parser) Run(data []byte) ([]Item, error) {
	parsed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	items := make([]Item, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		link := cmp.Or(entry.Link, entry.GUID)
		if link == "" {
			continue
		}

		item := Item{
			Title:   entry.Title,
			Summary: entry.Description,
			Link:    link,
		}
		if entry.PublishedParsed != nil {
			item.PublishedAt = entry.PublishedParsed
		}

		items = append(items, item)
	}

	return items, nil
}
