// Package content provides the item catalog consumed by the ranking engines.
// Items are read-only from the engine's perspective; publishing and media
// storage live outside this service.
package content

import (
	"errors"
	"time"
)

// ErrItemNotFound is returned when an item id does not exist in the catalog.
var ErrItemNotFound = errors.New("item not found")

// Item is one rankable content item.
type Item struct {
	ID        string    `json:"id"`
	Tags      []string  `json:"tags,omitempty"`
	HotScore  float64   `json:"hot_score"`
	CreatedAt time.Time `json:"created_at"`
}

// HasTag reports whether the item carries the given tag.
func (it *Item) HasTag(tag string) bool {
	for _, t := range it.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
