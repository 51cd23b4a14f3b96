package models

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

// River is a subscriber's merged view of the newest items across every
// subscribed feed.
type River struct {
	Key        string    `json:"key"`
	Items      []Item    `json:"items"`
	Feeds      []string  `json:"feeds"`
	BuiltAt    time.Time `json:"whenBuilt"`
	Generation uint64    `json:"generation"`
}

// CompareRiverOrder orders items newest first, then by GUID and feed origin
// so that equal timestamps always land in the same place.
func CompareRiverOrder(a, b Item) int {
	if c := b.PublishedAt.Compare(a.PublishedAt); c != 0 {
		return c
	}
	if c := strings.Compare(a.GUID, b.GUID); c != 0 {
		return c
	}
	return cmp.Compare(a.FeedOrigin, b.FeedOrigin)
}

// MergeRiver sorts items into river order and keeps at most limit of them.
// The input slice is not modified.
func MergeRiver(items []Item, limit int) []Item {
	merged := slices.Clone(items)
	slices.SortStableFunc(merged, CompareRiverOrder)
	if limit >= 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	if merged == nil {
		merged = []Item{}
	}
	return merged
}
