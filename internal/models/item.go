package models

import (
	"database/sql"
	"time"
)

// Item represents a row in the items table. One row exists per distinct
// (FeedOrigin, GUID).
type Item struct {
	ID              int64     `db:"id" json:"id"`
	FeedOrigin      string    `db:"feed_url" json:"feedUrl"`
	GUID            string    `db:"guid" json:"guid"`
	Title           string    `db:"title" json:"title"`
	Description     string    `db:"description" json:"description"`
	Link            string    `db:"link" json:"link"`
	PublishedAt     time.Time `db:"published_at" json:"pubDate"`
	EnclosureURL    string    `db:"enclosure_url" json:"enclosureUrl,omitempty"`
	EnclosureType   string    `db:"enclosure_type" json:"enclosureType,omitempty"`
	EnclosureLength int64     `db:"enclosure_length" json:"enclosureLength"`
	Metadata        RawJSON   `db:"metadata" json:"metadata,omitempty"`
	LikedBy         LikeSet   `db:"likes" json:"likes"`
	LikeCount       int       `db:"like_count" json:"ctLikes"`
	LikeVersion     int64     `db:"like_version" json:"-"`
	CreatedAt       time.Time `db:"created_at" json:"whenCreated"`
	UpdatedAt       time.Time `db:"updated_at" json:"whenUpdated"`
}

// FetchedItem is a normalized item as handed over by a feed fetcher.
// Optional text fields are NullString so that "absent" never overwrites a
// stored value; EnclosureLength is kept as the raw feed string.
type FetchedItem struct {
	FeedOrigin      string
	GUID            string
	Title           sql.NullString
	Description     sql.NullString
	Link            sql.NullString
	PublishedAt     time.Time
	EnclosureURL    sql.NullString
	EnclosureType   sql.NullString
	EnclosureLength string
	Metadata        map[string]any
}

// FetchedFeed is the result of one successful fetch.
type FetchedFeed struct {
	Title       string
	Description string
	Link        string
	Items       []FetchedItem
}

// Like is a row of the likes table, the per-subscriber log of likes.
type Like struct {
	ItemID       int64     `db:"item_id" json:"itemId"`
	SubscriberID string    `db:"subscriber_id" json:"subscriber"`
	CreatedAt    time.Time `db:"created_at" json:"whenCreated"`
}

// NullableString wraps s as a valid NullString, or an invalid one when s is
// empty.
func NullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
