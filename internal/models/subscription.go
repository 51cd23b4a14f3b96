package models

import "time"

// Subscription links a subscriber to a feed origin.
type Subscription struct {
	SubscriberID string    `db:"subscriber_id" json:"subscriber"`
	FeedOrigin   string    `db:"feed_url" json:"feedUrl"`
	Categories   string    `db:"categories" json:"categories"`
	CreatedAt    time.Time `db:"created_at" json:"whenCreated"`
}
