package models

import (
	"database/sql"
	"time"
)

// Feed represents a row in the 'feeds' table: one per feed origin, holding
// the last-known metadata and the refresh bookkeeping.
type Feed struct {
	ID                  int64          `db:"id" json:"id"`
	URL                 string         `db:"url" json:"feedUrl"`
	Title               sql.NullString `db:"title" json:"-"`
	Description         sql.NullString `db:"description" json:"-"`
	HTMLURL             sql.NullString `db:"html_url" json:"-"`
	LastCheckedAt       sql.NullTime   `db:"last_checked_at" json:"-"`
	LastSuccessAt       sql.NullTime   `db:"last_success_at" json:"-"`
	LastFailureAt       sql.NullTime   `db:"last_failure_at" json:"-"`
	LastError           sql.NullString `db:"last_error" json:"-"`
	ConsecutiveFailures int            `db:"consecutive_failures" json:"ctConsecutiveErrors"`
	CtChecks            int64          `db:"ct_checks" json:"ctChecks"`
	CtItems             int64          `db:"ct_items" json:"ctItems"`
	CreatedAt           time.Time      `db:"created_at" json:"whenCreated"`
	UpdatedAt           time.Time      `db:"updated_at" json:"whenUpdated"`
}

// FeedInfo is the JSON shape of a Feed served to clients.
type FeedInfo struct {
	FeedURL             string     `json:"feedUrl"`
	Title               string     `json:"title,omitempty"`
	Description         string     `json:"description,omitempty"`
	HTMLURL             string     `json:"htmlUrl,omitempty"`
	LastCheckedAt       *time.Time `json:"whenLastCheck,omitempty"`
	LastSuccessAt       *time.Time `json:"whenLastSuccess,omitempty"`
	LastFailureAt       *time.Time `json:"whenLastError,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	ConsecutiveFailures int        `json:"ctConsecutiveErrors"`
	CtChecks            int64      `json:"ctChecks"`
	CtItems             int64      `json:"ctItems"`
}

// Info converts the row to its client representation.
func (f Feed) Info() FeedInfo {
	return FeedInfo{
		FeedURL:             f.URL,
		Title:               f.Title.String,
		Description:         f.Description.String,
		HTMLURL:             f.HTMLURL.String,
		LastCheckedAt:       nullTimePtr(f.LastCheckedAt),
		LastSuccessAt:       nullTimePtr(f.LastSuccessAt),
		LastFailureAt:       nullTimePtr(f.LastFailureAt),
		LastError:           f.LastError.String,
		ConsecutiveFailures: f.ConsecutiveFailures,
		CtChecks:            f.CtChecks,
		CtItems:             f.CtItems,
	}
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
