package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"reddot-watch/river/internal/models"
)

// NormalizeEnclosureLength coerces the raw feed value to a non-negative
// integer. Empty, malformed and negative inputs all become 0.
func NormalizeEnclosureLength(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// Some feeds send "1234.0" or "12 345".
		f, ferr := strconv.ParseFloat(strings.ReplaceAll(raw, " ", ""), 64)
		if ferr != nil {
			return 0
		}
		n = int64(f)
	}
	if n < 0 {
		return 0
	}
	return n
}

// itemRecord is a FetchedItem ready to be bound to the upsert statement.
// Invalid Null* fields mean "keep what is stored".
type itemRecord struct {
	FeedOrigin      string
	GUID            string
	Title           sql.NullString
	Description     sql.NullString
	Link            sql.NullString
	PublishedAt     sql.NullTime
	EnclosureURL    sql.NullString
	EnclosureType   sql.NullString
	EnclosureLength int64
	Metadata        sql.NullString
}

func normalizeItem(in models.FetchedItem) (itemRecord, error) {
	rec := itemRecord{
		FeedOrigin:      strings.TrimSpace(in.FeedOrigin),
		GUID:            strings.TrimSpace(in.GUID),
		Title:           in.Title,
		Description:     in.Description,
		Link:            in.Link,
		EnclosureURL:    in.EnclosureURL,
		EnclosureType:   in.EnclosureType,
		EnclosureLength: NormalizeEnclosureLength(in.EnclosureLength),
	}
	if rec.FeedOrigin == "" {
		return rec, fmt.Errorf("feed origin is required")
	}
	if rec.GUID == "" {
		return rec, fmt.Errorf("guid is required")
	}

	if !in.PublishedAt.IsZero() {
		rec.PublishedAt = sql.NullTime{Time: in.PublishedAt.UTC(), Valid: true}
	}

	if in.Metadata != nil {
		data, err := json.Marshal(in.Metadata)
		if err != nil {
			return rec, fmt.Errorf("marshal metadata: %w", err)
		}
		rec.Metadata = sql.NullString{String: string(data), Valid: true}
	}
	return rec, nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}
