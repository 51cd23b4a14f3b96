package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/rs/zerolog/log"

	"reddot-watch/river/internal/database"
	"reddot-watch/river/internal/models"
)

var itemColumns = []string{
	"items.id", "items.feed_url", "items.guid", "items.title", "items.description", "items.link",
	"items.published_at", "items.enclosure_url", "items.enclosure_type", "items.enclosure_length",
	"items.metadata", "items.likes", "items.like_count", "items.like_version",
	"items.created_at", "items.updated_at",
}

// upsertItemSQL replaces content fields keyed by (feed_url, guid). NULL
// parameters keep the stored value. The like columns are never named, so a
// content refresh cannot undo a concurrent like toggle.
const upsertItemSQL = `
INSERT INTO items (feed_url, guid, title, description, link, published_at,
	enclosure_url, enclosure_type, enclosure_length, metadata, created_at, updated_at)
VALUES (?1, ?2, COALESCE(?3, ''), COALESCE(?4, ''), COALESCE(?5, ''), COALESCE(?6, ?11),
	COALESCE(?7, ''), COALESCE(?8, ''), ?9, ?10, ?11, ?11)
ON CONFLICT(feed_url, guid) DO UPDATE SET
	title = COALESCE(?3, items.title),
	description = COALESCE(?4, items.description),
	link = COALESCE(?5, items.link),
	published_at = COALESCE(?6, items.published_at),
	enclosure_url = COALESCE(?7, items.enclosure_url),
	enclosure_type = COALESCE(?8, items.enclosure_type),
	enclosure_length = ?9,
	metadata = COALESCE(?10, items.metadata),
	updated_at = ?11
RETURNING id, created_at = updated_at`

// UpsertResult describes the outcome of one upsert.
type UpsertResult struct {
	ID       int64
	Inserted bool
}

// PageCursor is the position after the last item of a page.
type PageCursor struct {
	CreatedAt time.Time
	ID        int64
}

// ItemStore owns the items and likes tables.
type ItemStore struct {
	db  *database.DB
	now func() time.Time
}

// NewItemStore creates an item store on an open database.
func NewItemStore(db *database.DB) *ItemStore {
	return &ItemStore{db: db, now: utcNow}
}

// Upsert stores in and returns the row id.
func (s *ItemStore) Upsert(ctx context.Context, in models.FetchedItem) (int64, error) {
	res, err := s.UpsertItem(ctx, in)
	return res.ID, err
}

// UpsertItem stores in and reports whether a new row was created.
func (s *ItemStore) UpsertItem(ctx context.Context, in models.FetchedItem) (UpsertResult, error) {
	rec, err := normalizeItem(in)
	if err != nil {
		return UpsertResult{}, &ConstraintError{Op: "upsert item", Err: err}
	}

	var res UpsertResult
	err = s.db.QueryRowxContext(ctx, upsertItemSQL,
		rec.FeedOrigin, rec.GUID, rec.Title, rec.Description, rec.Link, rec.PublishedAt,
		rec.EnclosureURL, rec.EnclosureType, rec.EnclosureLength, rec.Metadata, s.now(),
	).Scan(&res.ID, &res.Inserted)
	if err != nil {
		return UpsertResult{}, writeError(fmt.Sprintf("upsert item %s/%s", rec.FeedOrigin, rec.GUID), err)
	}

	log.Debug().
		Int64("item_id", res.ID).
		Str("feed_url", rec.FeedOrigin).
		Str("guid", rec.GUID).
		Bool("inserted", res.Inserted).
		Msg("Item upserted")
	return res, nil
}

// Get reads one item by id.
func (s *ItemStore) Get(ctx context.Context, id int64) (models.Item, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(itemColumns...).From("items").Where(sb.Equal("items.id", id))
	return s.getOne(ctx, sb)
}

// GetByGUID reads one item by its natural key.
func (s *ItemStore) GetByGUID(ctx context.Context, feedOrigin, guid string) (models.Item, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(itemColumns...).From("items").Where(
		sb.Equal("items.feed_url", feedOrigin),
		sb.Equal("items.guid", guid),
	)
	return s.getOne(ctx, sb)
}

func (s *ItemStore) getOne(ctx context.Context, sb *sqlbuilder.SelectBuilder) (models.Item, error) {
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	var item models.Item
	if err := s.db.GetContext(ctx, &item, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Item{}, ErrNotFound
		}
		return models.Item{}, fmt.Errorf("database query failed: %w", err)
	}
	return item, nil
}

// RecentForFeed returns up to limit of the newest items of one feed, in
// river order.
func (s *ItemStore) RecentForFeed(ctx context.Context, feedOrigin string, limit int) ([]models.Item, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(itemColumns...).
		From("items").
		Where(sb.Equal("items.feed_url", feedOrigin)).
		OrderBy("items.published_at DESC", "items.guid ASC").
		Limit(limit)
	return s.selectItems(ctx, sb)
}

// Page returns items in insertion order after cursor, oldest first. A nil
// cursor starts from since, or from the beginning when since is nil.
func (s *ItemStore) Page(ctx context.Context, limit int, since *time.Time, cursor *PageCursor) ([]models.Item, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(itemColumns...).From("items")

	switch {
	case cursor != nil:
		ts := cursor.CreatedAt.UTC()
		sb.Where(sb.Or(
			sb.GreaterThan("items.created_at", ts),
			sb.And(sb.Equal("items.created_at", ts), sb.GreaterThan("items.id", cursor.ID)),
		))
	case since != nil:
		sb.Where(sb.GreaterThan("items.created_at", since.UTC()))
	}

	sb.OrderBy("items.created_at ASC", "items.id ASC").Limit(limit)
	return s.selectItems(ctx, sb)
}

// LikedBy returns the items a subscriber likes, most recently liked first.
func (s *ItemStore) LikedBy(ctx context.Context, subscriberID string, limit int) ([]models.Item, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(itemColumns...).
		From("likes").
		Join("items", "items.id = likes.item_id").
		Where(sb.Equal("likes.subscriber_id", subscriberID)).
		OrderBy("likes.created_at DESC", "items.id DESC").
		Limit(limit)
	return s.selectItems(ctx, sb)
}

func (s *ItemStore) selectItems(ctx context.Context, sb *sqlbuilder.SelectBuilder) ([]models.Item, error) {
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	items := []models.Item{}
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return items, nil
}

// CompareAndSetLikes writes a new like set for itemID if its like version is
// still expectedVersion, and records the subscriber's like or unlike in the
// likes table in the same transaction. It returns ErrLikeConflict when the
// version moved and ErrNotFound when the item is gone.
func (s *ItemStore) CompareAndSetLikes(ctx context.Context, itemID, expectedVersion int64, likes models.LikeSet, subscriberID string, liked bool) error {
	op := fmt.Sprintf("set likes on item %d", itemID)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return writeError(op, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE items
		SET likes = ?, like_count = ?, like_version = like_version + 1
		WHERE id = ? AND like_version = ?`,
		likes, likes.Len(), itemID, expectedVersion)
	if err != nil {
		return writeError(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return writeError(op, err)
	}
	if affected == 0 {
		var exists int
		err := tx.GetContext(ctx, &exists, "SELECT 1 FROM items WHERE id = ?", itemID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return writeError(op, err)
		}
		return ErrLikeConflict
	}

	if liked {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO likes (item_id, subscriber_id, created_at) VALUES (?, ?, ?)
			ON CONFLICT(item_id, subscriber_id) DO NOTHING`,
			itemID, subscriberID, s.now())
	} else {
		_, err = tx.ExecContext(ctx,
			"DELETE FROM likes WHERE item_id = ? AND subscriber_id = ?", itemID, subscriberID)
	}
	if err != nil {
		return writeError(op, err)
	}

	if err := tx.Commit(); err != nil {
		return writeError(op, err)
	}
	return nil
}

// Purge removes items created before cutoff that nobody likes.
func (s *ItemStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM items WHERE created_at < ? AND like_count = 0", cutoff.UTC())
	if err != nil {
		return 0, writeError("purge items", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		log.Warn().
			Err(err).
			Msg("Could not get RowsAffected after purging items")
		return 0, nil
	}
	return rowsAffected, nil
}
