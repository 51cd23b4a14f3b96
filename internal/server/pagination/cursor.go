// Package pagination encodes the opaque cursors handed to API clients.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const cursorSeparator = ","
const timeFormat = time.RFC3339Nano

// Cursor is the position of the last item a client has seen: its creation
// time and id, which together order the item log.
type Cursor struct {
	CreatedAt time.Time
	ID        int64
}

// Encode returns the opaque form of c.
func (c Cursor) Encode() string {
	key := fmt.Sprintf("%s%s%d", c.CreatedAt.UTC().Format(timeFormat), cursorSeparator, c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

// Decode parses a cursor produced by Encode.
func Decode(encoded string) (Cursor, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	ts, idStr, ok := strings.Cut(string(decoded), cursorSeparator)
	if !ok {
		return Cursor{}, fmt.Errorf("invalid cursor format")
	}

	createdAt, err := time.Parse(timeFormat, ts)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid timestamp in cursor: %w", err)
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return Cursor{}, fmt.Errorf("invalid id in cursor: %q", idStr)
	}

	return Cursor{CreatedAt: createdAt.UTC(), ID: id}, nil
}
