package pagination_test

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reddot-watch/river/internal/server/pagination"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 30, 0, 123456789, time.FixedZone("CEST", 2*3600))
	c := pagination.Cursor{CreatedAt: at, ID: 42}

	decoded, err := pagination.Decode(c.Encode())
	require.NoError(t, err)
	assert.True(t, at.Equal(decoded.CreatedAt))
	assert.Equal(t, time.UTC, decoded.CreatedAt.Location())
	assert.Equal(t, int64(42), decoded.ID)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	raw := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }

	tests := []struct {
		name   string
		cursor string
	}{
		{name: "not base64", cursor: "!!!"},
		{name: "no separator", cursor: raw("2024-05-01T12:00:00Z")},
		{name: "bad time", cursor: raw("yesterday,5")},
		{name: "bad id", cursor: raw("2024-05-01T12:00:00Z,abc")},
		{name: "zero id", cursor: raw("2024-05-01T12:00:00Z,0")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pagination.Decode(tt.cursor)
			assert.Error(t, err)
		})
	}
}
