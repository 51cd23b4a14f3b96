package importsubs_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reddot-watch/river/internal/database"
	importsubs "reddot-watch/river/internal/import"
	"reddot-watch/river/internal/storage"
)

func newStore(t *testing.T) *storage.SubscriptionStore {
	t.Helper()
	db, err := database.NewDB(database.NewConfig(filepath.Join(t.TempDir(), "river.db")))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return storage.NewSubscriptionStore(db)
}

func TestImportFrom(t *testing.T) {
	tests := []struct {
		name     string
		csv      string
		imported int
		errors   int
		wantErr  bool
	}{
		{
			name:     "all valid",
			csv:      "subscriber,url,categories\nalice,https://a.example/rss,news\nbob,https://b.example/rss,\n",
			imported: 2,
		},
		{
			name:     "columns in any order and case",
			csv:      "URL,Subscriber\nhttps://a.example/rss,alice\n",
			imported: 1,
		},
		{
			name:     "rows without subscriber are reported",
			csv:      "subscriber,url\n,https://a.example/rss\nalice,https://a.example/rss\n\n",
			imported: 1,
			errors:   1,
		},
		{
			name:    "missing url column",
			csv:     "subscriber,feed\nalice,https://a.example/rss\n",
			wantErr: true,
		},
		{
			name:    "empty input",
			csv:     "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			im := importsubs.NewImporter(newStore(t), "")
			summary, err := im.ImportFrom(context.Background(), strings.NewReader(tt.csv))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.imported, summary.Imported)
			assert.Len(t, summary.Errors, tt.errors)
		})
	}
}

func TestImportStoresSubscriptions(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	path := filepath.Join(t.TempDir(), "subs.csv")
	require.NoError(t, os.WriteFile(path, []byte("subscriber,url,categories\nalice,f1,news\nalice,f2,\nalice,f1,tech\n"), 0o644))

	summary, err := importsubs.NewImporter(store, "").Import(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Rows)
	assert.Equal(t, 3, summary.Imported)

	subs, err := store.ListSubscriptions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, subs, 2)

	origins, err := store.FeedOriginsFor(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"f1", "f2"}, origins)
}

func TestImportDownloadsMissingFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("subscriber,url\nbob,f9\n"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "subs.csv")
	summary, err := importsubs.NewImporter(newStore(t), srv.URL).Import(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Imported)
	assert.FileExists(t, path)
}

func TestImportMissingFile(t *testing.T) {
	_, err := importsubs.NewImporter(newStore(t), "").Import(context.Background(), filepath.Join(t.TempDir(), "none.csv"))
	assert.Error(t, err)
}
