package fetch_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reddot-watch/river/internal/fetch"
)

func newReddotFetcher() *fetch.ReddotFetcher {
	return fetch.NewReddotFetcher(fetch.ReddotConfig{
		UserAgent:            "river-test/1.0",
		RequestTimeout:       5 * time.Second,
		MaxItems:             50,
		MaxHeadingLength:     200,
		MaxAge:               24 * time.Hour,
		FutureDriftTolerance: time.Minute,
	})
}

func reddotRSS(items ...string) string {
	body := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Reddot</title><link>https://example.com/</link>`
	for _, item := range items {
		body += "<item>" + item + "</item>"
	}
	return body + "</channel></rss>"
}

func TestReddotFetcher(t *testing.T) {
	recent := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	old := time.Now().Add(-72 * time.Hour).UTC()
	srv := serve(t, http.StatusOK, reddotRSS(
		fmt.Sprintf(`<title>Fresh
			story</title><link>/stories/1</link><description>  Body  </description><pubDate>%s</pubDate>`,
			recent.Format(time.RFC1123Z)),
		fmt.Sprintf(`<title>No link</title><guid isPermaLink="false">x-1</guid><pubDate>%s</pubDate>`,
			recent.Format(time.RFC1123Z)),
		fmt.Sprintf(`<title>Old news</title><link>https://example.com/old</link><pubDate>%s</pubDate>`,
			old.Format(time.RFC1123Z)),
	))

	feed, err := newReddotFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, feed.Items, 1, "items without a link or past the max age are dropped")

	item := feed.Items[0]
	assert.Equal(t, srv.URL, item.FeedOrigin)
	assert.Equal(t, srv.URL+"/stories/1", item.GUID)
	assert.Equal(t, item.GUID, item.Link.String)
	assert.Equal(t, "Fresh story", item.Title.String)
	assert.Equal(t, "Body", item.Description.String)
	assert.True(t, recent.Equal(item.PublishedAt))
	assert.False(t, item.EnclosureURL.Valid)
}

func TestReddotFetcherErrors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantMalformed bool
	}{
		{name: "server error", status: http.StatusInternalServerError, body: "oops"},
		{name: "not found", status: http.StatusNotFound, body: ""},
		{name: "not a feed", status: http.StatusOK, body: "just some text", wantMalformed: true},
		{
			name:          "unreadable dates",
			status:        http.StatusOK,
			body:          reddotRSS(`<title>Story</title><link>https://example.com/1</link><pubDate>whenever</pubDate>`),
			wantMalformed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, tt.status, tt.body)

			_, err := newReddotFetcher().Fetch(context.Background(), srv.URL)
			require.Error(t, err)
			assert.Equal(t, tt.wantMalformed, fetch.IsMalformed(err))
			assert.Equal(t, !tt.wantMalformed, fetch.IsTransient(err))
		})
	}
}

func TestReddotFetcherServerErrorKeepsStatus(t *testing.T) {
	srv := serve(t, http.StatusServiceUnavailable, "busy")

	_, err := newReddotFetcher().Fetch(context.Background(), srv.URL)
	var transient *fetch.TransientFetchError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, http.StatusServiceUnavailable, transient.StatusCode)
}

func TestReddotFetcherUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newReddotFetcher().Fetch(context.Background(), url)
	require.Error(t, err)
	assert.True(t, fetch.IsTransient(err))
}
