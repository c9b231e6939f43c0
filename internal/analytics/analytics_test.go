package analytics

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReviews() []Review {
	return []Review{
		{Store: "appstore", Rating: 5, Title: "Super App", Text: "Die Affirmationen sind toll und motivierend. Affirmationen helfen mir jeden Morgen."},
		{Store: "appstore", Rating: 4, Text: "Sehr hilfreich, aber die Werbung nervt manchmal. Affirmationen gefallen mir."},
		{Store: "play", Rating: 1, Text: "Absturz nach dem Update, die App ist kaputt."},
		{Store: "play", Rating: 2, Text: "Langsam und teuer, der Absturz kommt immer wieder."},
		{Store: "play", Rating: 5, Text: "Beste App für tägliche Motivation und Affirmationen."},
	}
}

func TestExtractKeywords(t *testing.T) {
	keywords := ExtractKeywords(sampleReviews(), 10)
	require.NotEmpty(t, keywords)

	assert.Equal(t, "affirmationen", keywords[0].Term, "most frequent term leads")
	assert.Equal(t, 4, keywords[0].Count)

	for _, kw := range keywords {
		assert.False(t, stopwords[kw.Term], "stopword %q leaked into keywords", kw.Term)
		assert.GreaterOrEqual(t, kw.Count, 2)
	}
}

func TestExtractKeywordsEmpty(t *testing.T) {
	assert.Empty(t, ExtractKeywords(nil, 10))
}

func TestScoreReviewsMixed(t *testing.T) {
	s := ScoreReviews(sampleReviews())

	assert.Equal(t, 3, s.Positive)
	assert.Equal(t, 2, s.Negative)
	assert.Equal(t, 0, s.Neutral)
	assert.InDelta(t, 0.2, s.Score, 0.001)
}

func TestScoreReviewsUnratedUsesLexicon(t *testing.T) {
	positive := ScoreReviews([]Review{{Text: "Super toll, ich liebe diese App"}})
	assert.Greater(t, positive.Score, 0.0)
	assert.Equal(t, 1, positive.Positive)

	negative := ScoreReviews([]Review{{Text: "Schlecht, crash bug nervig"}})
	assert.Less(t, negative.Score, 0.0)
	assert.Equal(t, 1, negative.Negative)
}

func TestScoreReviewsEmpty(t *testing.T) {
	s := ScoreReviews(nil)
	assert.Zero(t, s.Score)
}

func TestParseAppStoreFeed(t *testing.T) {
	feed := []byte(`{"feed": {"entry": [
		{"author": {"name": {"label": "App Entry"}}, "im:rating": {"label": ""}, "title": {"label": "7 Cycles"}, "content": {"label": "App description"}},
		{"author": {"name": {"label": "Anna"}}, "im:rating": {"label": "5"}, "title": {"label": "Toll"}, "content": {"label": "Beste App"}, "im:version": {"label": "2.1"}, "updated": {"label": "2026-08-01T10:00:00-07:00"}},
		{"author": {"name": {"label": "Ben"}}, "im:rating": {"label": "2"}, "title": {"label": "Naja"}, "content": {"label": "Zu teuer"}}
	]}}`)

	reviews, err := parseAppStoreFeed(feed)
	require.NoError(t, err)
	require.Len(t, reviews, 2, "the app's own entry is skipped")

	assert.Equal(t, "Anna", reviews[0].Author)
	assert.Equal(t, 5, reviews[0].Rating)
	assert.Equal(t, "2.1", reviews[0].Version)
	assert.Equal(t, 2026, reviews[0].Date.Year())
	assert.Equal(t, 2, reviews[1].Rating)
}

func TestFetchAppStore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/de/rss/customerreviews/id=12345/")
		fmt.Fprint(w, `{"feed": {"entry": [
			{"author": {"name": {"label": "Clara"}}, "im:rating": {"label": "4"}, "title": {"label": "Gut"}, "content": {"label": "Hilfreiche Affirmationen"}}
		]}}`)
	}))
	defer server.Close()

	fetcher := NewFetcher()
	fetcher.appStoreURL = server.URL

	reviews, err := fetcher.FetchAppStore(context.Background(), "12345", "")
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, "Clara", reviews[0].Author)
	assert.Equal(t, "appstore", reviews[0].Store)
}

func TestFetchAppStoreHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	fetcher := NewFetcher()
	fetcher.appStoreURL = server.URL

	_, err := fetcher.FetchAppStore(context.Background(), "12345", "de")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}

func TestFormatForPrompt(t *testing.T) {
	out := FormatForPrompt(sampleReviews(), 2)

	assert.Contains(t, out, "[5/5]")
	assert.Contains(t, out, "(Super App)")
	assert.NotContains(t, out, "Absturz nach dem Update", "limit cuts later reviews")
}

func TestFormatForPromptNoLimit(t *testing.T) {
	out := FormatForPrompt(sampleReviews(), 0)
	assert.Contains(t, out, "Absturz nach dem Update")
}
