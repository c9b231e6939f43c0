package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bxt-team/sevencycles/internal/logging"
)

// Review is a normalized app store review.
type Review struct {
	Store   string    `json:"store"` // play, appstore
	Author  string    `json:"author"`
	Rating  int       `json:"rating"`
	Title   string    `json:"title,omitempty"`
	Text    string    `json:"text"`
	Date    time.Time `json:"date"`
	Version string    `json:"version,omitempty"`
}

// Fetcher pulls public reviews from the app stores.
type Fetcher struct {
	httpClient   *http.Client
	appStoreURL  string
	playStoreURL string
}

// NewFetcher creates a review fetcher against the public endpoints.
func NewFetcher() *Fetcher {
	return &Fetcher{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		appStoreURL:  "https://itunes.apple.com",
		playStoreURL: "https://play.google.com",
	}
}

// FetchAppStore pulls reviews from the public iTunes RSS feed for an
// app ID in the given country storefront.
func (f *Fetcher) FetchAppStore(ctx context.Context, appID, country string) ([]Review, error) {
	if country == "" {
		country = "de"
	}

	endpoint := fmt.Sprintf("%s/%s/rss/customerreviews/id=%s/sortBy=mostRecent/json",
		f.appStoreURL, country, url.PathEscape(appID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("app store fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("app store returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseAppStoreFeed(body)
}

// appStoreFeed mirrors the iTunes RSS JSON. Every value sits under a
// "label" key.
type appStoreFeed struct {
	Feed struct {
		Entry []struct {
			Author struct {
				Name struct {
					Label string `json:"label"`
				} `json:"name"`
			} `json:"author"`
			Rating struct {
				Label string `json:"label"`
			} `json:"im:rating"`
			Title struct {
				Label string `json:"label"`
			} `json:"title"`
			Content struct {
				Label string `json:"label"`
			} `json:"content"`
			Version struct {
				Label string `json:"label"`
			} `json:"im:version"`
			Updated struct {
				Label string `json:"label"`
			} `json:"updated"`
		} `json:"entry"`
	} `json:"feed"`
}

func parseAppStoreFeed(body []byte) ([]Review, error) {
	var feed appStoreFeed
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to parse app store feed: %w", err)
	}

	reviews := make([]Review, 0, len(feed.Feed.Entry))
	for _, entry := range feed.Feed.Entry {
		// The first entry of the feed is the app itself, it has no rating.
		if entry.Rating.Label == "" {
			continue
		}

		review := Review{
			Store:   "appstore",
			Author:  entry.Author.Name.Label,
			Title:   entry.Title.Label,
			Text:    entry.Content.Label,
			Version: entry.Version.Label,
		}
		fmt.Sscanf(entry.Rating.Label, "%d", &review.Rating)
		if ts, err := time.Parse(time.RFC3339, entry.Updated.Label); err == nil {
			review.Date = ts
		}
		reviews = append(reviews, review)
	}
	return reviews, nil
}

// FetchPlayStore scrapes recent reviews from the public Play Store
// listing page. The page embeds review data as escaped JSON; parsing
// is tolerant and returns whatever could be extracted.
func (f *Fetcher) FetchPlayStore(ctx context.Context, packageName, language string) ([]Review, error) {
	if language == "" {
		language = "de"
	}

	endpoint := fmt.Sprintf("%s/store/apps/details?id=%s&hl=%s&showAllReviews=true",
		f.playStoreURL, url.QueryEscape(packageName), url.QueryEscape(language))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; sevencycles/1.0)")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("play store fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("play store returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	reviews := parsePlayStorePage(string(body))
	if len(reviews) == 0 {
		logging.S().Warnw("no reviews extracted from play store page", "package", packageName)
	}
	return reviews, nil
}

// parsePlayStorePage pulls review texts out of the embedded data
// blobs. Google changes this markup regularly, so extraction is best
// effort: quoted strings following review markers.
func parsePlayStorePage(page string) []Review {
	var reviews []Review

	// Review blobs look like ["gp:AOq...", ["Author", ...], ..., rating, ..., "text"]
	for _, chunk := range strings.Split(page, `"gp:`) {
		if len(reviews) >= 50 {
			break
		}
		end := strings.Index(chunk, "]]")
		if end < 0 || end > 4000 {
			continue
		}
		fields := extractQuotedStrings(chunk[:end])
		if len(fields) < 2 {
			continue
		}

		review := Review{
			Store:  "play",
			Author: fields[0],
			Rating: extractRating(chunk[:end]),
		}
		// The longest quoted string in the blob is the review body.
		for _, field := range fields[1:] {
			if len(field) > len(review.Text) {
				review.Text = field
			}
		}
		if review.Text != "" {
			reviews = append(reviews, review)
		}
	}
	return reviews
}

func extractQuotedStrings(s string) []string {
	var out []string
	for {
		start := strings.IndexByte(s, '"')
		if start < 0 {
			break
		}
		s = s[start+1:]
		end := strings.IndexByte(s, '"')
		if end < 0 {
			break
		}
		value := s[:end]
		s = s[end+1:]
		if value != "" && !strings.HasPrefix(value, "http") && !strings.ContainsAny(value, "\\") {
			out = append(out, value)
		}
	}
	return out
}

func extractRating(s string) int {
	// Ratings appear as ",N," with N in 1..5 right after the date array.
	for rating := 5; rating >= 1; rating-- {
		if strings.Contains(s, fmt.Sprintf(",%d,", rating)) {
			return rating
		}
	}
	return 0
}

// FormatForPrompt renders reviews as compact text for the ASO agent.
func FormatForPrompt(reviews []Review, max int) string {
	if max <= 0 || max > len(reviews) {
		max = len(reviews)
	}

	var b strings.Builder
	for i := 0; i < max; i++ {
		r := reviews[i]
		fmt.Fprintf(&b, "[%d/5] %s", r.Rating, strings.TrimSpace(r.Text))
		if r.Title != "" {
			fmt.Fprintf(&b, " (%s)", r.Title)
		}
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}
