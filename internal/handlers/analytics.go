package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bxt-team/sevencycles/internal/analytics"
	"github.com/bxt-team/sevencycles/internal/cache"
)

type asoReport struct {
	Store     string              `json:"store"`
	AppID     string              `json:"app_id"`
	Reviews   []analytics.Review  `json:"reviews"`
	Keywords  []analytics.Keyword `json:"keywords"`
	Sentiment analytics.Sentiment `json:"sentiment"`
	FetchedAt time.Time           `json:"fetched_at"`
}

// GetAsoAnalytics fetches recent store reviews and derives keyword and
// sentiment analysis. Results are cached for an hour since the store
// endpoints are slow and rate limited.
func (h *Handler) GetAsoAnalytics(c *gin.Context) {
	project := h.projectInOrg(c)
	if project == nil {
		return
	}

	store := c.DefaultQuery("store", "appstore")
	appID := c.Query("app_id")
	if appID == "" {
		c.JSON(http.StatusBadRequest, fail("app_id is required", "MISSING_APP_ID"))
		return
	}

	ctx := c.Request.Context()

	var report asoReport
	err := h.Cache.GetOrSetJSON(ctx, cache.ReviewsKey(store, appID), time.Hour, &report, func() (interface{}, error) {
		var reviews []analytics.Review
		var err error

		switch store {
		case "appstore":
			country := c.DefaultQuery("country", "de")
			reviews, err = h.Analytics.FetchAppStore(ctx, appID, country)
		case "playstore":
			language := c.DefaultQuery("language", project.Language)
			reviews, err = h.Analytics.FetchPlayStore(ctx, appID, language)
		default:
			c.JSON(http.StatusBadRequest, fail("store must be appstore or playstore", "INVALID_STORE"))
			return nil, errInvalidStore
		}
		if err != nil {
			return nil, err
		}

		return asoReport{
			Store:     store,
			AppID:     appID,
			Reviews:   reviews,
			Keywords:  analytics.ExtractKeywords(reviews, 20),
			Sentiment: analytics.ScoreReviews(reviews),
			FetchedAt: time.Now(),
		}, nil
	})
	if err != nil {
		if err == errInvalidStore {
			return // response already written
		}
		c.JSON(http.StatusBadGateway, fail("failed to fetch reviews: "+err.Error(), "FETCH_FAILED"))
		return
	}

	c.JSON(http.StatusOK, ok(report))
}

var errInvalidStore = &invalidStoreError{}

type invalidStoreError struct{}

func (*invalidStoreError) Error() string { return "invalid store" }
