package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/bxt-team/sevencycles/internal/logging"
)

const graphBaseURL = "https://graph.facebook.com/v19.0"

// Graph API caps content publishing at 25 posts per account per day.
// The limiter stays under that with headroom for manual posts.
const publishesPerDay = 20

var (
	ErrNotConnected  = errors.New("instagram account not connected")
	ErrTokenExpired  = errors.New("instagram token expired")
	ErrRateLimited   = errors.New("instagram publish rate limited")
	ErrPublishFailed = errors.New("instagram publish failed")
)

// Client talks to the Instagram Graph API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	oauth      *oauth2.Config

	mu       sync.Mutex
	limiters map[string]*rate.Limiter // keyed by IG user id
}

// NewClient creates a Graph API client. appID and appSecret come from
// the Meta developer app, redirectURL is the OAuth callback.
func NewClient(appID, appSecret, redirectURL string) *Client {
	return &Client{
		baseURL:    graphBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		oauth: &oauth2.Config{
			ClientID:     appID,
			ClientSecret: appSecret,
			RedirectURL:  redirectURL,
			Scopes: []string{
				"instagram_basic",
				"instagram_content_publish",
				"pages_show_list",
			},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://www.facebook.com/v19.0/dialog/oauth",
				TokenURL: graphBaseURL + "/oauth/access_token",
			},
		},
		limiters: make(map[string]*rate.Limiter),
	}
}

// AuthURL returns the OAuth consent URL for the connect flow.
func (c *Client) AuthURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// ExchangeCode trades the OAuth callback code for an access token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("oauth exchange failed: %w", err)
	}
	return token, nil
}

// AccountInfo is the connected IG business account.
type AccountInfo struct {
	IGUserID string
	Username string
}

// ResolveAccount finds the IG business account behind the token by
// walking the user's pages.
func (c *Client) ResolveAccount(ctx context.Context, accessToken string) (*AccountInfo, error) {
	var pages struct {
		Data []struct {
			ID               string `json:"id"`
			InstagramAccount *struct {
				ID string `json:"id"`
			} `json:"instagram_business_account"`
		} `json:"data"`
	}
	params := url.Values{
		"fields":       {"id,instagram_business_account"},
		"access_token": {accessToken},
	}
	if err := c.get(ctx, "/me/accounts", params, &pages); err != nil {
		return nil, err
	}

	for _, page := range pages.Data {
		if page.InstagramAccount == nil {
			continue
		}

		var profile struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		}
		params := url.Values{
			"fields":       {"id,username"},
			"access_token": {accessToken},
		}
		if err := c.get(ctx, "/"+page.InstagramAccount.ID, params, &profile); err != nil {
			return nil, err
		}
		return &AccountInfo{IGUserID: profile.ID, Username: profile.Username}, nil
	}

	return nil, errors.New("no instagram business account linked to this user")
}

// PublishImage runs the two-step container flow: create a media
// container, then publish it. Returns the published media id.
func (c *Client) PublishImage(ctx context.Context, igUserID, accessToken, imageURL, caption string) (string, error) {
	if igUserID == "" || accessToken == "" {
		return "", ErrNotConnected
	}
	if !c.allow(igUserID) {
		return "", ErrRateLimited
	}

	var container struct {
		ID string `json:"id"`
	}
	params := url.Values{
		"image_url":    {imageURL},
		"caption":      {caption},
		"access_token": {accessToken},
	}
	if err := c.post(ctx, fmt.Sprintf("/%s/media", igUserID), params, &container); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	var published struct {
		ID string `json:"id"`
	}
	params = url.Values{
		"creation_id":  {container.ID},
		"access_token": {accessToken},
	}
	if err := c.post(ctx, fmt.Sprintf("/%s/media_publish", igUserID), params, &published); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	logging.S().Infow("instagram media published",
		"ig_user_id", igUserID, "media_id", published.ID)
	return published.ID, nil
}

// PublishThreads posts text to Threads through the same container
// flow on the Threads API host.
func (c *Client) PublishThreads(ctx context.Context, igUserID, accessToken, text string) (string, error) {
	if igUserID == "" || accessToken == "" {
		return "", ErrNotConnected
	}
	if !c.allow(igUserID) {
		return "", ErrRateLimited
	}

	var container struct {
		ID string `json:"id"`
	}
	params := url.Values{
		"media_type":   {"TEXT"},
		"text":         {text},
		"access_token": {accessToken},
	}
	if err := c.post(ctx, fmt.Sprintf("/%s/threads", igUserID), params, &container); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	var published struct {
		ID string `json:"id"`
	}
	params = url.Values{
		"creation_id":  {container.ID},
		"access_token": {accessToken},
	}
	if err := c.post(ctx, fmt.Sprintf("/%s/threads_publish", igUserID), params, &published); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	return published.ID, nil
}

// allow checks the per-account publish limiter, creating it lazily.
func (c *Client) allow(igUserID string) bool {
	c.mu.Lock()
	limiter, ok := c.limiters[igUserID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(24*time.Hour/publishesPerDay), 3)
		c.limiters[igUserID] = limiter
	}
	c.mu.Unlock()
	return limiter.Allow()
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
				Code    int    `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			if apiErr.Error.Code == 190 {
				return ErrTokenExpired
			}
			return fmt.Errorf("graph api error %d: %s", apiErr.Error.Code, apiErr.Error.Message)
		}
		return fmt.Errorf("graph api status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(body, &out); err != nil {
			return fmt.Errorf("failed to parse graph response: %w", err)
		}
	}
	return nil
}
