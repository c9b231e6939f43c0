package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bxt-team/sevencycles/internal/logging"
)

const (
	defaultBaseURL  = "https://api.klingai.com/v1"
	defaultModel    = "kling-v1"
	defaultDuration = 5 // seconds
)

var (
	ErrNotConfigured    = errors.New("video generation is not configured")
	ErrGenerationFailed = errors.New("video generation failed")
	ErrTimeout          = errors.New("video generation timed out")
)

// Client drives async text-to-video generation: submit a task, poll
// until it finishes, return the download URL.
type Client struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	maxWait      time.Duration
}

// NewClient creates a video client. Returns nil when no API key is
// configured so callers can wire it conditionally.
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		pollInterval: 5 * time.Second,
		maxWait:      10 * time.Minute,
	}
}

type createTaskRequest struct {
	Model    string `json:"model_name"`
	Prompt   string `json:"prompt"`
	Duration int    `json:"duration"`
	Mode     string `json:"mode"`
}

type taskResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"` // submitted, processing, succeed, failed
		TaskResult struct {
			Videos []struct {
				URL      string `json:"url"`
				Duration string `json:"duration"`
			} `json:"videos"`
		} `json:"task_result"`
	} `json:"data"`
}

// GenerateVideo submits the script as a generation task and polls
// until the video is ready. Blocks up to maxWait.
func (c *Client) GenerateVideo(ctx context.Context, script string) (string, error) {
	if c == nil {
		return "", ErrNotConfigured
	}

	taskID, err := c.submit(ctx, script)
	if err != nil {
		return "", err
	}

	logging.S().Infow("video task submitted", "task_id", taskID)

	deadline := time.Now().Add(c.maxWait)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return "", fmt.Errorf("%w: task %s", ErrTimeout, taskID)
			}

			status, url, err := c.poll(ctx, taskID)
			if err != nil {
				return "", err
			}
			switch status {
			case "succeed":
				logging.S().Infow("video task finished", "task_id", taskID, "url", url)
				return url, nil
			case "failed":
				return "", fmt.Errorf("%w: task %s", ErrGenerationFailed, taskID)
			}
			// submitted and processing keep polling.
		}
	}
}

func (c *Client) submit(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(createTaskRequest{
		Model:    defaultModel,
		Prompt:   prompt,
		Duration: defaultDuration,
		Mode:     "std",
	})
	if err != nil {
		return "", err
	}

	var resp taskResponse
	if err := c.request(ctx, http.MethodPost, "/videos/text2video", body, &resp); err != nil {
		return "", err
	}
	if resp.Data.TaskID == "" {
		return "", fmt.Errorf("%w: %s", ErrGenerationFailed, resp.Message)
	}
	return resp.Data.TaskID, nil
}

func (c *Client) poll(ctx context.Context, taskID string) (status, url string, err error) {
	var resp taskResponse
	if err := c.request(ctx, http.MethodGet, "/videos/text2video/"+taskID, nil, &resp); err != nil {
		return "", "", err
	}

	status = resp.Data.TaskStatus
	if status == "succeed" {
		if len(resp.Data.TaskResult.Videos) == 0 {
			return "", "", fmt.Errorf("%w: task %s finished without videos", ErrGenerationFailed, taskID)
		}
		url = resp.Data.TaskResult.Videos[0].URL
	}
	return status, url, nil
}

func (c *Client) request(ctx context.Context, method, path string, body []byte, out *taskResponse) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("video api status %d: %s", resp.StatusCode, truncateBody(raw))
	}
	return json.Unmarshal(raw, out)
}

func truncateBody(b []byte) string {
	if len(b) > 200 {
		b = b[:200]
	}
	return string(b)
}
