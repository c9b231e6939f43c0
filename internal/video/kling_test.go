package video

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient("test-key")
	client.baseURL = server.URL
	client.pollInterval = 5 * time.Millisecond
	client.maxWait = time.Second
	return client
}

func TestGenerateVideoSucceedsAfterPolling(t *testing.T) {
	polls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			fmt.Fprint(w, `{"code": 0, "data": {"task_id": "task_1", "task_status": "submitted"}}`)
			return
		}
		polls++
		if polls < 3 {
			fmt.Fprint(w, `{"code": 0, "data": {"task_id": "task_1", "task_status": "processing"}}`)
			return
		}
		fmt.Fprint(w, `{"code": 0, "data": {"task_id": "task_1", "task_status": "succeed",
			"task_result": {"videos": [{"url": "https://cdn.kling.com/v/task_1.mp4", "duration": "5"}]}}}`)
	})

	url, err := client.GenerateVideo(context.Background(), "Sonnenaufgang über den Bergen")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.kling.com/v/task_1.mp4", url)
	assert.GreaterOrEqual(t, polls, 3)
}

func TestGenerateVideoTaskFails(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"code": 0, "data": {"task_id": "task_2", "task_status": "submitted"}}`)
			return
		}
		fmt.Fprint(w, `{"code": 0, "data": {"task_id": "task_2", "task_status": "failed"}}`)
	})

	_, err := client.GenerateVideo(context.Background(), "script")
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestGenerateVideoSubmitRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code": 1102, "message": "insufficient balance", "data": {}}`)
	})

	_, err := client.GenerateVideo(context.Background(), "script")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Contains(t, err.Error(), "insufficient balance")
}

func TestGenerateVideoContextCancel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"code": 0, "data": {"task_id": "task_3", "task_status": "submitted"}}`)
			return
		}
		fmt.Fprint(w, `{"code": 0, "data": {"task_id": "task_3", "task_status": "processing"}}`)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := client.GenerateVideo(ctx, "script")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGenerateVideoAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message": "invalid api key"}`)
	})

	_, err := client.GenerateVideo(context.Background(), "script")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestNilClientNotConfigured(t *testing.T) {
	var client *Client
	_, err := client.GenerateVideo(context.Background(), "script")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNewClientRequiresKey(t *testing.T) {
	assert.Nil(t, NewClient(""))
	assert.NotNil(t, NewClient("key"))
}
