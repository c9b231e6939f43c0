// Package worker runs content workflows on the River job queue.
package worker

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/bxt-team/sevencycles/internal/agents"
	"github.com/bxt-team/sevencycles/internal/logging"
)

// WorkflowRunArgs carries the run to execute. The run row itself
// holds the workflow and input, the job only needs the id.
type WorkflowRunArgs struct {
	RunID string `json:"run_id"`
}

// Kind returns the unique job type identifier.
func (WorkflowRunArgs) Kind() string { return "workflow_run" }

type workflowWorker struct {
	river.WorkerDefaults[WorkflowRunArgs]
	runner *agents.Runner
}

func (w *workflowWorker) Work(ctx context.Context, job *river.Job[WorkflowRunArgs]) error {
	logging.S().Infow("executing workflow job", "run_id", job.Args.RunID, "attempt", job.Attempt)
	return w.runner.Execute(ctx, job.Args.RunID)
}

// Queue is the interface exposed by both the River client and the
// inline fallback.
type Queue interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	EnqueueRun(ctx context.Context, runID string) error
}

// Client wraps river.Client with a Start/Stop lifecycle.
type Client struct {
	client *river.Client[pgx.Tx]
}

// Start begins processing queued jobs.
func (c *Client) Start(ctx context.Context) error { return c.client.Start(ctx) }

// Stop gracefully shuts down the worker client.
func (c *Client) Stop(ctx context.Context) error { return c.client.Stop(ctx) }

// EnqueueRun queues a workflow run for execution.
func (c *Client) EnqueueRun(ctx context.Context, runID string) error {
	_, err := c.client.Insert(ctx, WorkflowRunArgs{RunID: runID}, nil)
	if err != nil {
		return fmt.Errorf("failed to enqueue workflow run: %w", err)
	}
	return nil
}

// inlineQueue executes runs synchronously in a goroutine. Used for
// sqlite development setups where River is unavailable.
type inlineQueue struct {
	runner *agents.Runner
}

func (q *inlineQueue) Start(_ context.Context) error {
	logging.S().Info("job queue disabled, workflow runs execute inline")
	return nil
}

func (q *inlineQueue) Stop(_ context.Context) error { return nil }

func (q *inlineQueue) EnqueueRun(_ context.Context, runID string) error {
	go func() {
		ctx := context.Background()
		if err := q.runner.Execute(ctx, runID); err != nil {
			logging.S().Errorw("inline workflow execution failed", "run_id", runID, "error", err)
		}
	}()
	return nil
}

// New creates a queue. With a postgres pool it is backed by River;
// without one (sqlite/dev) runs execute inline.
func New(pool *pgxpool.Pool, runner *agents.Runner, concurrency int) (Queue, error) {
	if pool == nil {
		return &inlineQueue{runner: runner}, nil
	}
	if concurrency <= 0 {
		concurrency = 5
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &workflowWorker{runner: runner})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: concurrency},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return &Client{client: client}, nil
}

// Migrate runs River's schema migrations. Only call with postgres.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("run river migrations: %w", err)
	}
	return nil
}
