package agents

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bxt-team/sevencycles/internal/ai"
	"github.com/bxt-team/sevencycles/pkg/models"
)

// failingText fails on a chosen capability, succeeds otherwise.
type failingText struct {
	stubText
	failOn ai.Capability
}

func (f *failingText) Generate(ctx context.Context, req *ai.Request) (*ai.Response, error) {
	if req.Capability == f.failOn {
		return nil, assert.AnError
	}
	return f.stubText.Generate(ctx, req)
}

func newTestRunner(t *testing.T, text TextGenerator) (*Runner, *Service) {
	t.Helper()
	svc, l, _ := newTestService(t, text)
	grantCredits(t, l, 1, 10000)
	return NewRunner(svc.db, svc), svc
}

func TestStartCreatesPendingRun(t *testing.T) {
	runner, svc := newTestRunner(t, &stubText{})

	run, err := runner.Start(context.Background(), 1, 1, 7, WorkflowAffirmation, WorkflowInput{Topic: "Dankbarkeit"})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPending, run.Status)
	assert.NotEmpty(t, run.RunID)

	var stored models.WorkflowRun
	require.NoError(t, svc.db.Where("run_id = ?", run.RunID).First(&stored).Error)
	assert.Equal(t, uint(7), stored.TriggeredBy)
}

func TestStartRejectsUnknownWorkflow(t *testing.T) {
	runner, _ := newTestRunner(t, &stubText{})

	_, err := runner.Start(context.Background(), 1, 1, 1, "newsletter", WorkflowInput{Topic: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown workflow")
}

func TestStartRequiresTopic(t *testing.T) {
	runner, _ := newTestRunner(t, &stubText{})

	_, err := runner.Start(context.Background(), 1, 1, 1, WorkflowAffirmation, WorkflowInput{})
	require.Error(t, err)
}

func TestExecuteFullCycle(t *testing.T) {
	runner, svc := newTestRunner(t, &stubText{})

	run, err := runner.Start(context.Background(), 1, 1, 1, WorkflowFullCycle, WorkflowInput{Topic: "Neuanfang", Period: 2})
	require.NoError(t, err)
	require.NoError(t, runner.Execute(context.Background(), run.RunID))

	var finished models.WorkflowRun
	require.NoError(t, svc.db.Where("run_id = ?", run.RunID).First(&finished).Error)
	assert.Equal(t, models.RunStatusCompleted, finished.Status)
	assert.NotNil(t, finished.CompletedAt)
	assert.Greater(t, finished.ConsumedCredits, int64(0))

	var steps []StepResult
	require.NoError(t, json.Unmarshal([]byte(finished.Steps), &steps))
	require.Len(t, steps, 3)
	for _, step := range steps {
		assert.Equal(t, "completed", step.Status)
		assert.NotZero(t, step.ArtifactID)
	}
}

func TestExecuteShortCircuitsOnFailure(t *testing.T) {
	// Full cycle fails at its second step, the visual post never runs.
	text := &failingText{failOn: ai.CapabilityInstagramCaption}
	runner, svc := newTestRunner(t, text)

	run, err := runner.Start(context.Background(), 1, 1, 1, WorkflowFullCycle, WorkflowInput{Topic: "Scheitern"})
	require.NoError(t, err)
	require.NoError(t, runner.Execute(context.Background(), run.RunID))

	var finished models.WorkflowRun
	require.NoError(t, svc.db.Where("run_id = ?", run.RunID).First(&finished).Error)
	assert.Equal(t, models.RunStatusFailed, finished.Status)
	assert.NotEmpty(t, finished.Error)

	var steps []StepResult
	require.NoError(t, json.Unmarshal([]byte(finished.Steps), &steps))
	require.Len(t, steps, 3)
	assert.Equal(t, "completed", steps[0].Status)
	assert.Equal(t, "failed", steps[1].Status)
	assert.Equal(t, "skipped", steps[2].Status)
	assert.Equal(t, models.ArtifactVisualPost, steps[2].Name)

	var artifacts []models.ContentArtifact
	require.NoError(t, svc.db.Where("type = ?", models.ArtifactVisualPost).Find(&artifacts).Error)
	assert.Empty(t, artifacts, "later steps must not execute after a failure")
}

func TestExecuteFinishedRunIsNoop(t *testing.T) {
	runner, svc := newTestRunner(t, &stubText{})

	run, err := runner.Start(context.Background(), 1, 1, 1, WorkflowAffirmation, WorkflowInput{Topic: "Ruhe"})
	require.NoError(t, err)
	require.NoError(t, runner.Execute(context.Background(), run.RunID))

	var first models.WorkflowRun
	require.NoError(t, svc.db.Where("run_id = ?", run.RunID).First(&first).Error)

	require.NoError(t, runner.Execute(context.Background(), run.RunID))

	var second models.WorkflowRun
	require.NoError(t, svc.db.Where("run_id = ?", run.RunID).First(&second).Error)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
}

func TestExecuteConvertsAttachedIdea(t *testing.T) {
	runner, svc := newTestRunner(t, &stubText{})

	idea := &models.Idea{ProjectID: 1, Title: "Abendroutine", Status: models.IdeaStatusValidated}
	require.NoError(t, svc.db.Create(idea).Error)

	run, err := runner.Start(context.Background(), 1, 1, 1, WorkflowAffirmation, WorkflowInput{Topic: "Abendroutine", IdeaID: &idea.ID})
	require.NoError(t, err)
	require.NoError(t, runner.Execute(context.Background(), run.RunID))

	var refreshed models.Idea
	require.NoError(t, svc.db.First(&refreshed, idea.ID).Error)
	assert.Equal(t, models.IdeaStatusConverted, refreshed.Status)
}

func TestCancelPendingRun(t *testing.T) {
	runner, svc := newTestRunner(t, &stubText{})

	run, err := runner.Start(context.Background(), 1, 1, 1, WorkflowAffirmation, WorkflowInput{Topic: "Pause"})
	require.NoError(t, err)
	require.NoError(t, runner.Cancel(context.Background(), run.RunID))

	var stored models.WorkflowRun
	require.NoError(t, svc.db.Where("run_id = ?", run.RunID).First(&stored).Error)
	assert.Equal(t, models.RunStatusCanceled, stored.Status)

	// A canceled run cannot be canceled again.
	require.Error(t, runner.Cancel(context.Background(), run.RunID))
}

func TestCancelCompletedRunFails(t *testing.T) {
	runner, _ := newTestRunner(t, &stubText{})

	run, err := runner.Start(context.Background(), 1, 1, 1, WorkflowAffirmation, WorkflowInput{Topic: "Fertig"})
	require.NoError(t, err)
	require.NoError(t, runner.Execute(context.Background(), run.RunID))

	require.Error(t, runner.Cancel(context.Background(), run.RunID))
}

func TestKnownWorkflow(t *testing.T) {
	assert.True(t, KnownWorkflow(WorkflowFullCycle))
	assert.True(t, KnownWorkflow(WorkflowVideo))
	assert.False(t, KnownWorkflow("tiktok"))
}
