package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bxt-team/sevencycles/internal/logging"
	"github.com/bxt-team/sevencycles/pkg/models"
)

// Workflow names
const (
	WorkflowAffirmation   = "affirmation"
	WorkflowInstagramPost = "instagram_post"
	WorkflowVisualPost    = "visual_post"
	WorkflowVideo         = "video"
	WorkflowFullCycle     = "full_cycle"
)

// workflowSteps maps each workflow to its ordered artifact steps.
// Execution is strictly linear: a failed step aborts the run and the
// remaining steps never execute.
var workflowSteps = map[string][]string{
	WorkflowAffirmation:   {models.ArtifactAffirmation},
	WorkflowInstagramPost: {models.ArtifactInstagramPost},
	WorkflowVisualPost:    {models.ArtifactVisualPost},
	WorkflowVideo:         {models.ArtifactVideo},
	WorkflowFullCycle: {
		models.ArtifactAffirmation,
		models.ArtifactInstagramPost,
		models.ArtifactVisualPost,
	},
}

// WorkflowInput is the stored input of a run.
type WorkflowInput struct {
	Topic    string `json:"topic"`
	Period   int    `json:"period,omitempty"`
	Language string `json:"language,omitempty"`
	IdeaID   *uint  `json:"idea_id,omitempty"`
}

// StepResult is one entry of the run audit trail.
type StepResult struct {
	Name        string `json:"name"`
	Status      string `json:"status"` // completed, failed, skipped
	ArtifactID  uint   `json:"artifact_id,omitempty"`
	CacheHit    bool   `json:"cache_hit,omitempty"`
	Credits     int64  `json:"credits"`
	Error       string `json:"error,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// Runner executes content workflows and records their audit trail.
type Runner struct {
	db  *gorm.DB
	svc *Service
}

// NewRunner creates a workflow runner on top of the agent service.
func NewRunner(db *gorm.DB, svc *Service) *Runner {
	return &Runner{db: db, svc: svc}
}

// KnownWorkflow reports whether the name maps to a registered workflow.
func KnownWorkflow(name string) bool {
	_, ok := workflowSteps[name]
	return ok
}

// Start creates a pending run row. Execution happens separately, via
// the background worker or Execute directly.
func (r *Runner) Start(ctx context.Context, orgID, projectID, userID uint, workflow string, input WorkflowInput) (*models.WorkflowRun, error) {
	if !KnownWorkflow(workflow) {
		return nil, fmt.Errorf("unknown workflow: %s", workflow)
	}
	if input.Topic == "" {
		return nil, fmt.Errorf("workflow input requires a topic")
	}

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}

	run := &models.WorkflowRun{
		RunID:          uuid.New().String(),
		ProjectID:      projectID,
		OrganizationID: orgID,
		Workflow:       workflow,
		Status:         models.RunStatusPending,
		Input:          string(inputJSON),
		TriggeredBy:    userID,
	}

	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("failed to create workflow run: %w", err)
	}
	return run, nil
}

// Execute runs a pending workflow to completion. Steps execute in
// order; the first failure marks the run failed and stops.
func (r *Runner) Execute(ctx context.Context, runID string) error {
	var run models.WorkflowRun
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error; err != nil {
		return fmt.Errorf("workflow run %s not found: %w", runID, err)
	}
	if run.IsFinished() {
		return nil
	}

	var input WorkflowInput
	if err := json.Unmarshal([]byte(run.Input), &input); err != nil {
		return r.finish(ctx, &run, models.RunStatusFailed, nil, fmt.Sprintf("invalid input: %v", err))
	}

	now := time.Now()
	run.Status = models.RunStatusRunning
	run.StartedAt = &now
	if err := r.db.WithContext(ctx).Save(&run).Error; err != nil {
		return err
	}

	logging.Run(run.RunID).Infow("workflow started",
		"workflow", run.Workflow, "project_id", run.ProjectID)

	var results []StepResult
	var consumed int64

	steps := workflowSteps[run.Workflow]
	for i, artifactType := range steps {
		stepStart := time.Now()

		artifact, cacheHit, err := r.svc.Generate(ctx, GenerateParams{
			OrganizationID: run.OrganizationID,
			ProjectID:      run.ProjectID,
			Type:           artifactType,
			IdeaID:         input.IdeaID,
			Period:         input.Period,
			Language:       input.Language,
			Inputs:         map[string]string{"topic": input.Topic},
			CreatedBy:      run.TriggeredBy,
		})

		result := StepResult{
			Name:        artifactType,
			DurationMs:  time.Since(stepStart).Milliseconds(),
			CompletedAt: time.Now().UTC().Format(time.RFC3339),
		}

		if err != nil {
			result.Status = "failed"
			result.Error = err.Error()
			results = append(results, result)

			logging.Run(run.RunID).Warnw("workflow step failed, aborting run",
				"step", artifactType, "error", err)

			// The audit trail still names the steps that never ran.
			for _, remaining := range steps[i+1:] {
				results = append(results, StepResult{Name: remaining, Status: "skipped"})
			}

			run.ConsumedCredits = consumed
			return r.finish(ctx, &run, models.RunStatusFailed, results, err.Error())
		}

		result.Status = "completed"
		result.ArtifactID = artifact.ID
		result.CacheHit = cacheHit
		if !cacheHit {
			result.Credits = artifact.CostCredits
			consumed += artifact.CostCredits
		}
		results = append(results, result)
	}

	run.ConsumedCredits = consumed

	// Converting an idea is part of the run when one was attached.
	if input.IdeaID != nil {
		r.convertIdea(ctx, *input.IdeaID)
	}

	return r.finish(ctx, &run, models.RunStatusCompleted, results, "")
}

// Cancel marks a pending run canceled. Running and finished runs are
// left alone.
func (r *Runner) Cancel(ctx context.Context, runID string) error {
	res := r.db.WithContext(ctx).Model(&models.WorkflowRun{}).
		Where("run_id = ? AND status = ?", runID, models.RunStatusPending).
		Update("status", models.RunStatusCanceled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("run %s is not pending", runID)
	}
	return nil
}

func (r *Runner) finish(ctx context.Context, run *models.WorkflowRun, status string, results []StepResult, errMsg string) error {
	now := time.Now()
	run.Status = status
	run.Error = errMsg
	run.CompletedAt = &now
	if results != nil {
		stepsJSON, _ := json.Marshal(results)
		run.Steps = string(stepsJSON)
	}

	if err := r.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	logging.Run(run.RunID).Infow("workflow finished",
		"status", status, "consumed_credits", run.ConsumedCredits)
	return nil
}

func (r *Runner) convertIdea(ctx context.Context, ideaID uint) {
	var idea models.Idea
	if err := r.db.WithContext(ctx).First(&idea, ideaID).Error; err != nil {
		return
	}
	if !idea.CanTransition(models.IdeaStatusConverted) {
		return
	}
	idea.Status = models.IdeaStatusConverted
	if err := r.db.WithContext(ctx).Save(&idea).Error; err != nil {
		logging.S().Warnw("failed to convert idea", "idea_id", ideaID, "error", err)
	}
}
