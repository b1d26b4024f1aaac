// Package web provides HTTP request and response types for the process API.
package web

import (
	"time"

	"github.com/dailos/tramite/pkg/graph"
	"github.com/dailos/tramite/pkg/models"
)

// CreateGraphRequest represents the request body for creating a graph. One
// of Definition, Steps or Branches selects the build mode: raw definition,
// linear template or fork/join template.
type CreateGraphRequest struct {
	Name       string             `json:"name"                 validate:"required_without=Definition,omitempty,min=3"`
	Definition map[string]any     `json:"definition,omitempty"`
	Steps      []graph.TaskSpec   `json:"steps,omitempty"`
	Approver   *ApproverSpec      `json:"approver,omitempty"   validate:"required_with=Steps"`
	Branches   []graph.BranchSpec `json:"branches,omitempty"`
}

// ApproverSpec configures the validation node of a linear template.
type ApproverSpec struct {
	ApproverType  models.ApproverType  `json:"approver_type"             validate:"required,oneof=fixed_user requester_manager target_manager department role"`
	ApproverID    *string              `json:"approver_id,omitempty"`
	SLAHours      int                  `json:"sla_hours"                 validate:"min=0"`
	ReminderHours int                  `json:"reminder_hours"            validate:"min=0"`
	OnTimeout     models.TimeoutAction `json:"on_timeout_action,omitempty" validate:"omitempty,oneof=remind escalate auto_skip"`
}

// InsertTaskRequest represents the request body for inserting a task before
// an existing node. The edit produces a new graph version.
type InsertTaskRequest struct {
	AnchorNodeID string `json:"anchor_node_id"   validate:"required"`
	Name         string `json:"name"             validate:"required,min=1"`
	TemplateID   string `json:"task_template_id"`
	DurationDays int    `json:"duration_days"    validate:"min=0"`
}

// StartRunRequest represents the request body for starting a run directly
// against a graph.
type StartRunRequest struct {
	GraphID   string         `json:"graph_id"   validate:"required"`
	StartedBy string         `json:"started_by" validate:"required"`
	Context   map[string]any `json:"context,omitempty"`
}

// CompleteNodeRequest carries the optional actor of a task completion.
type CompleteNodeRequest struct {
	CompletedBy string `json:"completed_by,omitempty"`
}

// BranchArrivedRequest signals an external branch arrival at a join node.
type BranchArrivedRequest struct {
	BranchID string `json:"branch_id" validate:"required"`
}

// CancelRunRequest carries the actor of a cancellation.
type CancelRunRequest struct {
	CancelledBy string `json:"cancelled_by,omitempty"`
}

// DecideValidationRequest represents an approver's decision.
type DecideValidationRequest struct {
	Decision  models.Decision `json:"decision"   validate:"required,oneof=approved rejected"`
	Comment   string          `json:"comment,omitempty"`
	DecidedBy string          `json:"decided_by" validate:"required"`
}

// CreateRequestRequest opens a draft request.
type CreateRequestRequest struct {
	RequesterID  string `json:"requester_id"  validate:"required"`
	DepartmentID string `json:"department_id,omitempty"`
}

// ApproveRequestRequest moves a request into execution against a graph.
type ApproveRequestRequest struct {
	GraphID string         `json:"graph_id" validate:"required"`
	Context map[string]any `json:"context,omitempty"`
}

// CreateTaskRequest registers a concrete task under a request.
type CreateTaskRequest struct {
	GroupID    string `json:"group_id"`
	TemplateID string `json:"task_template_id"`
	AssigneeID string `json:"assignee_id,omitempty"`
}

// UpdateTaskStatusRequest moves a task through its lifecycle.
type UpdateTaskStatusRequest struct {
	Status models.TaskStatus `json:"status" validate:"required,oneof=pending in_progress done validated"`
}

// RunResponse is the API shape of a run.
type RunResponse struct {
	ID            string              `json:"id"`
	GraphID       string              `json:"graph_id"`
	GraphVersion  int                 `json:"graph_version"`
	Status        models.RunStatus    `json:"status"`
	ActiveNodes   []string            `json:"active_nodes"`
	JoinArrivals  map[string][]string `json:"join_arrivals,omitempty"`
	Context       map[string]any      `json:"context,omitempty"`
	StartedBy     string              `json:"started_by"`
	FailureReason string              `json:"failure_reason,omitempty"`
	RequestID     string              `json:"request_id,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
}

// TransformRunResponse shapes a run for API consumers.
func TransformRunResponse(run *models.Run) RunResponse {
	return RunResponse{
		ID:            run.ID,
		GraphID:       run.GraphID,
		GraphVersion:  run.GraphVersion,
		Status:        run.Status,
		ActiveNodes:   run.ActiveNodes,
		JoinArrivals:  run.JoinArrivals,
		Context:       run.Context,
		StartedBy:     run.StartedBy,
		FailureReason: run.FailureReason,
		RequestID:     run.RequestID,
		CreatedAt:     run.CreatedAt,
		CompletedAt:   run.CompletedAt,
	}
}

// ValidationConfigFromSpec converts the API approver spec to the node
// config used by the builder.
func ValidationConfigFromSpec(spec *ApproverSpec) models.ValidationConfig {
	cfg := models.ValidationConfig{
		ApproverType:    spec.ApproverType,
		ApproverID:      spec.ApproverID,
		SLAHours:        spec.SLAHours,
		ReminderHours:   spec.ReminderHours,
		OnTimeoutAction: spec.OnTimeout,
	}

	if cfg.OnTimeoutAction == "" {
		cfg.OnTimeoutAction = models.TimeoutActionRemind
	}

	return cfg
}
