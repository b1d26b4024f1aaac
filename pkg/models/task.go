package models

import "time"

// TaskStatus is the lifecycle of a concrete task created from a task node.
// done and validated are the terminal states the completion cascade watches.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusValidated  TaskStatus = "validated"
)

// IsTerminal reports whether the status counts as finished for cascade
// purposes.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusDone || s == TaskStatusValidated
}

// Task is a concrete work item owned by a sub-process grouping. Task storage
// is a collaborator; the engine only reads status for the cascade.
type Task struct {
	ID         string     `json:"id"`
	RequestID  string     `json:"request_id"`
	GroupID    string     `json:"group_id"`
	TemplateID string     `json:"template_id,omitempty"`
	AssigneeID string     `json:"assignee_id,omitempty"`
	Status     TaskStatus `json:"status"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// RequestStatus is the lifecycle of the triggering entity a run executes for.
type RequestStatus string

const (
	RequestStatusDraft       RequestStatus = "draft"
	RequestStatusApproved    RequestStatus = "approved"
	RequestStatusInExecution RequestStatus = "in_execution"
	RequestStatusDone        RequestStatus = "done"
)

// Request is the business entity whose approval triggered execution. Stored
// by a collaborator; the cascade only flips it to done.
type Request struct {
	ID           string        `json:"id"`
	RequesterID  string        `json:"requester_id"`
	DepartmentID string        `json:"department_id,omitempty"`
	Status       RequestStatus `json:"status"`
	UpdatedAt    time.Time     `json:"updated_at"`
}
