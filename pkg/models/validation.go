package models

import "time"

// ValidationStatus is the lifecycle of one approval gate occurrence.
type ValidationStatus string

const (
	ValidationPending  ValidationStatus = "pending"
	ValidationApproved ValidationStatus = "approved"
	ValidationRejected ValidationStatus = "rejected"
)

// Decision is the outcome a decider hands to the gate.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ValidationInstance is one approval gate occurrence tied to a run and a
// validation node. It is created when the executor enters the node and
// mutated exactly once, by a decision.
type ValidationInstance struct {
	ID           string       `json:"id"`
	RunID        string       `json:"run_id"  validate:"required"`
	NodeID       string       `json:"node_id" validate:"required"`
	ApproverType ApproverType `json:"approver_type"`
	// ApproverID is nil when resolution failed; the instance is then
	// surfaced to the whole department and must be assigned before a
	// decision.
	ApproverID      *string          `json:"approver_id,omitempty"`
	DepartmentID    string           `json:"department_id,omitempty"`
	Status          ValidationStatus `json:"status"`
	DueAt           *time.Time       `json:"due_at,omitempty"`
	ReminderAt      *time.Time       `json:"reminder_at,omitempty"`
	OnTimeoutAction TimeoutAction    `json:"on_timeout_action,omitempty"`
	DecidedBy       string           `json:"decided_by,omitempty"`
	DecidedAt       *time.Time       `json:"decided_at,omitempty"`
	DecisionComment string           `json:"decision_comment,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// IsDecided reports whether the instance already received its one decision.
func (v *ValidationInstance) IsDecided() bool {
	return v.Status != ValidationPending
}
