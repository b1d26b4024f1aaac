package models

import (
	"slices"
	"time"
)

// RunStatus represents the lifecycle state of a run. The terminal states
// admit no further transitions.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run is one execution instance of a graph against a concrete context.
//
// Position is a set of active branch pointers rather than a scalar cursor: a
// fork puts one pointer per branch into ActiveNodes and a join consumes them.
type Run struct {
	ID           string    `json:"id"`
	GraphID      string    `json:"graph_id"      validate:"required"`
	GraphVersion int       `json:"graph_version"`
	Status       RunStatus `json:"status"`
	// ActiveNodes holds the node ids the run is currently positioned at.
	ActiveNodes []string `json:"active_nodes"`
	// JoinArrivals records, per join node, which branch handles have
	// arrived. Arrivals are idempotent.
	JoinArrivals  map[string][]string `json:"join_arrivals,omitempty"`
	Context       map[string]any      `json:"context,omitempty"`
	StartedBy     string              `json:"started_by"`
	FailureReason string              `json:"failure_reason,omitempty"`
	// RequestID is the triggering entity. GroupID is set on sub-process
	// runs and ties them to the task grouping the cascade watches.
	RequestID string `json:"request_id,omitempty"`
	GroupID   string `json:"group_id,omitempty"`
	// Version guards conditional updates (single-writer-per-run).
	Version     int        `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the run reached a state that admits no further
// transitions.
func (r *Run) IsTerminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed || r.Status == RunStatusCancelled
}

// HasActiveNode reports whether nodeID is one of the run's active pointers.
func (r *Run) HasActiveNode(nodeID string) bool {
	return slices.Contains(r.ActiveNodes, nodeID)
}

// RemoveActiveNode drops one pointer at nodeID from the active set.
func (r *Run) RemoveActiveNode(nodeID string) {
	for i, id := range r.ActiveNodes {
		if id == nodeID {
			r.ActiveNodes = slices.Delete(r.ActiveNodes, i, i+1)

			return
		}
	}
}

// RecordJoinArrival marks a branch as arrived at a join node and returns the
// arrival count. Re-arrivals of the same branch are no-ops.
func (r *Run) RecordJoinArrival(joinNodeID, branchID string) int {
	if r.JoinArrivals == nil {
		r.JoinArrivals = make(map[string][]string)
	}

	arrived := r.JoinArrivals[joinNodeID]
	if !slices.Contains(arrived, branchID) {
		arrived = append(arrived, branchID)
		r.JoinArrivals[joinNodeID] = arrived
	}

	return len(arrived)
}

// Log actions appended by the executor.
const (
	LogActionRunStarted        = "run_started"
	LogActionTaskReached       = "task_reached"
	LogActionTaskCompleted     = "task_completed"
	LogActionValidationCreated = "validation_created"
	LogActionValidationDecided = "validation_decided"
	LogActionNotificationSent  = "notification_created"
	LogActionConditionTaken    = "condition_evaluated"
	LogActionForkSpawned       = "fork_spawned"
	LogActionBranchArrived     = "branch_arrived"
	LogActionJoinSatisfied     = "join_satisfied"
	LogActionRunCompleted      = "run_completed"
	LogActionRunFailed         = "run_failed"
	LogActionRunCancelled      = "run_cancelled"
)

// LogEntry is one append-only execution log record. Sequence is assigned by
// the repository at append time and is strictly increasing within a run.
type LogEntry struct {
	RunID     string         `json:"run_id"`
	Sequence  int64          `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
	NodeID    string         `json:"node_id,omitempty"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
}
