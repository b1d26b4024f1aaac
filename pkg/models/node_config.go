package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidNodeConfig marks a node config that failed to decode. It
// surfaces through graph loading, so a stored definition that no longer
// parses is rejected like any other malformed graph.
var ErrInvalidNodeConfig = errors.New("invalid node config")

// NodeConfig is the tagged union of per-type node configuration. The concrete
// type is selected by the owning node's Type.
type NodeConfig interface {
	nodeConfig()
}

type TaskConfig struct {
	TaskTemplateID string `json:"task_template_id" validate:"required"`
	DurationDays   int    `json:"duration_days"    validate:"min=0"`
}

// ApproverType enumerates how a validation node resolves its approver.
type ApproverType string

const (
	ApproverFixedUser        ApproverType = "fixed_user"
	ApproverRequesterManager ApproverType = "requester_manager"
	ApproverTargetManager    ApproverType = "target_manager"
	ApproverDepartment       ApproverType = "department"
	ApproverRole             ApproverType = "role"
)

// TimeoutAction is what the external escalation sweep should do when a
// validation passes its due date. Stored, never enforced here.
type TimeoutAction string

const (
	TimeoutActionRemind   TimeoutAction = "remind"
	TimeoutActionEscalate TimeoutAction = "escalate"
	TimeoutActionAutoSkip TimeoutAction = "auto_skip"
)

type ValidationConfig struct {
	ApproverType    ApproverType  `json:"approver_type"      validate:"required,oneof=fixed_user requester_manager target_manager department role"`
	ApproverID      *string       `json:"approver_id,omitempty"`
	SLAHours        int           `json:"sla_hours"          validate:"min=0"`
	ReminderHours   int           `json:"reminder_hours"     validate:"min=0"`
	OnTimeoutAction TimeoutAction `json:"on_timeout_action,omitempty" validate:"omitempty,oneof=remind escalate auto_skip"`
}

// Channel enumerates notification delivery channels.
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
)

type NotificationConfig struct {
	Channels        []Channel `json:"channels"         validate:"required,min=1,dive,oneof=in_app email"`
	RecipientType   string    `json:"recipient_type"   validate:"required,oneof=requester approver department fixed_user"`
	RecipientID     *string   `json:"recipient_id,omitempty"`
	SubjectTemplate string    `json:"subject_template"`
	BodyTemplate    string    `json:"body_template"`
}

type ConditionConfig struct {
	Field    string `json:"field"`
	Operator string `json:"operator" validate:"omitempty,oneof=equals not_equals contains greater_than less_than is_empty is_not_empty"`
	Value    any    `json:"value,omitempty"`
	// Language selects the interpreter: "" or "simple" for the operator
	// form, "expr" for an expression evaluated against the run context.
	Language   string `json:"language,omitempty" validate:"omitempty,oneof=simple expr"`
	Expression string `json:"expression,omitempty"`
}

type ForkConfig struct {
	BranchCount int `json:"branch_count" validate:"required,min=2"`
}

type JoinConfig struct {
	RequiredCount int `json:"required_count" validate:"required,min=1"`
}

type SubProcessConfig struct {
	// GroupID ties the sub-process node to the task grouping watched by the
	// completion cascade.
	GroupID string `json:"group_id"`
}

func (*TaskConfig) nodeConfig()         {}
func (*ValidationConfig) nodeConfig()   {}
func (*NotificationConfig) nodeConfig() {}
func (*ConditionConfig) nodeConfig()    {}
func (*ForkConfig) nodeConfig()         {}
func (*JoinConfig) nodeConfig()         {}
func (*SubProcessConfig) nodeConfig()   {}

// DecodeNodeConfig decodes raw config bytes into the variant matching the
// node type. start and end nodes take no config; any supplied config for them
// is rejected. All failures wrap ErrInvalidNodeConfig.
func DecodeNodeConfig(nodeType NodeType, raw json.RawMessage) (NodeConfig, error) {
	if nodeType == NodeTypeStart || nodeType == NodeTypeEnd {
		if len(raw) > 0 && string(raw) != "null" && string(raw) != "{}" {
			return nil, fmt.Errorf("%w: %s node does not accept config", ErrInvalidNodeConfig, nodeType)
		}

		return nil, nil
	}

	var config NodeConfig

	switch nodeType {
	case NodeTypeTask:
		config = &TaskConfig{}
	case NodeTypeValidation:
		config = &ValidationConfig{}
	case NodeTypeNotification:
		config = &NotificationConfig{}
	case NodeTypeCondition:
		config = &ConditionConfig{}
	case NodeTypeFork:
		config = &ForkConfig{}
	case NodeTypeJoin:
		config = &JoinConfig{}
	case NodeTypeSubProcess:
		config = &SubProcessConfig{}
	default:
		return nil, fmt.Errorf("%w: unknown node type %q", ErrInvalidNodeConfig, nodeType)
	}

	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s node requires config", ErrInvalidNodeConfig, nodeType)
	}

	err := json.Unmarshal(raw, config)
	if err != nil {
		return nil, fmt.Errorf("%w: %s config: %v", ErrInvalidNodeConfig, nodeType, err)
	}

	return config, nil
}
