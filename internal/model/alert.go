package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type AlertType string

const (
	AlertLeadReady           AlertType = "lead_ready"
	AlertProgressMilestone   AlertType = "progress_milestone"
	AlertOnHold              AlertType = "on_hold"
	AlertProjectCompleted    AlertType = "project_completed"
	AlertDeadlineApproaching AlertType = "deadline_approaching"
	AlertOverdue             AlertType = "overdue"
	AlertBudgetOverrun       AlertType = "budget_overrun"
	AlertTeamAssigned        AlertType = "team_assigned"
	AlertLineItemDue         AlertType = "line_item_due"
)

type AlertPriority string

const (
	PriorityLow    AlertPriority = "low"
	PriorityMedium AlertPriority = "medium"
	PriorityHigh   AlertPriority = "high"
)

type AlertStatus string

const (
	AlertPending   AlertStatus = "pending"
	AlertSent      AlertStatus = "sent"
	AlertRead      AlertStatus = "read"
	AlertCompleted AlertStatus = "completed"
	AlertDismissed AlertStatus = "dismissed"
)

// IsTerminal reports whether no further status transitions are allowed.
func (s AlertStatus) IsTerminal() bool {
	return s == AlertCompleted || s == AlertDismissed
}

// Rule dedup keys. At most one non-terminal alert exists per
// (project, rule key); keys with a suffix scope the dedup to that bucket,
// user or line item.
const (
	RuleKeyLeadReady        = "LEAD_READY"
	RuleKeyOnHold           = "ON_HOLD"
	RuleKeyProjectCompleted = "PROJECT_COMPLETED"
	RuleKeyDeadline         = "DEADLINE"
	RuleKeyOverdue          = "OVERDUE"
	RuleKeyBudgetOverrun    = "BUDGET_OVERRUN"
)

func RuleKeyProgressMilestone(bucket string) string {
	return fmt.Sprintf("PROGRESS_MILESTONE:%s", bucket)
}

func RuleKeyTeamAssigned(userID int) string {
	return fmt.Sprintf("TEAM_ASSIGNED:%d", userID)
}

func RuleKeyLineItemDue(lineItemID int) string {
	return fmt.Sprintf("LINE_ITEM_DUE:%d", lineItemID)
}

// Alert is one rule-engine finding. It is created pending, marked sent when
// delivered downstream, read on acknowledgement, and ends completed or
// dismissed.
type Alert struct {
	ID               int             `json:"id"`
	ProjectID        int             `json:"project_id"`
	LineItemID       *int            `json:"line_item_id,omitempty"`
	SectionID        *int            `json:"section_id,omitempty"`
	PhaseID          *int            `json:"phase_id,omitempty"`
	RuleKey          string          `json:"rule_key"`
	Type             AlertType       `json:"type"`
	Priority         AlertPriority   `json:"priority"`
	Title            string          `json:"title"`
	Message          string          `json:"message"`
	Status           AlertStatus     `json:"status"`
	AssignedToUserID *int            `json:"assigned_to_user_id"`
	DueDate          *time.Time      `json:"due_date,omitempty"`
	ActionData       json.RawMessage `json:"action_data,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
