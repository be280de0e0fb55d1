// Package events defines the routing keys and payloads published on the
// events exchange. Consumers in other services decode the same shapes.
package events

import "time"

const (
	RoutingKeyItemCompleted    = "workflow.item.completed"
	RoutingKeyProjectCompleted = "workflow.project.completed"
	RoutingKeyAlertCreated     = "alert.created"
	RoutingKeyAlertUpdated     = "alert.updated"
)

type ItemCompletedPayload struct {
	ProjectID   int       `json:"project_id"`
	LineItemID  int       `json:"line_item_id"`
	CompletedBy int       `json:"completed_by"`
	CompletedAt time.Time `json:"completed_at"`
	TraceID     string    `json:"trace_id,omitempty"`
}

type ProjectCompletedPayload struct {
	ProjectID   int       `json:"project_id"`
	CompletedAt time.Time `json:"completed_at"`
	TraceID     string    `json:"trace_id,omitempty"`
}

type AlertEventPayload struct {
	AlertID          int    `json:"alert_id"`
	ProjectID        int    `json:"project_id"`
	RuleKey          string `json:"rule_key"`
	Type             string `json:"type"`
	Priority         string `json:"priority"`
	AssignedToUserID *int   `json:"assigned_to_user_id"`
	TraceID          string `json:"trace_id,omitempty"`
}
