package model

import "time"

// TrackerStatus is the lifecycle state of a project's workflow tracker.
type TrackerStatus string

const (
	TrackerActive    TrackerStatus = "active"
	TrackerCompleted TrackerStatus = "completed"
)

// ProjectTracker is the per-project pointer into the workflow template.
// Pointers are nil only when Status is completed.
type ProjectTracker struct {
	ProjectID         int           `json:"project_id"`
	CurrentPhaseID    *int          `json:"current_phase_id"`
	CurrentSectionID  *int          `json:"current_section_id"`
	CurrentLineItemID *int          `json:"current_line_item_id"`
	Status            TrackerStatus `json:"status"`
	StartedAt         time.Time     `json:"started_at"`
	ItemActivatedAt   time.Time     `json:"item_activated_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// CompletedItem is one append-only completion log entry. At most one row
// exists per (project_id, line_item_id), enforced by a unique constraint.
type CompletedItem struct {
	ID          int       `json:"id"`
	ProjectID   int       `json:"project_id"`
	LineItemID  int       `json:"line_item_id"`
	CompletedAt time.Time `json:"completed_at"`
	CompletedBy int       `json:"completed_by"`
	Notes       string    `json:"notes"`
}
