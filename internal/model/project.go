package model

import "time"

// ProjectStatus mirrors the project record owned by the external project
// service; the alert engine only reads it.
type ProjectStatus string

const (
	ProjectPending    ProjectStatus = "pending"
	ProjectInProgress ProjectStatus = "in_progress"
	ProjectOnHold     ProjectStatus = "on_hold"
	ProjectCompleted  ProjectStatus = "completed"
	ProjectCancelled  ProjectStatus = "cancelled"
)

type TeamMember struct {
	UserID     int       `json:"user_id"`
	ProjectID  int       `json:"project_id"`
	Role       Role      `json:"role"`
	AssignedAt time.Time `json:"assigned_at"`
}

// Project is the read-side snapshot consumed by the rule engine.
type Project struct {
	ID              int           `json:"id"`
	Name            string        `json:"name"`
	Status          ProjectStatus `json:"status"`
	Progress        int           `json:"progress"` // integer percent, 0..100
	Budget          float64       `json:"budget"`
	ActualCost      float64       `json:"actual_cost"`
	StartDate       *time.Time    `json:"start_date"`
	EndDate         *time.Time    `json:"end_date"`
	StatusChangedAt time.Time     `json:"status_changed_at"`
	TeamMembers     []TeamMember  `json:"team_members"`
}
