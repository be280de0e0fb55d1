package alerts

import (
	"context"

	"buildtrack/internal/model"
)

// ListFilter narrows ListAlerts. Nil fields are not applied.
type ListFilter struct {
	ProjectID *int
	UserID    *int
	Status    *model.AlertStatus
	Priority  *model.AlertPriority
}

// Store is the persistence surface of the rule engine. The pgx
// implementation lives in internal/repository; tests inject an in-memory
// fake.
type Store interface {
	// ListSweepProjects returns every non-cancelled project. Completed
	// projects are included so the one-time completion alert can fire.
	ListSweepProjects(ctx context.Context) ([]model.Project, error)
	GetProject(ctx context.Context, projectID int) (*model.Project, error)
	// GetTracker returns (nil, nil) when the project has no tracker yet.
	GetTracker(ctx context.Context, projectID int) (*model.ProjectTracker, error)

	// OpenAlert returns the non-terminal alert for (projectID, ruleKey),
	// or (nil, nil) if none is open.
	OpenAlert(ctx context.Context, projectID int, ruleKey string) (*model.Alert, error)
	// LatestAlert returns the newest alert for (projectID, ruleKey)
	// regardless of status, or (nil, nil).
	LatestAlert(ctx context.Context, projectID int, ruleKey string) (*model.Alert, error)
	ListOpenAlerts(ctx context.Context, projectID int) ([]model.Alert, error)

	// InsertAlert writes a new pending alert and queues an alert.created
	// event in the same transaction.
	InsertAlert(ctx context.Context, a *model.Alert) error
	UpdateAlert(ctx context.Context, a *model.Alert) error

	GetAlert(ctx context.Context, alertID int) (*model.Alert, error)
	ListAlerts(ctx context.Context, f ListFilter) ([]model.Alert, error)
}

// RoleResolver resolves a responsible role to concrete users on a project.
type RoleResolver interface {
	Resolve(ctx context.Context, projectID int, role model.Role) ([]int, error)
}

// Guard serializes sweeps per scope. A nil guard disables the check.
type Guard interface {
	Acquire(ctx context.Context, scope string) bool
	Release(ctx context.Context, scope string)
}
