package roles

import (
	"context"

	"go.uber.org/zap"

	"buildtrack/internal/model"
)

// TeamReader is the read side of the external team assignment data.
type TeamReader interface {
	ListByProjectAndRole(ctx context.Context, projectID int, role model.Role) ([]model.TeamMember, error)
}

// Resolver maps a line item's responsible role to the users currently
// holding that role on a project's team.
type Resolver struct {
	teams  TeamReader
	logger *zap.Logger
}

func NewResolver(teams TeamReader, log *zap.Logger) *Resolver {
	return &Resolver{teams: teams, logger: log}
}

// Resolve returns the user ids holding role on the project. An empty result
// is a warning, not an error: the caller still creates the alert and routes
// it to the unassigned queue.
func (r *Resolver) Resolve(ctx context.Context, projectID int, role model.Role) ([]int, error) {
	members, err := r.teams.ListByProjectAndRole(ctx, projectID, role)
	if err != nil {
		r.logger.Error("Failed to resolve role",
			zap.Int("project_id", projectID),
			zap.String("role", string(role)),
			zap.Error(err),
		)
		return nil, err
	}

	userIDs := make([]int, 0, len(members))
	for _, m := range members {
		userIDs = append(userIDs, m.UserID)
	}

	if len(userIDs) == 0 {
		r.logger.Warn("No user holds the required role; alert will be unassigned",
			zap.Int("project_id", projectID),
			zap.String("role", string(role)),
		)
	}

	return userIDs, nil
}
