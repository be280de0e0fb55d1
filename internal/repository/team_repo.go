package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"buildtrack/internal/model"
)

// TeamRepository reads the external team assignment data for role
// resolution.
type TeamRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewTeamRepository(db *pgxpool.Pool, logger *zap.Logger) *TeamRepository {
	return &TeamRepository{db: db, logger: logger}
}

func (r *TeamRepository) ListByProjectAndRole(ctx context.Context, projectID int, role model.Role) ([]model.TeamMember, error) {
	query := `
        SELECT user_id, project_id, role, assigned_at
        FROM team_members
        WHERE project_id = $1 AND role = $2
        ORDER BY assigned_at ASC
    `
	rows, err := r.db.Query(ctx, query, projectID, role)
	if err != nil {
		r.logger.Error("Failed to query team members",
			zap.Int("project_id", projectID),
			zap.String("role", string(role)),
			zap.Error(err),
		)
		return nil, err
	}
	defer rows.Close()

	members := []model.TeamMember{}
	for rows.Next() {
		var m model.TeamMember
		if err := rows.Scan(&m.UserID, &m.ProjectID, &m.Role, &m.AssignedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
