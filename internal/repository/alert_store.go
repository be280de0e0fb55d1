package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"buildtrack/internal/events"
	"buildtrack/internal/model"
	"buildtrack/internal/service/alerts"
	"buildtrack/pkg/metrics"
	"buildtrack/pkg/outbox"
	"buildtrack/pkg/trace"
)

// AlertStore is the pgx implementation of alerts.Store. Alert inserts and
// their alert.created events share a transaction via the outbox.
type AlertStore struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewAlertStore(db *pgxpool.Pool, outboxRepo *outbox.Repository, logger *zap.Logger) *AlertStore {
	return &AlertStore{db: db, outbox: outboxRepo, logger: logger}
}

const projectColumns = `
    id, name, status, progress, budget, actual_cost,
    start_date, end_date, status_changed_at
`

func scanProject(row pgx.Row) (*model.Project, error) {
	var p model.Project
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Status,
		&p.Progress,
		&p.Budget,
		&p.ActualCost,
		&p.StartDate,
		&p.EndDate,
		&p.StatusChangedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *AlertStore) ListSweepProjects(ctx context.Context) ([]model.Project, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "projects", time.Since(start)) }()

	query := `SELECT ` + projectColumns + ` FROM projects WHERE status <> $1 ORDER BY id`
	rows, err := s.db.Query(ctx, query, model.ProjectCancelled)
	if err != nil {
		s.logger.Error("Failed to query sweep projects", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var projects []model.Project
	ids := []int{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	members, err := s.listTeamMembers(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range projects {
		projects[i].TeamMembers = members[projects[i].ID]
	}
	return projects, nil
}

func (s *AlertStore) GetProject(ctx context.Context, projectID int) (*model.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	p, err := scanProject(s.db.QueryRow(ctx, query, projectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, alerts.ErrProjectNotFound
		}
		s.logger.Error("Failed to query project",
			zap.Int("project_id", projectID),
			zap.Error(err),
		)
		return nil, err
	}

	members, err := s.listTeamMembers(ctx, []int{projectID})
	if err != nil {
		return nil, err
	}
	p.TeamMembers = members[projectID]
	return p, nil
}

func (s *AlertStore) listTeamMembers(ctx context.Context, projectIDs []int) (map[int][]model.TeamMember, error) {
	byProject := make(map[int][]model.TeamMember, len(projectIDs))
	if len(projectIDs) == 0 {
		return byProject, nil
	}

	query := `
        SELECT user_id, project_id, role, assigned_at
        FROM team_members
        WHERE project_id = ANY($1)
        ORDER BY project_id, assigned_at
    `
	rows, err := s.db.Query(ctx, query, projectIDs)
	if err != nil {
		s.logger.Error("Failed to query team members", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m model.TeamMember
		if err := rows.Scan(&m.UserID, &m.ProjectID, &m.Role, &m.AssignedAt); err != nil {
			return nil, err
		}
		byProject[m.ProjectID] = append(byProject[m.ProjectID], m)
	}
	return byProject, rows.Err()
}

func (s *AlertStore) GetTracker(ctx context.Context, projectID int) (*model.ProjectTracker, error) {
	query := `SELECT ` + trackerColumns + ` FROM project_trackers WHERE project_id = $1`
	t, err := scanTracker(s.db.QueryRow(ctx, query, projectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Project not yet in the workflow; tracker-based rules skip it.
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

const alertColumns = `
    id, project_id, line_item_id, section_id, phase_id, rule_key, type,
    priority, title, message, status, assigned_to_user_id, due_date,
    action_data, created_at, updated_at
`

func scanAlert(row pgx.Row) (*model.Alert, error) {
	var a model.Alert
	err := row.Scan(
		&a.ID,
		&a.ProjectID,
		&a.LineItemID,
		&a.SectionID,
		&a.PhaseID,
		&a.RuleKey,
		&a.Type,
		&a.Priority,
		&a.Title,
		&a.Message,
		&a.Status,
		&a.AssignedToUserID,
		&a.DueDate,
		&a.ActionData,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *AlertStore) OpenAlert(ctx context.Context, projectID int, ruleKey string) (*model.Alert, error) {
	query := `
        SELECT ` + alertColumns + `
        FROM alerts
        WHERE project_id = $1 AND rule_key = $2 AND status NOT IN ($3, $4)
        ORDER BY created_at DESC
        LIMIT 1
    `
	a, err := scanAlert(s.db.QueryRow(ctx, query, projectID, ruleKey, model.AlertCompleted, model.AlertDismissed))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

func (s *AlertStore) LatestAlert(ctx context.Context, projectID int, ruleKey string) (*model.Alert, error) {
	query := `
        SELECT ` + alertColumns + `
        FROM alerts
        WHERE project_id = $1 AND rule_key = $2
        ORDER BY created_at DESC
        LIMIT 1
    `
	a, err := scanAlert(s.db.QueryRow(ctx, query, projectID, ruleKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

func (s *AlertStore) ListOpenAlerts(ctx context.Context, projectID int) ([]model.Alert, error) {
	query := `
        SELECT ` + alertColumns + `
        FROM alerts
        WHERE project_id = $1 AND status NOT IN ($2, $3)
        ORDER BY created_at ASC
    `
	rows, err := s.db.Query(ctx, query, projectID, model.AlertCompleted, model.AlertDismissed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alertsOut := []model.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alertsOut = append(alertsOut, *a)
	}
	return alertsOut, rows.Err()
}

func (s *AlertStore) InsertAlert(ctx context.Context, a *model.Alert) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
        INSERT INTO alerts
            (project_id, line_item_id, section_id, phase_id, rule_key, type,
             priority, title, message, status, assigned_to_user_id, due_date,
             action_data, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
        RETURNING id
    `
	err = tx.QueryRow(ctx, query,
		a.ProjectID,
		a.LineItemID,
		a.SectionID,
		a.PhaseID,
		a.RuleKey,
		a.Type,
		a.Priority,
		a.Title,
		a.Message,
		a.Status,
		a.AssignedToUserID,
		a.DueDate,
		a.ActionData,
		a.CreatedAt,
		a.UpdatedAt,
	).Scan(&a.ID)
	if err != nil {
		s.logger.Error("Failed to insert alert",
			zap.Int("project_id", a.ProjectID),
			zap.String("rule_key", a.RuleKey),
			zap.Error(err),
		)
		return err
	}

	aggregateID := int64(a.ProjectID)
	payload := events.AlertEventPayload{
		AlertID:          a.ID,
		ProjectID:        a.ProjectID,
		RuleKey:          a.RuleKey,
		Type:             string(a.Type),
		Priority:         string(a.Priority),
		AssignedToUserID: a.AssignedToUserID,
		TraceID:          trace.FromContext(ctx),
	}
	if err := outbox.InsertEventInTx(ctx, tx, s.outbox, "alert", &aggregateID, events.RoutingKeyAlertCreated, payload); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.logger.Info("Alert inserted",
		zap.Int("alert_id", a.ID),
		zap.Int("project_id", a.ProjectID),
		zap.String("rule_key", a.RuleKey),
	)
	return nil
}

func (s *AlertStore) UpdateAlert(ctx context.Context, a *model.Alert) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
        UPDATE alerts
        SET priority = $1, title = $2, message = $3, status = $4,
            assigned_to_user_id = $5, due_date = $6, action_data = $7, updated_at = $8
        WHERE id = $9
    `
	tag, err := tx.Exec(ctx, query,
		a.Priority,
		a.Title,
		a.Message,
		a.Status,
		a.AssignedToUserID,
		a.DueDate,
		a.ActionData,
		a.UpdatedAt,
		a.ID,
	)
	if err != nil {
		s.logger.Error("Failed to update alert",
			zap.Int("alert_id", a.ID),
			zap.Error(err),
		)
		return err
	}
	if tag.RowsAffected() == 0 {
		return alerts.ErrAlertNotFound
	}

	aggregateID := int64(a.ProjectID)
	payload := events.AlertEventPayload{
		AlertID:          a.ID,
		ProjectID:        a.ProjectID,
		RuleKey:          a.RuleKey,
		Type:             string(a.Type),
		Priority:         string(a.Priority),
		AssignedToUserID: a.AssignedToUserID,
		TraceID:          trace.FromContext(ctx),
	}
	if err := outbox.InsertEventInTx(ctx, tx, s.outbox, "alert", &aggregateID, events.RoutingKeyAlertUpdated, payload); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *AlertStore) GetAlert(ctx context.Context, alertID int) (*model.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`
	a, err := scanAlert(s.db.QueryRow(ctx, query, alertID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, alerts.ErrAlertNotFound
		}
		return nil, err
	}
	return a, nil
}

func (s *AlertStore) ListAlerts(ctx context.Context, f alerts.ListFilter) ([]model.Alert, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "alerts", time.Since(start)) }()

	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.ProjectID != nil {
		conds = append(conds, "project_id = "+arg(*f.ProjectID))
	}
	if f.UserID != nil {
		conds = append(conds, "assigned_to_user_id = "+arg(*f.UserID))
	}
	if f.Status != nil {
		conds = append(conds, "status = "+arg(*f.Status))
	}
	if f.Priority != nil {
		conds = append(conds, "priority = "+arg(*f.Priority))
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		s.logger.Error("Failed to query alerts", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	alertsOut := []model.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alertsOut = append(alertsOut, *a)
	}
	return alertsOut, rows.Err()
}
