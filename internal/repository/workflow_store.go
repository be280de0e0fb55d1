package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"buildtrack/internal/model"
	"buildtrack/internal/service/workflow"
	"buildtrack/pkg/metrics"
	"buildtrack/pkg/outbox"
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// WorkflowStore is the pgx implementation of workflow.Store.
type WorkflowStore struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewWorkflowStore(db *pgxpool.Pool, outboxRepo *outbox.Repository, logger *zap.Logger) *WorkflowStore {
	return &WorkflowStore{db: db, outbox: outboxRepo, logger: logger}
}

func (s *WorkflowStore) CreateTracker(ctx context.Context, t *model.ProjectTracker) error {
	query := `
        INSERT INTO project_trackers
            (project_id, current_phase_id, current_section_id, current_line_item_id,
             status, started_at, item_activated_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	_, err := s.db.Exec(ctx, query,
		t.ProjectID,
		t.CurrentPhaseID,
		t.CurrentSectionID,
		t.CurrentLineItemID,
		t.Status,
		t.StartedAt,
		t.ItemActivatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return workflow.ErrTrackerExists
		}
		s.logger.Error("Failed to insert tracker",
			zap.Int("project_id", t.ProjectID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

const trackerColumns = `
    project_id, current_phase_id, current_section_id, current_line_item_id,
    status, started_at, item_activated_at, updated_at
`

func scanTracker(row pgx.Row) (*model.ProjectTracker, error) {
	var t model.ProjectTracker
	err := row.Scan(
		&t.ProjectID,
		&t.CurrentPhaseID,
		&t.CurrentSectionID,
		&t.CurrentLineItemID,
		&t.Status,
		&t.StartedAt,
		&t.ItemActivatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *WorkflowStore) GetTracker(ctx context.Context, projectID int) (*model.ProjectTracker, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "project_trackers", time.Since(start)) }()

	query := `SELECT ` + trackerColumns + ` FROM project_trackers WHERE project_id = $1`
	t, err := scanTracker(s.db.QueryRow(ctx, query, projectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, workflow.ErrTrackerNotFound
		}
		s.logger.Error("Failed to query tracker",
			zap.Int("project_id", projectID),
			zap.Error(err),
		)
		return nil, err
	}
	return t, nil
}

func (s *WorkflowStore) CountCompletedItems(ctx context.Context, projectID int) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
        SELECT COUNT(*) FROM completed_items WHERE project_id = $1
    `, projectID).Scan(&count)
	if err != nil {
		s.logger.Error("Failed to count completed items",
			zap.Int("project_id", projectID),
			zap.Error(err),
		)
		return 0, err
	}
	return count, nil
}

func (s *WorkflowStore) ListCompletedItems(ctx context.Context, projectID int) ([]model.CompletedItem, error) {
	query := `
        SELECT id, project_id, line_item_id, completed_at, completed_by, notes
        FROM completed_items
        WHERE project_id = $1
        ORDER BY completed_at ASC
    `
	rows, err := s.db.Query(ctx, query, projectID)
	if err != nil {
		s.logger.Error("Failed to query completed items",
			zap.Int("project_id", projectID),
			zap.Error(err),
		)
		return nil, err
	}
	defer rows.Close()

	items := []model.CompletedItem{}
	for rows.Next() {
		var it model.CompletedItem
		if err := rows.Scan(
			&it.ID,
			&it.ProjectID,
			&it.LineItemID,
			&it.CompletedAt,
			&it.CompletedBy,
			&it.Notes,
		); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// InTx wraps fn in a database transaction.
func (s *WorkflowStore) InTx(ctx context.Context, fn func(ctx context.Context, tx workflow.Tx) error) error {
	dbtx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer dbtx.Rollback(ctx)

	if err := fn(ctx, &workflowTx{tx: dbtx, store: s}); err != nil {
		return err
	}
	return dbtx.Commit(ctx)
}

type workflowTx struct {
	tx    pgx.Tx
	store *WorkflowStore
}

func (t *workflowTx) TrackerForUpdate(ctx context.Context, projectID int) (*model.ProjectTracker, error) {
	query := `SELECT ` + trackerColumns + ` FROM project_trackers WHERE project_id = $1 FOR UPDATE`
	tr, err := scanTracker(t.tx.QueryRow(ctx, query, projectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, workflow.ErrTrackerNotFound
		}
		return nil, err
	}
	return tr, nil
}

func (t *workflowTx) HasCompletedItem(ctx context.Context, projectID, lineItemID int) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM completed_items WHERE project_id = $1 AND line_item_id = $2
        )
    `, projectID, lineItemID).Scan(&exists)
	return exists, err
}

func (t *workflowTx) InsertCompletedItem(ctx context.Context, item *model.CompletedItem) error {
	query := `
        INSERT INTO completed_items (project_id, line_item_id, completed_at, completed_by, notes)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id
    `
	err := t.tx.QueryRow(ctx, query,
		item.ProjectID,
		item.LineItemID,
		item.CompletedAt,
		item.CompletedBy,
		item.Notes,
	).Scan(&item.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return workflow.ErrDuplicateCompletion
		}
		return err
	}
	return nil
}

func (t *workflowTx) UpdateTracker(ctx context.Context, tr *model.ProjectTracker) error {
	query := `
        UPDATE project_trackers
        SET current_phase_id = $1, current_section_id = $2, current_line_item_id = $3,
            status = $4, item_activated_at = $5, updated_at = $6
        WHERE project_id = $7
    `
	_, err := t.tx.Exec(ctx, query,
		tr.CurrentPhaseID,
		tr.CurrentSectionID,
		tr.CurrentLineItemID,
		tr.Status,
		tr.ItemActivatedAt,
		tr.UpdatedAt,
		tr.ProjectID,
	)
	return err
}

func (t *workflowTx) CompleteOpenAlert(ctx context.Context, projectID int, ruleKey string) error {
	query := `
        UPDATE alerts
        SET status = $1, updated_at = NOW()
        WHERE project_id = $2 AND rule_key = $3 AND status NOT IN ($4, $5)
    `
	_, err := t.tx.Exec(ctx, query,
		model.AlertCompleted,
		projectID,
		ruleKey,
		model.AlertCompleted,
		model.AlertDismissed,
	)
	return err
}

func (t *workflowTx) InsertEvent(ctx context.Context, aggregateID int64, routingKey string, payload any) error {
	return outbox.InsertEventInTx(ctx, t.tx, t.store.outbox, "project", &aggregateID, routingKey, payload)
}
