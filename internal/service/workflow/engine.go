package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"buildtrack/internal/events"
	"buildtrack/internal/model"
	"buildtrack/internal/template"
	"buildtrack/pkg/logger"
	"buildtrack/pkg/metrics"
	"buildtrack/pkg/trace"
)

// Engine advances project trackers through the workflow template.
type Engine struct {
	store  Store
	tmpl   *template.Store
	logger *zap.Logger
	nowFn  func() time.Time
}

func NewEngine(store Store, tmpl *template.Store, log *zap.Logger) *Engine {
	return &Engine{
		store:  store,
		tmpl:   tmpl,
		logger: log,
		nowFn:  time.Now,
	}
}

// CompletionResult is the outcome of a completion attempt. Advanced is false
// on the idempotent duplicate path.
type CompletionResult struct {
	Tracker  *model.ProjectTracker
	Advanced bool
}

// ProgressReport summarizes a project's position in the template.
type ProgressReport struct {
	Tracker        *model.ProjectTracker `json:"tracker"`
	CompletedItems int                   `json:"completed_items"`
	TotalItems     int                   `json:"total_items"`
	Current        *template.LineItemRef `json:"current,omitempty"`
}

// Initialize creates the tracker for a project, pointing at the globally
// first line item.
func (e *Engine) Initialize(ctx context.Context, projectID int) (*model.ProjectTracker, error) {
	log := logger.WithTrace(ctx, e.logger)

	first, err := e.tmpl.First()
	if err != nil {
		log.Error("Cannot initialize workflow: template is empty",
			zap.Int("project_id", projectID),
		)
		return nil, err
	}

	now := e.nowFn()
	t := &model.ProjectTracker{
		ProjectID:         projectID,
		CurrentPhaseID:    intPtr(first.Phase.ID),
		CurrentSectionID:  intPtr(first.Section.ID),
		CurrentLineItemID: intPtr(first.Item.ID),
		Status:            model.TrackerActive,
		StartedAt:         now,
		ItemActivatedAt:   now,
		UpdatedAt:         now,
	}

	if err := e.store.CreateTracker(ctx, t); err != nil {
		if errors.Is(err, ErrTrackerExists) {
			log.Warn("Workflow already initialized",
				zap.Int("project_id", projectID),
			)
			return nil, err
		}
		log.Error("Failed to create tracker",
			zap.Int("project_id", projectID),
			zap.Error(err),
		)
		return nil, err
	}

	log.Info("Workflow initialized",
		zap.Int("project_id", projectID),
		zap.Int("first_line_item_id", first.Item.ID),
	)
	return t, nil
}

// errDuplicateRollback aborts the completion transaction without treating
// the duplicate as a failure.
var errDuplicateRollback = errors.New("duplicate completion, rolling back")

// CompleteCurrentItem validates and applies completion of the tracker's
// current line item, then advances the pointer. The completion log entry,
// the tracker move, the due-alert auto-complete and the outbox event all
// commit in a single transaction.
func (e *Engine) CompleteCurrentItem(ctx context.Context, projectID, lineItemID, actorID int, notes string) (*CompletionResult, error) {
	log := logger.WithTrace(ctx, e.logger)
	result := &CompletionResult{}

	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		t, err := tx.TrackerForUpdate(ctx, projectID)
		if err != nil {
			return err
		}

		if t.Status == model.TrackerCompleted {
			return ErrTrackerTerminal
		}

		done, err := tx.HasCompletedItem(ctx, projectID, lineItemID)
		if err != nil {
			return err
		}
		if done {
			// Retried request. Succeed without advancing or re-logging.
			result.Tracker = t
			result.Advanced = false
			return errDuplicateRollback
		}

		if t.CurrentLineItemID == nil || *t.CurrentLineItemID != lineItemID {
			return ErrOutOfOrder
		}

		cur, err := e.tmpl.Lookup(lineItemID)
		if err != nil {
			// The tracker points at an id the template no longer knows.
			// Fatal for this project only; the tracker stays untouched.
			log.Error("Template inconsistency detected",
				zap.Int("project_id", projectID),
				zap.Int("line_item_id", lineItemID),
				zap.Error(err),
			)
			return fmt.Errorf("template inconsistency for project %d: %w", projectID, err)
		}

		now := e.nowFn()
		item := &model.CompletedItem{
			ProjectID:   projectID,
			LineItemID:  lineItemID,
			CompletedAt: now,
			CompletedBy: actorID,
			Notes:       notes,
		}
		if err := tx.InsertCompletedItem(ctx, item); err != nil {
			if errors.Is(err, ErrDuplicateCompletion) {
				// Lost a race after the duplicate check; same no-op path.
				result.Tracker = t
				result.Advanced = false
				return errDuplicateRollback
			}
			return err
		}

		next, ok, err := e.tmpl.Next(cur)
		if err != nil {
			return fmt.Errorf("template inconsistency for project %d: %w", projectID, err)
		}

		t.UpdatedAt = now
		if !ok {
			t.Status = model.TrackerCompleted
			t.CurrentPhaseID = nil
			t.CurrentSectionID = nil
			t.CurrentLineItemID = nil
		} else {
			t.CurrentPhaseID = intPtr(next.Phase.ID)
			t.CurrentSectionID = intPtr(next.Section.ID)
			t.CurrentLineItemID = intPtr(next.Item.ID)
			t.ItemActivatedAt = now
		}
		if err := tx.UpdateTracker(ctx, t); err != nil {
			return err
		}

		if err := tx.CompleteOpenAlert(ctx, projectID, model.RuleKeyLineItemDue(lineItemID)); err != nil {
			return err
		}

		payload := events.ItemCompletedPayload{
			ProjectID:   projectID,
			LineItemID:  lineItemID,
			CompletedBy: actorID,
			CompletedAt: now,
			TraceID:     trace.FromContext(ctx),
		}
		if err := tx.InsertEvent(ctx, int64(projectID), events.RoutingKeyItemCompleted, payload); err != nil {
			return err
		}
		if t.Status == model.TrackerCompleted {
			done := events.ProjectCompletedPayload{
				ProjectID:   projectID,
				CompletedAt: now,
				TraceID:     trace.FromContext(ctx),
			}
			if err := tx.InsertEvent(ctx, int64(projectID), events.RoutingKeyProjectCompleted, done); err != nil {
				return err
			}
		}

		result.Tracker = t
		result.Advanced = true
		return nil
	})

	switch {
	case err == nil:
		metrics.IncrementCompletion("advanced")
		log.Info("Line item completed",
			zap.Int("project_id", projectID),
			zap.Int("line_item_id", lineItemID),
			zap.Int("completed_by", actorID),
			zap.Bool("workflow_completed", result.Tracker.Status == model.TrackerCompleted),
		)
		return result, nil
	case errors.Is(err, errDuplicateRollback):
		metrics.IncrementCompletion("duplicate")
		log.Info("Duplicate completion ignored",
			zap.Int("project_id", projectID),
			zap.Int("line_item_id", lineItemID),
		)
		return result, nil
	case errors.Is(err, ErrTrackerNotFound),
		errors.Is(err, ErrTrackerTerminal),
		errors.Is(err, ErrOutOfOrder):
		metrics.IncrementCompletion("rejected")
		log.Warn("Completion rejected",
			zap.Int("project_id", projectID),
			zap.Int("line_item_id", lineItemID),
			zap.Error(err),
		)
		return nil, err
	default:
		metrics.IncrementCompletion("error")
		log.Error("Completion failed",
			zap.Int("project_id", projectID),
			zap.Int("line_item_id", lineItemID),
			zap.Error(err),
		)
		return nil, err
	}
}

// Progress reports how far a project is through the template.
func (e *Engine) Progress(ctx context.Context, projectID int) (*ProgressReport, error) {
	t, err := e.store.GetTracker(ctx, projectID)
	if err != nil {
		return nil, err
	}

	count, err := e.store.CountCompletedItems(ctx, projectID)
	if err != nil {
		return nil, err
	}

	report := &ProgressReport{
		Tracker:        t,
		CompletedItems: count,
		TotalItems:     e.tmpl.Len(),
	}
	if t.CurrentLineItemID != nil {
		ref, err := e.tmpl.Lookup(*t.CurrentLineItemID)
		if err != nil {
			return nil, fmt.Errorf("template inconsistency for project %d: %w", projectID, err)
		}
		report.Current = &ref
	}
	return report, nil
}

// History returns the completion log in completion order.
func (e *Engine) History(ctx context.Context, projectID int) ([]model.CompletedItem, error) {
	return e.store.ListCompletedItems(ctx, projectID)
}

func intPtr(v int) *int {
	return &v
}
