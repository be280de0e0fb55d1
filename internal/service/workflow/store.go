package workflow

import (
	"context"

	"buildtrack/internal/model"
)

// Store is the persistence surface of the completion engine. The pgx
// implementation lives in internal/repository; tests inject an in-memory
// fake.
type Store interface {
	CreateTracker(ctx context.Context, t *model.ProjectTracker) error
	GetTracker(ctx context.Context, projectID int) (*model.ProjectTracker, error)
	CountCompletedItems(ctx context.Context, projectID int) (int, error)
	ListCompletedItems(ctx context.Context, projectID int) ([]model.CompletedItem, error)

	// InTx runs fn atomically. Everything fn does through tx becomes
	// visible together or not at all.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the transactional slice of Store used by CompleteCurrentItem.
type Tx interface {
	// TrackerForUpdate loads the tracker and serializes concurrent
	// completions for the same project.
	TrackerForUpdate(ctx context.Context, projectID int) (*model.ProjectTracker, error)
	HasCompletedItem(ctx context.Context, projectID, lineItemID int) (bool, error)
	InsertCompletedItem(ctx context.Context, item *model.CompletedItem) error
	UpdateTracker(ctx context.Context, t *model.ProjectTracker) error
	// CompleteOpenAlert moves a non-terminal alert for (projectID, ruleKey)
	// to completed, if one exists.
	CompleteOpenAlert(ctx context.Context, projectID int, ruleKey string) error
	InsertEvent(ctx context.Context, aggregateID int64, routingKey string, payload any) error
}
