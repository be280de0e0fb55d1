package workflow

import "errors"

var (
	// ErrTrackerNotFound means the project has no workflow tracker.
	ErrTrackerNotFound = errors.New("tracker not found")
	// ErrTrackerExists means the project workflow was already initialized.
	ErrTrackerExists = errors.New("tracker already exists")
	// ErrTrackerTerminal means the project workflow is already completed.
	ErrTrackerTerminal = errors.New("tracker is completed")
	// ErrOutOfOrder means the completed item is not the tracker's current
	// line item. The tracker is never mutated on this path.
	ErrOutOfOrder = errors.New("line item is not the current step")
	// ErrDuplicateCompletion is the repository signal for a unique-constraint
	// hit on (project_id, line_item_id). Callers treat it as an idempotent
	// no-op, never as a failure.
	ErrDuplicateCompletion = errors.New("line item already completed")
)
