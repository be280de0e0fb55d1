package alerts

import "errors"

var (
	// ErrAlertNotFound means the alert id does not exist.
	ErrAlertNotFound = errors.New("alert not found")
	// ErrAlertTerminal rejects transitions on completed/dismissed alerts.
	ErrAlertTerminal = errors.New("alert is in a terminal status")
	// ErrInvalidTransition rejects acknowledge on read alerts and similar
	// out-of-sequence moves.
	ErrInvalidTransition = errors.New("invalid alert status transition")
	// ErrSweepInProgress means a sweep over the requested scope is already
	// running; the caller should retry after it finishes.
	ErrSweepInProgress = errors.New("sweep already in progress for this scope")
	// ErrProjectNotFound means the targeted project does not exist.
	ErrProjectNotFound = errors.New("project not found")
)
