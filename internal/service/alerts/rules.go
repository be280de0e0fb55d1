package alerts

import (
	"fmt"
	"math"
	"time"

	"buildtrack/internal/model"
	"buildtrack/internal/template"
)

// dedupMode controls how a firing rule reconciles with existing alerts for
// the same rule key.
type dedupMode int

const (
	// dedupOpen updates the open alert in place; inserts when none is open.
	dedupOpen dedupMode = iota
	// dedupEver fires at most once per rule key for the project's lifetime.
	dedupEver
	// dedupSinceStatus fires at most once per project status episode: an
	// alert created before the last status change does not suppress a new
	// fire.
	dedupSinceStatus
)

// draft is one rule firing before it is reconciled against stored alerts.
type draft struct {
	ruleKey    string
	alertType  model.AlertType
	priority   model.AlertPriority
	title      string
	message    string
	lineItemID *int
	sectionID  *int
	phaseID    *int
	assignedTo *int
	dueDate    *time.Time
	actionData map[string]any
	dedup      dedupMode
}

// evalContext is everything a rule may look at for one project.
type evalContext struct {
	project   model.Project
	tracker   *model.ProjectTracker
	current   *template.LineItemRef // tracker's current item, nil when terminal or no tracker
	assignees []int                 // users holding the current item's responsible role
	now       time.Time
}

const (
	deadlineWindowDays   = 7
	budgetOverrunPercent = 10.0
)

// evaluateRules runs every rule against ec and returns the drafts whose
// conditions hold. Rules are independent; order only affects report order.
func evaluateRules(ec *evalContext) []draft {
	var drafts []draft
	appendIf := func(d *draft) {
		if d != nil {
			drafts = append(drafts, *d)
		}
	}

	appendIf(ruleLeadReady(ec))
	appendIf(ruleProgressMilestone(ec))
	appendIf(ruleOnHold(ec))
	appendIf(ruleProjectCompleted(ec))
	appendIf(ruleDeadline(ec))
	appendIf(ruleBudgetOverrun(ec))
	drafts = append(drafts, ruleTeamAssigned(ec)...)
	appendIf(ruleLineItemDue(ec))

	return drafts
}

func ruleLeadReady(ec *evalContext) *draft {
	if ec.project.Status != model.ProjectPending {
		return nil
	}
	return &draft{
		ruleKey:   model.RuleKeyLeadReady,
		alertType: model.AlertLeadReady,
		priority:  model.PriorityMedium,
		title:     "Lead ready to start",
		message:   fmt.Sprintf("Project %q is pending and ready to enter the workflow.", ec.project.Name),
		dedup:     dedupSinceStatus,
	}
}

func ruleProgressMilestone(ec *evalContext) *draft {
	if ec.project.Status != model.ProjectInProgress {
		return nil
	}
	bucket := progressBucket(ec.project.Progress)
	return &draft{
		ruleKey:   model.RuleKeyProgressMilestone(bucket),
		alertType: model.AlertProgressMilestone,
		priority:  model.PriorityLow,
		title:     fmt.Sprintf("Progress milestone: %s%%", bucket),
		message:   fmt.Sprintf("Project %q reached %d%% progress.", ec.project.Name, ec.project.Progress),
		actionData: map[string]any{
			"progress": ec.project.Progress,
			"bucket":   bucket,
		},
		dedup: dedupEver,
	}
}

func ruleOnHold(ec *evalContext) *draft {
	if ec.project.Status != model.ProjectOnHold {
		return nil
	}
	return &draft{
		ruleKey:   model.RuleKeyOnHold,
		alertType: model.AlertOnHold,
		priority:  model.PriorityMedium,
		title:     "Project on hold",
		message:   fmt.Sprintf("Project %q was placed on hold.", ec.project.Name),
		dedup:     dedupSinceStatus,
	}
}

func ruleProjectCompleted(ec *evalContext) *draft {
	if ec.project.Status != model.ProjectCompleted {
		return nil
	}
	return &draft{
		ruleKey:   model.RuleKeyProjectCompleted,
		alertType: model.AlertProjectCompleted,
		priority:  model.PriorityLow,
		title:     "Project completed",
		message:   fmt.Sprintf("Project %q is complete.", ec.project.Name),
		dedup:     dedupEver,
	}
}

// ruleDeadline covers both DEADLINE_APPROACHING and OVERDUE; at most one of
// the two fires, and the sweep's reconcile pass dismisses the other's open
// alert.
func ruleDeadline(ec *evalContext) *draft {
	if projectClosed(ec.project.Status) || ec.project.EndDate == nil {
		return nil
	}

	days := daysUntilDeadline(*ec.project.EndDate, ec.now)
	switch {
	case days < 0:
		overdueDays := -days
		return &draft{
			ruleKey:   model.RuleKeyOverdue,
			alertType: model.AlertOverdue,
			priority:  model.PriorityHigh,
			title:     "Project overdue",
			message:   fmt.Sprintf("Project %q is %d day(s) past its deadline.", ec.project.Name, overdueDays),
			dueDate:   ec.project.EndDate,
			actionData: map[string]any{
				"days_overdue": overdueDays,
			},
			dedup: dedupOpen,
		}
	case days > 0 && days <= deadlineWindowDays:
		priority := model.PriorityMedium
		if days <= 2 {
			priority = model.PriorityHigh
		}
		return &draft{
			ruleKey:   model.RuleKeyDeadline,
			alertType: model.AlertDeadlineApproaching,
			priority:  priority,
			title:     "Deadline approaching",
			message:   fmt.Sprintf("Project %q is due in %d day(s).", ec.project.Name, days),
			dueDate:   ec.project.EndDate,
			actionData: map[string]any{
				"days_until_deadline": days,
			},
			dedup: dedupOpen,
		}
	default:
		return nil
	}
}

func ruleBudgetOverrun(ec *evalContext) *draft {
	p := ec.project
	if projectClosed(p.Status) || p.Budget <= 0 {
		return nil
	}
	overrunPct := (p.ActualCost/p.Budget - 1) * 100
	if overrunPct <= budgetOverrunPercent {
		return nil
	}
	overage := round1((p.ActualCost - p.Budget) / p.Budget * 100)
	return &draft{
		ruleKey:   model.RuleKeyBudgetOverrun,
		alertType: model.AlertBudgetOverrun,
		priority:  model.PriorityHigh,
		title:     "Budget overrun",
		message:   fmt.Sprintf("Project %q is %.1f%% over budget.", p.Name, overage),
		actionData: map[string]any{
			"overage":     overage,
			"budget":      p.Budget,
			"actual_cost": p.ActualCost,
		},
		dedup: dedupOpen,
	}
}

func ruleTeamAssigned(ec *evalContext) []draft {
	var drafts []draft
	for _, m := range ec.project.TeamMembers {
		if m.Role != model.RoleWorker {
			continue
		}
		userID := m.UserID
		drafts = append(drafts, draft{
			ruleKey:    model.RuleKeyTeamAssigned(userID),
			alertType:  model.AlertTeamAssigned,
			priority:   model.PriorityLow,
			title:      "Assigned to project",
			message:    fmt.Sprintf("You were added to project %q as a worker.", ec.project.Name),
			assignedTo: &userID,
			actionData: map[string]any{
				"user_id": userID,
			},
			dedup: dedupEver,
		})
	}
	return drafts
}

func ruleLineItemDue(ec *evalContext) *draft {
	if ec.tracker == nil || ec.tracker.Status != model.TrackerActive || ec.current == nil {
		return nil
	}

	ref := *ec.current
	due := ec.tracker.ItemActivatedAt.Add(time.Duration(ref.Item.EstimatedMinutes) * time.Minute)
	window := time.Duration(ref.Item.AlertDays) * 24 * time.Hour
	if ec.now.Before(due.Add(-window)) {
		return nil
	}

	// Escalates the longer the item stays open: approaching, due, then a
	// full escalation window past due.
	priority := model.PriorityLow
	msg := fmt.Sprintf("Line item %q is coming due.", ref.Item.Name)
	switch {
	case ec.now.After(due.Add(window)):
		priority = model.PriorityHigh
		msg = fmt.Sprintf("Line item %q is overdue beyond its escalation window.", ref.Item.Name)
	case ec.now.After(due):
		priority = model.PriorityMedium
		msg = fmt.Sprintf("Line item %q is past due.", ref.Item.Name)
	}

	var assignedTo *int
	if len(ec.assignees) > 0 {
		assignedTo = &ec.assignees[0]
	}

	return &draft{
		ruleKey:    model.RuleKeyLineItemDue(ref.Item.ID),
		alertType:  model.AlertLineItemDue,
		priority:   priority,
		title:      fmt.Sprintf("Work due: %s", ref.Item.Name),
		message:    msg,
		lineItemID: intPtr(ref.Item.ID),
		sectionID:  intPtr(ref.Section.ID),
		phaseID:    intPtr(ref.Phase.ID),
		assignedTo: assignedTo,
		dueDate:    &due,
		actionData: map[string]any{
			"line_item_id":     ref.Item.ID,
			"responsible_role": string(ref.Item.ResponsibleRole),
			"due_date":         due.UTC().Format(time.RFC3339),
		},
		dedup: dedupOpen,
	}
}

func projectClosed(s model.ProjectStatus) bool {
	return s == model.ProjectCompleted || s == model.ProjectCancelled
}

// progressBucket maps an integer percent into the milestone buckets
// [0,25) [25,50) [50,75) [75,90) [90,100].
func progressBucket(progress int) string {
	switch {
	case progress < 25:
		return "0-25"
	case progress < 50:
		return "25-50"
	case progress < 75:
		return "50-75"
	case progress < 90:
		return "75-90"
	default:
		return "90-100"
	}
}

// daysUntilDeadline is ceil((end - now) / 24h); negative once the deadline
// has passed.
func daysUntilDeadline(end, now time.Time) int {
	return int(math.Ceil(end.Sub(now).Hours() / 24))
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}

func intPtr(v int) *int {
	return &v
}
