package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"buildtrack/internal/model"
	"buildtrack/internal/template"
	"buildtrack/pkg/config"
	"buildtrack/pkg/logger"
	"buildtrack/pkg/metrics"
)

// Engine evaluates the alert rules against project state and maintains the
// alert store. Different projects are swept in parallel; all mutations for
// one project happen on its own goroutine.
type Engine struct {
	store          Store
	tmpl           *template.Store
	resolver       RoleResolver
	guard          Guard
	logger         *zap.Logger
	concurrency    int
	projectTimeout time.Duration
	nowFn          func() time.Time
}

func NewEngine(store Store, tmpl *template.Store, resolver RoleResolver, guard Guard, log *zap.Logger, cfg config.SweepConfig) *Engine {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	timeout := cfg.ProjectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Engine{
		store:          store,
		tmpl:           tmpl,
		resolver:       resolver,
		guard:          guard,
		logger:         log,
		concurrency:    concurrency,
		projectTimeout: timeout,
		nowFn:          time.Now,
	}
}

type SkippedProject struct {
	ProjectID int    `json:"project_id"`
	Reason    string `json:"reason"`
}

type SweepReport struct {
	Created []model.Alert    `json:"created"`
	Updated []model.Alert    `json:"updated"`
	Skipped []SkippedProject `json:"skipped"`
}

// RunSweep evaluates every rule for the targeted project, or for all
// sweepable projects when projectID is nil. One project's failure never
// aborts the batch. A repeat sweep over unchanged data reports zero created
// and zero updated alerts.
func (e *Engine) RunSweep(ctx context.Context, projectID *int) (*SweepReport, error) {
	log := logger.WithTrace(ctx, e.logger)
	start := e.nowFn()

	scope := "all"
	if projectID != nil {
		scope = strconv.Itoa(*projectID)
	}

	if e.guard != nil {
		if !e.guard.Acquire(ctx, scope) {
			log.Warn("Sweep already in flight, rejecting trigger",
				zap.String("scope", scope),
			)
			return nil, ErrSweepInProgress
		}
		defer e.guard.Release(ctx, scope)
	}

	var projects []model.Project
	if projectID != nil {
		p, err := e.store.GetProject(ctx, *projectID)
		if err != nil {
			return nil, err
		}
		projects = []model.Project{*p}
	} else {
		var err error
		projects, err = e.store.ListSweepProjects(ctx)
		if err != nil {
			return nil, err
		}
	}

	report := &SweepReport{
		Created: []model.Alert{},
		Updated: []model.Alert{},
		Skipped: []SkippedProject{},
	}

	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, p := range projects {
		p := p
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			pctx, cancel := context.WithTimeout(ctx, e.projectTimeout)
			defer cancel()

			created, updated, err := e.evaluateProject(pctx, p)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Error("Project evaluation failed, continuing sweep",
					zap.Int("project_id", p.ID),
					zap.Error(err),
				)
				report.Skipped = append(report.Skipped, SkippedProject{
					ProjectID: p.ID,
					Reason:    err.Error(),
				})
				return
			}
			report.Created = append(report.Created, created...)
			report.Updated = append(report.Updated, updated...)
		}()
	}
	wg.Wait()

	metrics.RecordSweepDuration(scope, time.Since(start))
	metrics.AddSweepOutcome("created", len(report.Created))
	metrics.AddSweepOutcome("updated", len(report.Updated))
	metrics.AddSweepOutcome("skipped", len(report.Skipped))

	log.Info("Sweep completed",
		zap.String("scope", scope),
		zap.Int("projects", len(projects)),
		zap.Int("created", len(report.Created)),
		zap.Int("updated", len(report.Updated)),
		zap.Int("skipped", len(report.Skipped)),
	)
	return report, nil
}

// reconcilable lists the rule types whose open alerts are dismissed when
// their condition stops holding. LINE_ITEM_DUE is excluded: its lifecycle is
// owned by the completion engine. TEAM_ASSIGNED and PROJECT_COMPLETED are
// one-time notices and stay open until a user acts on them.
var reconcilable = map[model.AlertType]bool{
	model.AlertLeadReady:           true,
	model.AlertOnHold:              true,
	model.AlertProgressMilestone:   true,
	model.AlertDeadlineApproaching: true,
	model.AlertOverdue:             true,
	model.AlertBudgetOverrun:       true,
}

func (e *Engine) evaluateProject(ctx context.Context, p model.Project) (created, updated []model.Alert, err error) {
	tracker, err := e.store.GetTracker(ctx, p.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load tracker: %w", err)
	}

	ec := &evalContext{
		project: p,
		tracker: tracker,
		now:     e.nowFn(),
	}

	if tracker != nil && tracker.Status == model.TrackerActive && tracker.CurrentLineItemID != nil {
		ref, err := e.tmpl.Lookup(*tracker.CurrentLineItemID)
		if err != nil {
			// Tracker points outside the template. Fatal for this project,
			// surfaced in the sweep report; other projects are unaffected.
			return nil, nil, fmt.Errorf("template inconsistency: %w", err)
		}
		ec.current = &ref

		assignees, rerr := e.resolver.Resolve(ctx, p.ID, ref.Item.ResponsibleRole)
		if rerr != nil {
			// Resolution trouble downgrades to the unassigned queue rather
			// than dropping the alert.
			logger.WithTrace(ctx, e.logger).Warn("Role resolution failed, routing to unassigned queue",
				zap.Int("project_id", p.ID),
				zap.String("role", string(ref.Item.ResponsibleRole)),
				zap.Error(rerr),
			)
		} else {
			ec.assignees = assignees
		}
	}

	drafts := evaluateRules(ec)

	asserted := make(map[string]bool, len(drafts))
	for _, d := range drafts {
		asserted[d.ruleKey] = true

		c, u, err := e.applyDraft(ctx, p, d, ec.now)
		if err != nil {
			return nil, nil, fmt.Errorf("apply rule %s: %w", d.ruleKey, err)
		}
		if c != nil {
			created = append(created, *c)
		}
		if u != nil {
			updated = append(updated, *u)
		}
	}

	// Dismiss open alerts whose condition no longer holds, e.g. the
	// DEADLINE alert once OVERDUE takes over.
	open, err := e.store.ListOpenAlerts(ctx, p.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list open alerts: %w", err)
	}
	for _, a := range open {
		if !reconcilable[a.Type] || asserted[a.RuleKey] {
			continue
		}
		a.Status = model.AlertDismissed
		a.UpdatedAt = ec.now
		if err := e.store.UpdateAlert(ctx, &a); err != nil {
			return nil, nil, fmt.Errorf("dismiss stale alert %d: %w", a.ID, err)
		}
		updated = append(updated, a)
	}

	return created, updated, nil
}

// applyDraft reconciles one firing rule with the stored alerts. It returns
// the created or updated alert, or neither when the store already reflects
// the draft.
func (e *Engine) applyDraft(ctx context.Context, p model.Project, d draft, now time.Time) (created, updated *model.Alert, err error) {
	switch d.dedup {
	case dedupEver:
		latest, err := e.store.LatestAlert(ctx, p.ID, d.ruleKey)
		if err != nil {
			return nil, nil, err
		}
		if latest != nil {
			return nil, nil, nil
		}
		a, err := e.insertDraft(ctx, p, d, now)
		return a, nil, err

	case dedupSinceStatus:
		open, err := e.store.OpenAlert(ctx, p.ID, d.ruleKey)
		if err != nil {
			return nil, nil, err
		}
		if open != nil {
			return nil, nil, nil
		}
		latest, err := e.store.LatestAlert(ctx, p.ID, d.ruleKey)
		if err != nil {
			return nil, nil, err
		}
		if latest != nil && latest.CreatedAt.After(p.StatusChangedAt) {
			// Already fired during this status episode.
			return nil, nil, nil
		}
		a, err := e.insertDraft(ctx, p, d, now)
		return a, nil, err

	default: // dedupOpen
		open, err := e.store.OpenAlert(ctx, p.ID, d.ruleKey)
		if err != nil {
			return nil, nil, err
		}
		if open == nil {
			a, err := e.insertDraft(ctx, p, d, now)
			return a, nil, err
		}

		actionData, err := marshalActionData(d.actionData)
		if err != nil {
			return nil, nil, err
		}
		if open.Priority == d.priority &&
			open.Title == d.title &&
			open.Message == d.message &&
			timesEqual(open.DueDate, d.dueDate) &&
			bytes.Equal(open.ActionData, actionData) {
			// Nothing moved; repeat sweeps stay silent.
			return nil, nil, nil
		}

		open.Priority = d.priority
		open.Title = d.title
		open.Message = d.message
		open.DueDate = d.dueDate
		open.ActionData = actionData
		open.UpdatedAt = now
		if err := e.store.UpdateAlert(ctx, open); err != nil {
			return nil, nil, err
		}
		return nil, open, nil
	}
}

func (e *Engine) insertDraft(ctx context.Context, p model.Project, d draft, now time.Time) (*model.Alert, error) {
	actionData, err := marshalActionData(d.actionData)
	if err != nil {
		return nil, err
	}

	a := &model.Alert{
		ProjectID:        p.ID,
		LineItemID:       d.lineItemID,
		SectionID:        d.sectionID,
		PhaseID:          d.phaseID,
		RuleKey:          d.ruleKey,
		Type:             d.alertType,
		Priority:         d.priority,
		Title:            d.title,
		Message:          d.message,
		Status:           model.AlertPending,
		AssignedToUserID: d.assignedTo,
		DueDate:          d.dueDate,
		ActionData:       actionData,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.store.InsertAlert(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func marshalActionData(data map[string]any) (json.RawMessage, error) {
	if len(data) == 0 {
		return nil, nil
	}
	// json.Marshal sorts map keys, so equal snapshots encode identically.
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal action data: %w", err)
	}
	return raw, nil
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
