package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"buildtrack/internal/model"
	"buildtrack/internal/template"
	"buildtrack/pkg/config"
)

func sweepTemplate(t *testing.T) *template.Store {
	t.Helper()
	phases := []model.Phase{
		{ID: 1, PhaseType: model.PhaseLead, Name: "Lead", DisplayOrder: 1},
	}
	sections := []model.Section{
		{ID: 10, PhaseID: 1, SectionNumber: 1, Name: "Intake", DisplayOrder: 1},
	}
	items := []model.LineItem{
		{ID: 101, SectionID: 10, ItemLetter: "A", Name: "Log lead", DisplayOrder: 1,
			ResponsibleRole: model.RoleOffice, EstimatedMinutes: 60, AlertDays: 1},
	}
	store, err := template.New(phases, sections, items)
	require.NoError(t, err)
	return store
}

// fakeAlertStore is an in-memory Store for sweep tests.
type fakeAlertStore struct {
	projects map[int]model.Project
	trackers map[int]*model.ProjectTracker
	alerts   []*model.Alert
	nextID   int
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{
		projects: map[int]model.Project{},
		trackers: map[int]*model.ProjectTracker{},
		nextID:   1,
	}
}

func (s *fakeAlertStore) ListSweepProjects(ctx context.Context) ([]model.Project, error) {
	var out []model.Project
	for _, p := range s.projects {
		if p.Status != model.ProjectCancelled {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeAlertStore) GetProject(ctx context.Context, projectID int) (*model.Project, error) {
	p, ok := s.projects[projectID]
	if !ok {
		return nil, ErrProjectNotFound
	}
	return &p, nil
}

func (s *fakeAlertStore) GetTracker(ctx context.Context, projectID int) (*model.ProjectTracker, error) {
	t, ok := s.trackers[projectID]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *fakeAlertStore) OpenAlert(ctx context.Context, projectID int, ruleKey string) (*model.Alert, error) {
	for i := len(s.alerts) - 1; i >= 0; i-- {
		a := s.alerts[i]
		if a.ProjectID == projectID && a.RuleKey == ruleKey && !a.Status.IsTerminal() {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeAlertStore) LatestAlert(ctx context.Context, projectID int, ruleKey string) (*model.Alert, error) {
	for i := len(s.alerts) - 1; i >= 0; i-- {
		a := s.alerts[i]
		if a.ProjectID == projectID && a.RuleKey == ruleKey {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeAlertStore) ListOpenAlerts(ctx context.Context, projectID int) ([]model.Alert, error) {
	var out []model.Alert
	for _, a := range s.alerts {
		if a.ProjectID == projectID && !a.Status.IsTerminal() {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *fakeAlertStore) InsertAlert(ctx context.Context, a *model.Alert) error {
	a.ID = s.nextID
	s.nextID++
	cp := *a
	s.alerts = append(s.alerts, &cp)
	return nil
}

func (s *fakeAlertStore) UpdateAlert(ctx context.Context, a *model.Alert) error {
	for i, existing := range s.alerts {
		if existing.ID == a.ID {
			cp := *a
			s.alerts[i] = &cp
			return nil
		}
	}
	return ErrAlertNotFound
}

func (s *fakeAlertStore) GetAlert(ctx context.Context, alertID int) (*model.Alert, error) {
	for _, a := range s.alerts {
		if a.ID == alertID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAlertNotFound
}

func (s *fakeAlertStore) ListAlerts(ctx context.Context, f ListFilter) ([]model.Alert, error) {
	var out []model.Alert
	for _, a := range s.alerts {
		if f.ProjectID != nil && a.ProjectID != *f.ProjectID {
			continue
		}
		if f.UserID != nil && (a.AssignedToUserID == nil || *a.AssignedToUserID != *f.UserID) {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		if f.Priority != nil && a.Priority != *f.Priority {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

type fakeResolver struct {
	users map[model.Role][]int
	err   error
}

func (r *fakeResolver) Resolve(ctx context.Context, projectID int, role model.Role) ([]int, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.users[role], nil
}

type fakeGuard struct {
	busy     bool
	acquired []string
	released []string
}

func (g *fakeGuard) Acquire(ctx context.Context, scope string) bool {
	if g.busy {
		return false
	}
	g.acquired = append(g.acquired, scope)
	return true
}

func (g *fakeGuard) Release(ctx context.Context, scope string) {
	g.released = append(g.released, scope)
}

func newSweepEngine(t *testing.T, store *fakeAlertStore) *Engine {
	t.Helper()
	resolver := &fakeResolver{users: map[model.Role][]int{model.RoleOffice: {9}}}
	e := NewEngine(store, sweepTemplate(t), resolver, nil, zap.NewNop(), config.SweepConfig{
		Concurrency:    2,
		ProjectTimeout: 5 * time.Second,
	})
	e.nowFn = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	return e
}

func pendingProject(id int) model.Project {
	return model.Project{
		ID:              id,
		Name:            "Kitchen remodel",
		Status:          model.ProjectPending,
		StatusChangedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func findByRuleKey(alerts []model.Alert, key string) *model.Alert {
	for i := range alerts {
		if alerts[i].RuleKey == key {
			return &alerts[i]
		}
	}
	return nil
}

func TestSweepLeadReady(t *testing.T) {
	store := newFakeAlertStore()
	store.projects[1] = pendingProject(1)
	e := newSweepEngine(t, store)

	report, err := e.RunSweep(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, report.Created, 1)
	a := report.Created[0]
	assert.Equal(t, model.RuleKeyLeadReady, a.RuleKey)
	assert.Equal(t, model.AlertLeadReady, a.Type)
	assert.Equal(t, model.AlertPending, a.Status)

	// Unchanged data: the repeat sweep is silent.
	report, err = e.RunSweep(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, report.Created)
	assert.Empty(t, report.Updated)
}

func TestSweepLeadReadyRefiresAfterStatusChange(t *testing.T) {
	store := newFakeAlertStore()
	store.projects[1] = pendingProject(1)
	e := newSweepEngine(t, store)
	ctx := context.Background()

	report, err := e.RunSweep(ctx, nil)
	require.NoError(t, err)
	require.Len(t, report.Created, 1)

	// User dismisses the alert; the project is still pending, so the rule
	// must not immediately re-fire.
	_, err = e.Dismiss(ctx, report.Created[0].ID)
	require.NoError(t, err)

	report, err = e.RunSweep(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, report.Created)

	// The project left pending and came back: a fresh episode fires again.
	later := e.nowFn().Add(2 * time.Hour)
	p := store.projects[1]
	p.StatusChangedAt = e.nowFn().Add(time.Hour)
	store.projects[1] = p
	e.nowFn = func() time.Time { return later }

	report, err = e.RunSweep(ctx, nil)
	require.NoError(t, err)
	require.Len(t, report.Created, 1)
	assert.Equal(t, model.RuleKeyLeadReady, report.Created[0].RuleKey)
}

func TestSweepOverdueSupersedesDeadline(t *testing.T) {
	store := newFakeAlertStore()
	e := newSweepEngine(t, store)
	ctx := context.Background()
	now := e.nowFn()

	end := now.Add(3 * 24 * time.Hour)
	store.projects[1] = model.Project{
		ID: 1, Name: "Kitchen remodel", Status: model.ProjectInProgress,
		Progress: 10, EndDate: &end,
		StatusChangedAt: now.Add(-30 * 24 * time.Hour),
	}

	report, err := e.RunSweep(ctx, nil)
	require.NoError(t, err)
	deadline := findByRuleKey(report.Created, model.RuleKeyDeadline)
	require.NotNil(t, deadline)
	assert.Equal(t, model.PriorityMedium, deadline.Priority)

	// The deadline passes: OVERDUE appears and the stale DEADLINE alert is
	// dismissed in the same sweep.
	end = now.Add(-2 * 24 * time.Hour)
	p := store.projects[1]
	p.EndDate = &end
	store.projects[1] = p

	report, err = e.RunSweep(ctx, nil)
	require.NoError(t, err)
	overdue := findByRuleKey(report.Created, model.RuleKeyOverdue)
	require.NotNil(t, overdue)
	assert.Equal(t, model.PriorityHigh, overdue.Priority)

	dismissed := findByRuleKey(report.Updated, model.RuleKeyDeadline)
	require.NotNil(t, dismissed)
	assert.Equal(t, model.AlertDismissed, dismissed.Status)

	stored, err := store.OpenAlert(ctx, 1, model.RuleKeyDeadline)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestSweepDeadlineEscalatesInPlace(t *testing.T) {
	store := newFakeAlertStore()
	e := newSweepEngine(t, store)
	ctx := context.Background()
	now := e.nowFn()

	end := now.Add(5 * 24 * time.Hour)
	store.projects[1] = model.Project{
		ID: 1, Name: "Kitchen remodel", Status: model.ProjectInProgress,
		EndDate:         &end,
		StatusChangedAt: now.Add(-30 * 24 * time.Hour),
	}

	report, err := e.RunSweep(ctx, nil)
	require.NoError(t, err)
	first := findByRuleKey(report.Created, model.RuleKeyDeadline)
	require.NotNil(t, first)
	assert.Equal(t, model.PriorityMedium, first.Priority)

	// One day out the same alert escalates rather than duplicating.
	end = now.Add(1 * 24 * time.Hour)
	p := store.projects[1]
	p.EndDate = &end
	store.projects[1] = p

	report, err = e.RunSweep(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, findByRuleKey(report.Created, model.RuleKeyDeadline))
	escalated := findByRuleKey(report.Updated, model.RuleKeyDeadline)
	require.NotNil(t, escalated)
	assert.Equal(t, first.ID, escalated.ID)
	assert.Equal(t, model.PriorityHigh, escalated.Priority)
}

func TestSweepBudgetOverrun(t *testing.T) {
	store := newFakeAlertStore()
	e := newSweepEngine(t, store)
	now := e.nowFn()

	store.projects[1] = model.Project{
		ID: 1, Name: "Kitchen remodel", Status: model.ProjectInProgress,
		Budget: 1000, ActualCost: 1150,
		StatusChangedAt: now.Add(-time.Hour),
	}

	report, err := e.RunSweep(context.Background(), nil)
	require.NoError(t, err)
	a := findByRuleKey(report.Created, model.RuleKeyBudgetOverrun)
	require.NotNil(t, a)
	assert.Equal(t, model.PriorityHigh, a.Priority)
	assert.JSONEq(t, `{"overage":15,"budget":1000,"actual_cost":1150}`, string(a.ActionData))
}

func TestSweepProgressMilestoneFiresOncePerBucket(t *testing.T) {
	store := newFakeAlertStore()
	e := newSweepEngine(t, store)
	ctx := context.Background()
	now := e.nowFn()

	store.projects[1] = model.Project{
		ID: 1, Name: "Kitchen remodel", Status: model.ProjectInProgress,
		Progress:        30,
		StatusChangedAt: now.Add(-time.Hour),
	}

	report, err := e.RunSweep(ctx, nil)
	require.NoError(t, err)
	a := findByRuleKey(report.Created, model.RuleKeyProgressMilestone("25-50"))
	require.NotNil(t, a)

	// Dismissing does not resurrect a once-per-lifetime alert.
	_, err = e.Dismiss(ctx, a.ID)
	require.NoError(t, err)

	report, err = e.RunSweep(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, findByRuleKey(report.Created, model.RuleKeyProgressMilestone("25-50")))

	// Crossing into the next bucket fires a new alert under its own key.
	p := store.projects[1]
	p.Progress = 60
	store.projects[1] = p

	report, err = e.RunSweep(ctx, nil)
	require.NoError(t, err)
	assert.NotNil(t, findByRuleKey(report.Created, model.RuleKeyProgressMilestone("50-75")))
}

func TestSweepTeamAssigned(t *testing.T) {
	store := newFakeAlertStore()
	e := newSweepEngine(t, store)
	now := e.nowFn()

	store.projects[1] = model.Project{
		ID: 1, Name: "Kitchen remodel", Status: model.ProjectInProgress,
		StatusChangedAt: now.Add(-time.Hour),
		TeamMembers: []model.TeamMember{
			{UserID: 5, ProjectID: 1, Role: model.RoleWorker},
			{UserID: 6, ProjectID: 1, Role: model.RoleProjectManager},
		},
	}

	report, err := e.RunSweep(context.Background(), nil)
	require.NoError(t, err)
	a := findByRuleKey(report.Created, model.RuleKeyTeamAssigned(5))
	require.NotNil(t, a)
	assert.Equal(t, 5, *a.AssignedToUserID)
	assert.Nil(t, findByRuleKey(report.Created, model.RuleKeyTeamAssigned(6)))
}

func TestSweepLineItemDueAssignment(t *testing.T) {
	store := newFakeAlertStore()
	e := newSweepEngine(t, store)
	ctx := context.Background()
	now := e.nowFn()

	store.projects[1] = model.Project{
		ID: 1, Name: "Kitchen remodel", Status: model.ProjectInProgress,
		StatusChangedAt: now.Add(-time.Hour),
	}
	store.trackers[1] = &model.ProjectTracker{
		ProjectID:         1,
		Status:            model.TrackerActive,
		CurrentLineItemID: intPtr(101),
		ItemActivatedAt:   now.Add(-3 * time.Hour),
	}

	report, err := e.RunSweep(ctx, nil)
	require.NoError(t, err)
	a := findByRuleKey(report.Created, model.RuleKeyLineItemDue(101))
	require.NotNil(t, a)
	assert.Equal(t, model.PriorityMedium, a.Priority)
	assert.Equal(t, 9, *a.AssignedToUserID)
	assert.Equal(t, 101, *a.LineItemID)
	assert.Equal(t, 10, *a.SectionID)
	assert.Equal(t, 1, *a.PhaseID)
}

func TestSweepResolverFailureRoutesUnassigned(t *testing.T) {
	store := newFakeAlertStore()
	e := newSweepEngine(t, store)
	e.resolver = &fakeResolver{err: errors.New("team service down")}
	now := e.nowFn()

	store.projects[1] = model.Project{
		ID: 1, Name: "Kitchen remodel", Status: model.ProjectInProgress,
		StatusChangedAt: now.Add(-time.Hour),
	}
	store.trackers[1] = &model.ProjectTracker{
		ProjectID:         1,
		Status:            model.TrackerActive,
		CurrentLineItemID: intPtr(101),
		ItemActivatedAt:   now.Add(-3 * time.Hour),
	}

	report, err := e.RunSweep(context.Background(), nil)
	require.NoError(t, err)
	a := findByRuleKey(report.Created, model.RuleKeyLineItemDue(101))
	require.NotNil(t, a)
	assert.Nil(t, a.AssignedToUserID)
}

func TestSweepIsolatesTemplateInconsistency(t *testing.T) {
	store := newFakeAlertStore()
	e := newSweepEngine(t, store)
	now := e.nowFn()

	store.projects[1] = pendingProject(1)
	store.projects[2] = model.Project{
		ID: 2, Name: "Broken", Status: model.ProjectInProgress,
		StatusChangedAt: now.Add(-time.Hour),
	}
	store.trackers[2] = &model.ProjectTracker{
		ProjectID:         2,
		Status:            model.TrackerActive,
		CurrentLineItemID: intPtr(999), // not in the template
		ItemActivatedAt:   now.Add(-time.Hour),
	}

	report, err := e.RunSweep(context.Background(), nil)
	require.NoError(t, err)

	// The healthy project still gets its alert.
	assert.NotNil(t, findByRuleKey(report.Created, model.RuleKeyLeadReady))
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, 2, report.Skipped[0].ProjectID)
	assert.Contains(t, report.Skipped[0].Reason, "template inconsistency")
}

func TestSweepGuardRejectsConcurrentTrigger(t *testing.T) {
	store := newFakeAlertStore()
	store.projects[1] = pendingProject(1)
	e := newSweepEngine(t, store)

	guard := &fakeGuard{busy: true}
	e.guard = guard
	_, err := e.RunSweep(context.Background(), nil)
	assert.ErrorIs(t, err, ErrSweepInProgress)

	guard.busy = false
	_, err = e.RunSweep(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"all"}, guard.acquired)
	assert.Equal(t, []string{"all"}, guard.released)
}

func TestSweepSingleProjectScope(t *testing.T) {
	store := newFakeAlertStore()
	store.projects[1] = pendingProject(1)
	store.projects[2] = pendingProject(2)
	e := newSweepEngine(t, store)

	target := 2
	report, err := e.RunSweep(context.Background(), &target)
	require.NoError(t, err)
	require.Len(t, report.Created, 1)
	assert.Equal(t, 2, report.Created[0].ProjectID)

	missing := 99
	_, err = e.RunSweep(context.Background(), &missing)
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestSweepCompletedProjectFiresOnce(t *testing.T) {
	store := newFakeAlertStore()
	e := newSweepEngine(t, store)
	now := e.nowFn()

	store.projects[1] = model.Project{
		ID: 1, Name: "Kitchen remodel", Status: model.ProjectCompleted,
		StatusChangedAt: now.Add(-time.Hour),
	}

	report, err := e.RunSweep(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, report.Created, 1)
	assert.Equal(t, model.RuleKeyProjectCompleted, report.Created[0].RuleKey)

	report, err = e.RunSweep(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, report.Created)
}
