package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"buildtrack/internal/events"
	"buildtrack/internal/model"
	"buildtrack/internal/template"
)

func testTemplate(t *testing.T) *template.Store {
	t.Helper()
	phases := []model.Phase{
		{ID: 1, PhaseType: model.PhaseLead, Name: "Lead", DisplayOrder: 1},
		{ID: 2, PhaseType: model.PhaseExecution, Name: "Execution", DisplayOrder: 2},
	}
	sections := []model.Section{
		{ID: 10, PhaseID: 1, SectionNumber: 1, Name: "Intake", DisplayOrder: 1},
		{ID: 20, PhaseID: 2, SectionNumber: 1, Name: "Build", DisplayOrder: 1},
	}
	items := []model.LineItem{
		{ID: 101, SectionID: 10, ItemLetter: "A", Name: "Log lead", DisplayOrder: 1, ResponsibleRole: model.RoleOffice, EstimatedMinutes: 60, AlertDays: 1},
		{ID: 102, SectionID: 10, ItemLetter: "B", Name: "First call", DisplayOrder: 2, ResponsibleRole: model.RoleOffice, EstimatedMinutes: 30, AlertDays: 1},
		{ID: 201, SectionID: 20, ItemLetter: "A", Name: "Mobilize", DisplayOrder: 1, ResponsibleRole: model.RoleProjectManager, EstimatedMinutes: 120, AlertDays: 2},
	}
	store, err := template.New(phases, sections, items)
	require.NoError(t, err)
	return store
}

type fakeEvent struct {
	aggregateID int64
	routingKey  string
	payload     any
}

// fakeStore is an in-memory Store. InTx snapshots state and restores it when
// fn fails, mirroring a database rollback.
type fakeStore struct {
	trackers        map[int]*model.ProjectTracker
	completed       map[int][]model.CompletedItem
	completedAlerts []string
	eventLog        []fakeEvent
	nextItemID      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		trackers:   map[int]*model.ProjectTracker{},
		completed:  map[int][]model.CompletedItem{},
		nextItemID: 1,
	}
}

func (s *fakeStore) CreateTracker(ctx context.Context, t *model.ProjectTracker) error {
	if _, ok := s.trackers[t.ProjectID]; ok {
		return ErrTrackerExists
	}
	cp := *t
	s.trackers[t.ProjectID] = &cp
	return nil
}

func (s *fakeStore) GetTracker(ctx context.Context, projectID int) (*model.ProjectTracker, error) {
	t, ok := s.trackers[projectID]
	if !ok {
		return nil, ErrTrackerNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *fakeStore) CountCompletedItems(ctx context.Context, projectID int) (int, error) {
	return len(s.completed[projectID]), nil
}

func (s *fakeStore) ListCompletedItems(ctx context.Context, projectID int) ([]model.CompletedItem, error) {
	return append([]model.CompletedItem{}, s.completed[projectID]...), nil
}

func (s *fakeStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	snapTrackers := make(map[int]*model.ProjectTracker, len(s.trackers))
	for k, v := range s.trackers {
		cp := *v
		snapTrackers[k] = &cp
	}
	snapCompleted := make(map[int][]model.CompletedItem, len(s.completed))
	for k, v := range s.completed {
		snapCompleted[k] = append([]model.CompletedItem{}, v...)
	}
	snapAlerts := append([]string{}, s.completedAlerts...)
	snapEvents := append([]fakeEvent{}, s.eventLog...)

	if err := fn(ctx, &fakeTx{store: s}); err != nil {
		s.trackers = snapTrackers
		s.completed = snapCompleted
		s.completedAlerts = snapAlerts
		s.eventLog = snapEvents
		return err
	}
	return nil
}

type fakeTx struct {
	store *fakeStore
}

func (t *fakeTx) TrackerForUpdate(ctx context.Context, projectID int) (*model.ProjectTracker, error) {
	return t.store.GetTracker(ctx, projectID)
}

func (t *fakeTx) HasCompletedItem(ctx context.Context, projectID, lineItemID int) (bool, error) {
	for _, it := range t.store.completed[projectID] {
		if it.LineItemID == lineItemID {
			return true, nil
		}
	}
	return false, nil
}

func (t *fakeTx) InsertCompletedItem(ctx context.Context, item *model.CompletedItem) error {
	for _, it := range t.store.completed[item.ProjectID] {
		if it.LineItemID == item.LineItemID {
			return ErrDuplicateCompletion
		}
	}
	item.ID = t.store.nextItemID
	t.store.nextItemID++
	t.store.completed[item.ProjectID] = append(t.store.completed[item.ProjectID], *item)
	return nil
}

func (t *fakeTx) UpdateTracker(ctx context.Context, tr *model.ProjectTracker) error {
	cp := *tr
	t.store.trackers[tr.ProjectID] = &cp
	return nil
}

func (t *fakeTx) CompleteOpenAlert(ctx context.Context, projectID int, ruleKey string) error {
	t.store.completedAlerts = append(t.store.completedAlerts, ruleKey)
	return nil
}

func (t *fakeTx) InsertEvent(ctx context.Context, aggregateID int64, routingKey string, payload any) error {
	t.store.eventLog = append(t.store.eventLog, fakeEvent{aggregateID, routingKey, payload})
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	e := NewEngine(store, testTemplate(t), zap.NewNop())
	e.nowFn = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return e, store
}

func TestInitializePointsAtFirstItem(t *testing.T) {
	e, _ := newTestEngine(t)

	tr, err := e.Initialize(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, model.TrackerActive, tr.Status)
	require.NotNil(t, tr.CurrentLineItemID)
	assert.Equal(t, 101, *tr.CurrentLineItemID)
	assert.Equal(t, 10, *tr.CurrentSectionID)
	assert.Equal(t, 1, *tr.CurrentPhaseID)
	assert.Equal(t, tr.StartedAt, tr.ItemActivatedAt)
}

func TestInitializeTwiceFails(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Initialize(context.Background(), 7)
	require.NoError(t, err)

	_, err = e.Initialize(context.Background(), 7)
	assert.ErrorIs(t, err, ErrTrackerExists)
}

func TestInitializeEmptyTemplate(t *testing.T) {
	empty, err := template.New(nil, nil, nil)
	require.NoError(t, err)
	e := NewEngine(newFakeStore(), empty, zap.NewNop())

	_, err = e.Initialize(context.Background(), 7)
	assert.ErrorIs(t, err, template.ErrEmptyTemplate)
}

func TestCompleteAdvancesThroughTemplate(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Initialize(ctx, 7)
	require.NoError(t, err)

	res, err := e.CompleteCurrentItem(ctx, 7, 101, 42, "done")
	require.NoError(t, err)
	assert.True(t, res.Advanced)
	assert.Equal(t, 102, *res.Tracker.CurrentLineItemID)

	// Section and phase rollover.
	res, err = e.CompleteCurrentItem(ctx, 7, 102, 42, "")
	require.NoError(t, err)
	assert.Equal(t, 201, *res.Tracker.CurrentLineItemID)
	assert.Equal(t, 20, *res.Tracker.CurrentSectionID)
	assert.Equal(t, 2, *res.Tracker.CurrentPhaseID)

	// Last item terminates the workflow.
	res, err = e.CompleteCurrentItem(ctx, 7, 201, 42, "")
	require.NoError(t, err)
	assert.Equal(t, model.TrackerCompleted, res.Tracker.Status)
	assert.Nil(t, res.Tracker.CurrentLineItemID)
	assert.Nil(t, res.Tracker.CurrentSectionID)
	assert.Nil(t, res.Tracker.CurrentPhaseID)

	var keys []string
	for _, ev := range store.eventLog {
		keys = append(keys, ev.routingKey)
	}
	assert.Equal(t, []string{
		events.RoutingKeyItemCompleted,
		events.RoutingKeyItemCompleted,
		events.RoutingKeyItemCompleted,
		events.RoutingKeyProjectCompleted,
	}, keys)
}

func TestCompleteOutOfOrderRejected(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Initialize(ctx, 7)
	require.NoError(t, err)

	_, err = e.CompleteCurrentItem(ctx, 7, 102, 42, "")
	assert.ErrorIs(t, err, ErrOutOfOrder)

	// Tracker untouched, nothing logged.
	tr, err := store.GetTracker(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 101, *tr.CurrentLineItemID)
	assert.Empty(t, store.completed[7])
	assert.Empty(t, store.eventLog)
}

func TestDuplicateCompletionIsIdempotent(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Initialize(ctx, 7)
	require.NoError(t, err)

	_, err = e.CompleteCurrentItem(ctx, 7, 101, 42, "")
	require.NoError(t, err)

	res, err := e.CompleteCurrentItem(ctx, 7, 101, 42, "")
	require.NoError(t, err)
	assert.False(t, res.Advanced)
	assert.Equal(t, 102, *res.Tracker.CurrentLineItemID)

	// No second log entry or event.
	assert.Len(t, store.completed[7], 1)
	assert.Len(t, store.eventLog, 1)
}

func TestCompleteOnTerminalTracker(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Initialize(ctx, 7)
	require.NoError(t, err)
	for _, id := range []int{101, 102, 201} {
		_, err = e.CompleteCurrentItem(ctx, 7, id, 42, "")
		require.NoError(t, err)
	}

	_, err = e.CompleteCurrentItem(ctx, 7, 999, 42, "")
	assert.ErrorIs(t, err, ErrTrackerTerminal)
}

func TestCompleteUnknownProject(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.CompleteCurrentItem(context.Background(), 99, 101, 42, "")
	assert.ErrorIs(t, err, ErrTrackerNotFound)
}

func TestCompleteClosesDueAlert(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Initialize(ctx, 7)
	require.NoError(t, err)

	_, err = e.CompleteCurrentItem(ctx, 7, 101, 42, "")
	require.NoError(t, err)

	assert.Equal(t, []string{model.RuleKeyLineItemDue(101)}, store.completedAlerts)
}

func TestProgressReport(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Initialize(ctx, 7)
	require.NoError(t, err)
	_, err = e.CompleteCurrentItem(ctx, 7, 101, 42, "kickoff note")
	require.NoError(t, err)

	report, err := e.Progress(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, report.CompletedItems)
	assert.Equal(t, 3, report.TotalItems)
	require.NotNil(t, report.Current)
	assert.Equal(t, 102, report.Current.Item.ID)

	history, err := e.History(ctx, 7)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 101, history[0].LineItemID)
	assert.Equal(t, 42, history[0].CompletedBy)
	assert.Equal(t, "kickoff note", history[0].Notes)
}
