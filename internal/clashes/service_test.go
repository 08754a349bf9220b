package clashes

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedra-bim/fedra/internal/geometry"
	"github.com/fedra-bim/fedra/internal/model"
	"github.com/fedra-bim/fedra/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(t *testing.T) (*Service, storage.ClashStore) {
	t.Helper()
	store := storage.NewMemory()
	t.Cleanup(func() { _ = store.Close() })
	return NewService(store, testLogger()), store
}

func candidate(aID, bID, catA, catB string, severity model.Severity) model.ClashCandidate {
	return model.ClashCandidate{
		ElementA: model.ElementRef{ID: aID, Category: catA, ModelID: "arch"},
		ElementB: model.ElementRef{ID: bID, Category: catB, ModelID: "mech"},
		PairKey:  model.PairKey(aID, bID),
		Point:    geometry.Point3{X: 1, Y: 2, Z: 3},
		Distance: -1.5,
		Volume:   3.375,
		Severity: severity,
	}
}

func TestReconcileCreatesNewClashes(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	test := model.ClashTest{ID: uuid.New()}

	var hooked []model.Clash
	svc.OnCreated(func(c model.Clash) { hooked = append(hooked, c) })

	result, err := svc.ReconcileRun(ctx, test, []model.ClashCandidate{
		candidate("w1", "d1", "Wall", "Duct", model.SeverityCritical),
		candidate("w2", "d2", "Wall", "Duct", model.SeverityMinor),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	assert.Zero(t, result.Updated)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, map[model.Severity]int{model.SeverityCritical: 1, model.SeverityMinor: 1}, result.BySeverity)
	require.Len(t, hooked, 2)
	assert.Equal(t, model.StatusNew, hooked[0].Status)
}

func TestReconcilePreservesLifecycleAcrossRuns(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	test := model.ClashTest{ID: uuid.New()}

	first, err := svc.ReconcileRun(ctx, test, []model.ClashCandidate{
		candidate("w1", "d1", "Wall", "Duct", model.SeverityMinor),
	})
	require.NoError(t, err)
	require.Equal(t, 1, first.Created)

	got, _, err := svc.Query(ctx, storage.ClashFilter{TestID: &test.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assigned, err := svc.Assign(ctx, got[0].ID, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, assigned.Status)

	// Second run observes the same pair with worse geometry.
	second, err := svc.ReconcileRun(ctx, test, []model.ClashCandidate{
		candidate("w1", "d1", "Wall", "Duct", model.SeverityCritical),
	})
	require.NoError(t, err)
	assert.Zero(t, second.Created)
	assert.Equal(t, 1, second.Updated)

	after, err := svc.Get(ctx, got[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, after.Status, "lifecycle survives re-detection")
	assert.Equal(t, "alice", after.AssignedTo)
	assert.Equal(t, model.SeverityCritical, after.Severity, "geometry is refreshed")
	require.Len(t, after.Comments, 1, "re-detection adds no comments")
}

func TestAutoCloseMissing(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	test := model.ClashTest{ID: uuid.New(), Settings: model.TestSettings{AutoCloseMissing: true}}

	_, err := svc.ReconcileRun(ctx, test, []model.ClashCandidate{
		candidate("w1", "d1", "Wall", "Duct", model.SeverityMinor),
		candidate("w2", "d2", "Wall", "Duct", model.SeverityMinor),
	})
	require.NoError(t, err)

	// The w2/d2 pair is gone in the next run.
	result, err := svc.ReconcileRun(ctx, test, []model.ClashCandidate{
		candidate("w1", "d1", "Wall", "Duct", model.SeverityMinor),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.AutoClosed)

	closed, _, err := svc.Query(ctx, storage.ClashFilter{
		TestID: &test.ID,
		Status: []model.ClashStatus{model.StatusResolved},
	})
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, model.PairKey("w2", "d2"), closed[0].PairKey)
	require.NotNil(t, closed[0].ResolvedAt)
	assert.Equal(t, "system", closed[0].ResolvedBy)
	require.Len(t, closed[0].Comments, 1)
	assert.Equal(t, model.StatusResolved, closed[0].Comments[0].StatusTo)

	// Default settings never auto-close.
	plain := model.ClashTest{ID: uuid.New()}
	_, err = svc.ReconcileRun(ctx, plain, []model.ClashCandidate{
		candidate("a", "b", "Wall", "Duct", model.SeverityMinor),
	})
	require.NoError(t, err)
	result, err = svc.ReconcileRun(ctx, plain, nil)
	require.NoError(t, err)
	assert.Zero(t, result.AutoClosed)
}

func TestReconcileAssignsGroups(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	test := model.ClashTest{
		ID:       uuid.New(),
		Settings: model.TestSettings{Grouping: model.GroupByCategory},
	}

	result, err := svc.ReconcileRun(ctx, test, []model.ClashCandidate{
		candidate("p1", "b1", "Pipe", "Beam", model.SeverityMinor),
		candidate("p2", "b2", "Pipe", "Beam", model.SeverityCritical),
		candidate("d1", "b3", "Duct", "Beam", model.SeverityMajor),
	})
	require.NoError(t, err)
	require.Len(t, result.Groups, 2)

	byKey := make(map[string]model.ClashGroup)
	for _, g := range result.Groups {
		byKey[g.Key] = g
	}
	pipe := byKey["category:Beam/Pipe"]
	assert.Len(t, pipe.ClashIDs, 2)
	assert.Equal(t, model.SeverityCritical, pipe.Severity)

	stored, _, err := svc.Query(ctx, storage.ClashFilter{GroupID: &pipe.ID})
	require.NoError(t, err)
	assert.Len(t, stored, 2, "group ids are persisted on the clashes")
}

func TestSetStatusLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	test := model.ClashTest{ID: uuid.New()}
	_, err := svc.ReconcileRun(ctx, test, []model.ClashCandidate{
		candidate("w1", "d1", "Wall", "Duct", model.SeverityMinor),
	})
	require.NoError(t, err)
	all, _, err := svc.Query(ctx, storage.ClashFilter{})
	require.NoError(t, err)
	id := all[0].ID

	resolved, err := svc.SetStatus(ctx, id, model.StatusResolved, "carol", "rerouted the duct")
	require.NoError(t, err)
	assert.Equal(t, model.StatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, "carol", resolved.ResolvedBy)
	require.Len(t, resolved.Comments, 1, "a transition appends exactly one comment")
	assert.Equal(t, model.StatusNew, resolved.Comments[0].StatusFrom)
	assert.Equal(t, model.StatusResolved, resolved.Comments[0].StatusTo)

	approved, err := svc.SetStatus(ctx, id, model.StatusApproved, "dave", "verified on site")
	require.NoError(t, err)
	assert.Equal(t, "carol", approved.ResolvedBy, "approval keeps the original resolution stamp")

	// Terminal states only reopen to Active.
	_, err = svc.SetStatus(ctx, id, model.StatusResolved, "dave", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	reopened, err := svc.SetStatus(ctx, id, model.StatusActive, "erin", "clash came back")
	require.NoError(t, err)
	assert.Nil(t, reopened.ResolvedAt, "reopening clears the resolution stamp")
	assert.Empty(t, reopened.ResolvedBy)
	assert.Len(t, reopened.Comments, 3)

	_, err = svc.SetStatus(ctx, id, model.ClashStatus("done"), "erin", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.SetStatus(ctx, uuid.New(), model.StatusActive, "erin", "")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBulkSetStatusCollectsPerItemErrors(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	test := model.ClashTest{ID: uuid.New()}
	_, err := svc.ReconcileRun(ctx, test, []model.ClashCandidate{
		candidate("w1", "d1", "Wall", "Duct", model.SeverityMinor),
		candidate("w2", "d2", "Wall", "Duct", model.SeverityMinor),
	})
	require.NoError(t, err)
	all, _, err := svc.Query(ctx, storage.ClashFilter{})
	require.NoError(t, err)

	missing := uuid.New()
	ids := []uuid.UUID{all[0].ID, missing, all[1].ID}
	updated, errs := svc.BulkSetStatus(ctx, ids, model.StatusApproved, "frank", "batch approval")
	assert.Len(t, updated, 2)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[missing], storage.ErrNotFound)
}

func TestAddComment(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	test := model.ClashTest{ID: uuid.New()}
	_, err := svc.ReconcileRun(ctx, test, []model.ClashCandidate{
		candidate("w1", "d1", "Wall", "Duct", model.SeverityMinor),
	})
	require.NoError(t, err)
	all, _, err := svc.Query(ctx, storage.ClashFilter{})
	require.NoError(t, err)

	c, err := svc.AddComment(ctx, all[0].ID, "grace", "needs a site visit")
	require.NoError(t, err)
	require.Len(t, c.Comments, 1)
	assert.Equal(t, "grace", c.Comments[0].Author)
	assert.Empty(t, c.Comments[0].StatusTo, "plain comments carry no transition")
	assert.Equal(t, model.StatusNew, c.Status)

	_, err = svc.AddComment(ctx, all[0].ID, "grace", "")
	assert.Error(t, err)
}

func TestIgnoreForModelCascade(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	test := model.ClashTest{ID: uuid.New()}
	_, err := svc.ReconcileRun(ctx, test, []model.ClashCandidate{
		candidate("w1", "d1", "Wall", "Duct", model.SeverityMinor),
		candidate("w2", "d2", "Wall", "Duct", model.SeverityMinor),
	})
	require.NoError(t, err)
	all, _, err := svc.Query(ctx, storage.ClashFilter{})
	require.NoError(t, err)

	// One clash is already resolved; the cascade leaves it alone.
	_, err = svc.SetStatus(ctx, all[0].ID, model.StatusResolved, "alice", "fixed")
	require.NoError(t, err)

	ignored, err := svc.IgnoreForModel(ctx, "mech", "source model removed")
	require.NoError(t, err)
	assert.Equal(t, 1, ignored)

	after, err := svc.Get(ctx, all[1].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusIgnored, after.Status)
	require.Len(t, after.Comments, 1)
	assert.Equal(t, "source model removed", after.Comments[0].Body)
	assert.Equal(t, "system", after.Comments[0].Author)

	untouched, err := svc.Get(ctx, all[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusResolved, untouched.Status)
}

func TestClockInjection(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return at })

	test := model.ClashTest{ID: uuid.New()}
	_, err := svc.ReconcileRun(ctx, test, []model.ClashCandidate{
		candidate("w1", "d1", "Wall", "Duct", model.SeverityMinor),
	})
	require.NoError(t, err)
	all, _, err := svc.Query(ctx, storage.ClashFilter{})
	require.NoError(t, err)
	assert.True(t, all[0].CreatedAt.Equal(at))
}
