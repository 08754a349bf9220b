package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fedra-bim/fedra/internal/model"
)

var (
	// ErrTestNotFound is returned for operations on unknown test ids.
	ErrTestNotFound = errors.New("registry: clash test not found")
	// ErrInvalidTest is returned when a test definition fails validation.
	// Surfaced at creation time so misconfiguration is caught early, not
	// at run time.
	ErrInvalidTest = errors.New("registry: invalid clash test")
)

// Tests is the clash test registry. Test definitions reference models by id;
// both sides are validated against the model registry at creation.
type Tests struct {
	logger *slog.Logger
	models *Models
	clock  func() time.Time

	mu    sync.RWMutex
	tests map[uuid.UUID]*model.ClashTest
}

// NewTests creates an empty test registry bound to a model registry.
func NewTests(models *Models, logger *slog.Logger) *Tests {
	return &Tests{
		logger: logger,
		models: models,
		clock:  time.Now,
		tests:  make(map[uuid.UUID]*model.ClashTest),
	}
}

// SetClock overrides the time source. Tests only.
func (t *Tests) SetClock(clock func() time.Time) { t.clock = clock }

// Create validates and stores a new clash test.
func (t *Tests) Create(ctx context.Context, name string, typ model.TestType,
	selA, selB model.SelectionSet, settings model.TestSettings) (model.ClashTest, error) {
	if name == "" {
		return model.ClashTest{}, fmt.Errorf("%w: name is required", ErrInvalidTest)
	}
	if !typ.Valid() {
		return model.ClashTest{}, fmt.Errorf("%w: unknown test type %q", ErrInvalidTest, typ)
	}
	settings.Normalize()
	if !settings.Grouping.Valid() {
		return model.ClashTest{}, fmt.Errorf("%w: unknown grouping method %q", ErrInvalidTest, settings.Grouping)
	}
	if typ == model.TestClearance && settings.ClearanceDistance <= 0 {
		return model.ClashTest{}, fmt.Errorf("%w: clearance test requires a positive clearance distance", ErrInvalidTest)
	}
	if _, err := t.models.Get(selA.ModelID); err != nil {
		return model.ClashTest{}, fmt.Errorf("%w: selection A references unknown model %q", ErrInvalidTest, selA.ModelID)
	}
	if _, err := t.models.Get(selB.ModelID); err != nil {
		return model.ClashTest{}, fmt.Errorf("%w: selection B references unknown model %q", ErrInvalidTest, selB.ModelID)
	}

	test := model.ClashTest{
		ID:         uuid.New(),
		Name:       name,
		Type:       typ,
		SelectionA: selA,
		SelectionB: selB,
		Settings:   settings,
		Status:     model.TestStatusActive,
		CreatedAt:  t.clock().UTC(),
	}

	t.mu.Lock()
	t.tests[test.ID] = &test
	t.mu.Unlock()

	t.logger.Info("clash test created", "test_id", test.ID, "name", name, "type", typ)
	return test, nil
}

// GenerateStandardPairs creates one Hard test per ordered pair of distinct
// disciplines that both have at least one model, using the first model of
// each discipline and the given settings. Pairs whose test name already
// exists are skipped, so repeated generation is idempotent.
func (t *Tests) GenerateStandardPairs(ctx context.Context, settings model.TestSettings) ([]model.ClashTest, error) {
	disciplines := t.models.Disciplines()
	sort.Slice(disciplines, func(i, j int) bool { return disciplines[i] < disciplines[j] })

	existing := make(map[string]bool)
	for _, test := range t.List() {
		existing[test.Name] = true
	}

	var created []model.ClashTest
	for _, da := range disciplines {
		for _, db := range disciplines {
			if da == db {
				continue
			}
			modelsA := t.models.ByDiscipline(da)
			modelsB := t.models.ByDiscipline(db)
			if len(modelsA) == 0 || len(modelsB) == 0 {
				continue
			}
			sort.Strings(modelsA)
			sort.Strings(modelsB)
			name := fmt.Sprintf("%s vs %s", da, db)
			if existing[name] {
				continue
			}
			test, err := t.Create(ctx, name, model.TestHard,
				model.SelectionSet{ModelID: modelsA[0]},
				model.SelectionSet{ModelID: modelsB[0]},
				settings)
			if err != nil {
				return created, fmt.Errorf("generate %s: %w", name, err)
			}
			created = append(created, test)
		}
	}
	return created, nil
}

// Get returns a test by id.
func (t *Tests) Get(id uuid.UUID) (model.ClashTest, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	test, ok := t.tests[id]
	if !ok {
		return model.ClashTest{}, fmt.Errorf("%w: %s", ErrTestNotFound, id)
	}
	return *test, nil
}

// List returns all tests sorted by creation time then id.
func (t *Tests) List() []model.ClashTest {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.ClashTest, 0, len(t.tests))
	for _, test := range t.tests {
		out = append(out, *test)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// AutoRefresh returns the tests opted into monitor re-runs.
func (t *Tests) AutoRefresh() []model.ClashTest {
	var out []model.ClashTest
	for _, test := range t.List() {
		if test.Settings.AutoRefresh && test.Status == model.TestStatusActive {
			out = append(out, test)
		}
	}
	return out
}

// Remove deletes a test definition.
func (t *Tests) Remove(ctx context.Context, id uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.tests[id]; !ok {
		return fmt.Errorf("%w: %s", ErrTestNotFound, id)
	}
	delete(t.tests, id)
	t.logger.Info("clash test removed", "test_id", id)
	return nil
}

// RemoveByModel deletes every test referencing the model on either side and
// returns the removed definitions. Used by the model-removal cascade.
func (t *Tests) RemoveByModel(ctx context.Context, modelID string) []model.ClashTest {
	t.mu.Lock()
	defer t.mu.Unlock()
	var removed []model.ClashTest
	for id, test := range t.tests {
		if test.SelectionA.ModelID == modelID || test.SelectionB.ModelID == modelID {
			removed = append(removed, *test)
			delete(t.tests, id)
		}
	}
	if len(removed) > 0 {
		t.logger.Info("clash tests removed with model", "model_id", modelID, "count", len(removed))
	}
	return removed
}

// DependentOn returns tests referencing the model on either side.
func (t *Tests) DependentOn(modelID string) []model.ClashTest {
	var out []model.ClashTest
	for _, test := range t.List() {
		if test.SelectionA.ModelID == modelID || test.SelectionB.ModelID == modelID {
			out = append(out, test)
		}
	}
	return out
}

// MarkRun records a completed run on the test definition.
func (t *Tests) MarkRun(id uuid.UUID, clashCount int, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	test, ok := t.tests[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTestNotFound, id)
	}
	at = at.UTC()
	test.LastRun = &at
	test.LastClashCount = clashCount
	return nil
}
