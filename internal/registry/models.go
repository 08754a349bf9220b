// Package registry owns the registered models and clash test definitions.
//
// Models publish immutable snapshots: UpdateElements builds a fresh element
// slice and spatial index, then swaps them in atomically. A detection run
// holds whatever snapshot it grabbed for its whole duration, so two
// concurrent runs can never observe a torn update.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fedra-bim/fedra/internal/index"
	"github.com/fedra-bim/fedra/internal/model"
)

var (
	// ErrDuplicateModel is returned when registering an id that exists.
	ErrDuplicateModel = errors.New("registry: model already registered")
	// ErrModelNotFound is returned for operations on unknown model ids.
	ErrModelNotFound = errors.New("registry: model not found")
)

// ModelSnapshot is the immutable view of a model's elements handed to
// detection runs. Neither the slice nor the grid is mutated after publish.
type ModelSnapshot struct {
	Model    model.Model
	Elements []model.Element
	Index    *index.Grid
}

type modelEntry struct {
	info     model.Model
	snapshot *ModelSnapshot
}

// Models is the model registry.
type Models struct {
	logger *slog.Logger
	clock  func() time.Time

	mu      sync.RWMutex
	entries map[string]*modelEntry

	// onUpdate is invoked (outside the registry lock) after each element
	// swap, with the updating caller's context so the triggered work stays
	// cancellable from the top-level call. Explicit callback instead of an
	// ambient event bus so teardown is deterministic.
	onUpdate func(ctx context.Context, modelID string)
}

// NewModels creates an empty model registry.
func NewModels(logger *slog.Logger) *Models {
	return &Models{
		logger:  logger,
		clock:   time.Now,
		entries: make(map[string]*modelEntry),
	}
}

// SetClock overrides the time source. Tests only.
func (m *Models) SetClock(clock func() time.Time) { m.clock = clock }

// OnUpdate registers the single update callback. The coordinator owns it;
// passing nil removes it.
func (m *Models) OnUpdate(fn func(ctx context.Context, modelID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// Register adds a model with no elements yet.
func (m *Models) Register(ctx context.Context, id, name string, discipline model.Discipline, source string) (model.Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[id]; ok {
		return model.Model{}, fmt.Errorf("%w: %s", ErrDuplicateModel, id)
	}
	now := m.clock().UTC()
	info := model.Model{
		ID:           id,
		Name:         name,
		Discipline:   discipline,
		Source:       source,
		Status:       model.ModelStatusRegistered,
		RegisteredAt: now,
		LastUpdated:  now,
	}
	m.entries[id] = &modelEntry{
		info: info,
		snapshot: &ModelSnapshot{
			Model: info,
			Index: index.Build(nil),
		},
	}
	m.logger.Info("model registered", "model_id", id, "discipline", discipline)
	return info, nil
}

// UpdateElements replaces the model's element list wholesale, rebuilds the
// spatial index, and publishes a new snapshot. Element ModelID fields are
// stamped with the registry id.
func (m *Models) UpdateElements(ctx context.Context, modelID string, elements []model.Element) error {
	owned := make([]model.Element, len(elements))
	copy(owned, elements)
	for i := range owned {
		owned[i].ModelID = modelID
	}
	// Index build is the expensive part; do it before taking the lock.
	grid := index.Build(owned)

	m.mu.Lock()
	entry, ok := m.entries[modelID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrModelNotFound, modelID)
	}
	entry.info.Status = model.ModelStatusLoaded
	entry.info.ElementCount = len(owned)
	entry.info.LastUpdated = m.clock().UTC()
	entry.snapshot = &ModelSnapshot{
		Model:    entry.info,
		Elements: owned,
		Index:    grid,
	}
	callback := m.onUpdate
	m.mu.Unlock()

	m.logger.Info("model elements updated", "model_id", modelID, "elements", len(owned))
	if callback != nil {
		callback(ctx, modelID)
	}
	return nil
}

// Remove deletes a model. Cascade handling (dependent tests, historical
// clashes) is the coordinator's job.
func (m *Models) Remove(ctx context.Context, modelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[modelID]; !ok {
		return fmt.Errorf("%w: %s", ErrModelNotFound, modelID)
	}
	delete(m.entries, modelID)
	m.logger.Info("model removed", "model_id", modelID)
	return nil
}

// Get returns the model's metadata.
func (m *Models) Get(modelID string) (model.Model, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[modelID]
	if !ok {
		return model.Model{}, fmt.Errorf("%w: %s", ErrModelNotFound, modelID)
	}
	return entry.info, nil
}

// Snapshot returns the model's current immutable snapshot.
func (m *Models) Snapshot(modelID string) (*ModelSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[modelID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, modelID)
	}
	return entry.snapshot, nil
}

// List returns all registered models.
func (m *Models) List() []model.Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Model, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.info)
	}
	return out
}

// UpdatedSince returns ids of models whose elements changed within window.
func (m *Models) UpdatedSince(window time.Duration) []string {
	cutoff := m.clock().UTC().Add(-window)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for id, e := range m.entries {
		if e.info.LastUpdated.After(cutoff) && e.info.Status == model.ModelStatusLoaded {
			out = append(out, id)
		}
	}
	return out
}

// Disciplines returns the distinct disciplines with at least one model.
func (m *Models) Disciplines() []model.Discipline {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[model.Discipline]bool)
	var out []model.Discipline
	for _, e := range m.entries {
		if !seen[e.info.Discipline] {
			seen[e.info.Discipline] = true
			out = append(out, e.info.Discipline)
		}
	}
	return out
}

// ByDiscipline returns ids of models in the given discipline.
func (m *Models) ByDiscipline(d model.Discipline) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for id, e := range m.entries {
		if e.info.Discipline == d {
			out = append(out, id)
		}
	}
	return out
}
