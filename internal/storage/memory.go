package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/fedra-bim/fedra/internal/model"
)

// Memory is the in-memory ClashStore. It is the default backend and the one
// unit tests run against. A single mutex serializes upserts, which makes the
// per-pairKey atomicity requirement trivial.
type Memory struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]model.Clash
	byPair  map[pairID]uuid.UUID
}

type pairID struct {
	testID  uuid.UUID
	pairKey string
}

// NewMemory creates an empty in-memory clash store.
func NewMemory() *Memory {
	return &Memory{
		byID:   make(map[uuid.UUID]model.Clash),
		byPair: make(map[pairID]uuid.UUID),
	}
}

func (m *Memory) Get(ctx context.Context, id uuid.UUID) (model.Clash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[id]
	if !ok {
		return model.Clash{}, ErrNotFound
	}
	return cloneClash(c), nil
}

func (m *Memory) GetByPairKey(ctx context.Context, testID uuid.UUID, pairKey string) (model.Clash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byPair[pairID{testID: testID, pairKey: pairKey}]
	if !ok {
		return model.Clash{}, ErrNotFound
	}
	return cloneClash(m.byID[id]), nil
}

func (m *Memory) UpsertByPairKey(ctx context.Context, testID uuid.UUID, pairKey string,
	create func() model.Clash, update func(*model.Clash)) (model.Clash, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Clash{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairID{testID: testID, pairKey: pairKey}
	if id, ok := m.byPair[key]; ok {
		c := m.byID[id]
		update(&c)
		m.byID[id] = c
		return cloneClash(c), false, nil
	}

	c := create()
	m.byID[c.ID] = c
	m.byPair[key] = c.ID
	return cloneClash(c), true, nil
}

func (m *Memory) Put(ctx context.Context, c model.Clash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[c.ID]; !ok {
		return ErrNotFound
	}
	m.byID[c.ID] = cloneClash(c)
	return nil
}

func (m *Memory) Query(ctx context.Context, f ClashFilter) ([]model.Clash, int, error) {
	m.mu.RLock()
	matched := make([]model.Clash, 0, len(m.byID))
	for _, c := range m.byID {
		if f.Matches(c) {
			matched = append(matched, cloneClash(c))
		}
	}
	m.mu.RUnlock()

	SortClashes(matched, f.SortBy)
	total := len(matched)
	matched = Page(matched, f.Limit, f.Offset)
	return matched, total, nil
}

func (m *Memory) PairKeysForTest(ctx context.Context, testID uuid.UUID) (map[string]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]uuid.UUID)
	for key, id := range m.byPair {
		if key.testID == testID {
			out[key.pairKey] = id
		}
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

// cloneClash deep-copies the slice fields so callers can't mutate stored state.
func cloneClash(c model.Clash) model.Clash {
	if len(c.Comments) > 0 {
		c.Comments = append([]model.Comment(nil), c.Comments...)
	}
	if c.GroupID != nil {
		g := *c.GroupID
		c.GroupID = &g
	}
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		c.ResolvedAt = &t
	}
	return c
}

// SortClashes orders clashes by the named sort key. "severity" sorts highest
// first; "created" and "updated" sort newest first. Ties break on id so the
// ordering is deterministic regardless of input order.
func SortClashes(clashes []model.Clash, sortBy string) {
	less := func(a, b model.Clash) bool {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	switch sortBy {
	case "severity":
		less = func(a, b model.Clash) bool {
			if a.Severity.Rank() != b.Severity.Rank() {
				return a.Severity.Rank() > b.Severity.Rank()
			}
			return a.Distance < b.Distance // deeper penetration first
		}
	case "created":
		less = func(a, b model.Clash) bool {
			return a.CreatedAt.After(b.CreatedAt)
		}
	}
	sort.Slice(clashes, func(i, j int) bool {
		a, b := clashes[i], clashes[j]
		if less(a, b) != less(b, a) {
			return less(a, b)
		}
		return a.ID.String() < b.ID.String()
	})
}

// Page applies limit/offset to an already-sorted slice.
func Page(clashes []model.Clash, limit, offset int) []model.Clash {
	if offset >= len(clashes) {
		return nil
	}
	clashes = clashes[offset:]
	if limit > 0 && limit < len(clashes) {
		clashes = clashes[:limit]
	}
	return clashes
}
