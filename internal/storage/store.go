// Package storage provides the clash store: the only engine state mutated by
// concurrent producers. Detection logic never touches a backend directly —
// it talks to the ClashStore interface, which is backed by memory (default),
// a SQLite file, or Postgres.
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/fedra-bim/fedra/internal/model"
)

// ErrNotFound is returned when a requested clash does not exist.
var ErrNotFound = errors.New("storage: not found")

// ClashFilter narrows Query results. Nil/empty fields match everything.
type ClashFilter struct {
	TestID     *uuid.UUID
	Status     []model.ClashStatus
	Severity   []model.Severity
	AssignedTo string
	ModelID    string // matches either element's source model
	Category   string // matches either element's category
	GroupID    *uuid.UUID

	// SortBy is one of "severity", "created", "updated" (default "updated",
	// newest first; severity sorts highest first).
	SortBy string
	Limit  int // 0 means no limit
	Offset int
}

// Matches reports whether c passes every set filter. Shared by the memory
// backend and by in-memory post-filtering of reports.
func (f ClashFilter) Matches(c model.Clash) bool {
	if f.TestID != nil && c.TestID != *f.TestID {
		return false
	}
	if len(f.Status) > 0 && !containsStatus(f.Status, c.Status) {
		return false
	}
	if len(f.Severity) > 0 && !containsSeverity(f.Severity, c.Severity) {
		return false
	}
	if f.AssignedTo != "" && c.AssignedTo != f.AssignedTo {
		return false
	}
	if f.ModelID != "" && c.ElementA.ModelID != f.ModelID && c.ElementB.ModelID != f.ModelID {
		return false
	}
	if f.Category != "" && c.ElementA.Category != f.Category && c.ElementB.Category != f.Category {
		return false
	}
	if f.GroupID != nil && (c.GroupID == nil || *c.GroupID != *f.GroupID) {
		return false
	}
	return true
}

func containsStatus(list []model.ClashStatus, s model.ClashStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsSeverity(list []model.Severity, s model.Severity) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ClashStore is the canonical clash record store.
//
// UpsertByPairKey is the status-preserving upsert used by detection runs:
// it must be atomic per (testID, pairKey) so two concurrent runs reporting
// the same pair cannot lose an update. Everything else is plain CRUD.
type ClashStore interface {
	// Get returns a clash by id, or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (model.Clash, error)

	// GetByPairKey returns the clash with the given cross-run identity
	// within a test, or ErrNotFound.
	GetByPairKey(ctx context.Context, testID uuid.UUID, pairKey string) (model.Clash, error)

	// UpsertByPairKey atomically creates the clash returned by create when
	// no record exists for (testID, pairKey), or applies update to the
	// existing record. Returns the stored clash and whether it was created.
	UpsertByPairKey(ctx context.Context, testID uuid.UUID, pairKey string,
		create func() model.Clash, update func(*model.Clash)) (model.Clash, bool, error)

	// Put replaces a clash wholesale. The clash must already exist.
	Put(ctx context.Context, c model.Clash) error

	// Query returns clashes matching the filter plus the total match count
	// before pagination.
	Query(ctx context.Context, f ClashFilter) ([]model.Clash, int, error)

	// PairKeysForTest returns pairKey -> clash id for every clash of a test.
	// Used by the auto-close pass to find pairs absent from the latest run.
	PairKeysForTest(ctx context.Context, testID uuid.UUID) (map[string]uuid.UUID, error)

	// Close releases backend resources. Safe to call on in-memory stores.
	Close() error
}
