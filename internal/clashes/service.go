// Package clashes implements the clash lifecycle: reconciliation of detector
// output against the store, status transitions with audit comments, and the
// model-removal cascade.
package clashes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fedra-bim/fedra/internal/detect"
	"github.com/fedra-bim/fedra/internal/model"
	"github.com/fedra-bim/fedra/internal/storage"
)

// ErrInvalidTransition is returned when a requested status change violates
// the lifecycle.
var ErrInvalidTransition = errors.New("clashes: invalid status transition")

// systemAuthor marks audit comments written by the engine itself.
const systemAuthor = "system"

// Service owns all writes to the clash store.
type Service struct {
	store  storage.ClashStore
	logger *slog.Logger
	clock  func() time.Time

	// onCreated fires for each newly created clash, after the store write.
	// Wired by the embedding application; may be nil.
	onCreated func(model.Clash)
}

// NewService creates a clash lifecycle service over the given store.
func NewService(store storage.ClashStore, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		clock:  time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (s *Service) SetClock(clock func() time.Time) { s.clock = clock }

// OnCreated registers the new-clash callback. Passing nil removes it.
func (s *Service) OnCreated(fn func(model.Clash)) { s.onCreated = fn }

// ReconcileRun folds one detection run into the store. Candidates upsert by
// (testID, pairKey): an existing clash gets its geometry refreshed while
// status, assignment, and comments are preserved; an unseen pair becomes a
// New clash. With AutoCloseMissing set, stored pairs absent from this run
// are resolved with an automatic audit comment. Finally clashes observed in
// this run are regrouped per the test's grouping method.
func (s *Service) ReconcileRun(ctx context.Context, test model.ClashTest, candidates []model.ClashCandidate) (model.TestRunResult, error) {
	result := model.TestRunResult{
		TestID:     test.ID,
		BySeverity: make(map[model.Severity]int),
	}
	now := s.clock().UTC()

	observed := make(map[string]bool, len(candidates))
	current := make([]model.Clash, 0, len(candidates))
	for _, cand := range candidates {
		observed[cand.PairKey] = true
		stored, created, err := s.store.UpsertByPairKey(ctx, test.ID, cand.PairKey,
			func() model.Clash {
				return model.Clash{
					ID:        uuid.New(),
					TestID:    test.ID,
					PairKey:   cand.PairKey,
					ElementA:  cand.ElementA,
					ElementB:  cand.ElementB,
					Point:     cand.Point,
					Distance:  cand.Distance,
					Volume:    cand.Volume,
					Severity:  cand.Severity,
					Status:    model.StatusNew,
					CreatedAt: now,
					UpdatedAt: now,
				}
			},
			func(c *model.Clash) {
				c.ElementA = cand.ElementA
				c.ElementB = cand.ElementB
				c.Point = cand.Point
				c.Distance = cand.Distance
				c.Volume = cand.Volume
				c.Severity = cand.Severity
				c.UpdatedAt = now
			})
		if err != nil {
			return result, fmt.Errorf("clashes: reconcile %s: %w", cand.PairKey, err)
		}
		if created {
			result.Created++
			if s.onCreated != nil {
				s.onCreated(stored)
			}
		} else {
			result.Updated++
		}
		result.BySeverity[stored.Severity]++
		current = append(current, stored)
	}
	result.Total = len(current)

	if test.Settings.AutoCloseMissing {
		closed, err := s.autoCloseMissing(ctx, test.ID, observed, now)
		if err != nil {
			return result, err
		}
		result.AutoClosed = closed
	}

	if test.Settings.Grouping != model.GroupNone {
		groups, err := s.regroup(ctx, test, current)
		if err != nil {
			return result, err
		}
		result.Groups = groups
	}

	s.logger.Info("run reconciled", "test_id", test.ID,
		"created", result.Created, "updated", result.Updated,
		"auto_closed", result.AutoClosed, "total", result.Total)
	return result, nil
}

// autoCloseMissing resolves open clashes of the test whose pair key was not
// observed in the latest run.
func (s *Service) autoCloseMissing(ctx context.Context, testID uuid.UUID, observed map[string]bool, now time.Time) (int, error) {
	keys, err := s.store.PairKeysForTest(ctx, testID)
	if err != nil {
		return 0, fmt.Errorf("clashes: auto-close scan: %w", err)
	}
	closed := 0
	for pairKey, id := range keys {
		if observed[pairKey] {
			continue
		}
		c, err := s.store.Get(ctx, id)
		if err != nil {
			return closed, fmt.Errorf("clashes: auto-close %s: %w", pairKey, err)
		}
		if c.Status.Terminal() || !model.CanTransition(c.Status, model.StatusResolved) {
			continue
		}
		s.applyTransition(&c, model.StatusResolved, systemAuthor,
			"auto-closed: element pair no longer detected", now)
		if err := s.store.Put(ctx, c); err != nil {
			return closed, fmt.Errorf("clashes: auto-close %s: %w", pairKey, err)
		}
		closed++
	}
	return closed, nil
}

// regroup recomputes group membership for the run's clashes and stamps the
// fresh group ids.
func (s *Service) regroup(ctx context.Context, test model.ClashTest, current []model.Clash) ([]model.ClashGroup, error) {
	groups := detect.Group(test.Settings.Grouping, test.ID, current)
	byClash := make(map[uuid.UUID]uuid.UUID)
	for _, g := range groups {
		for _, id := range g.ClashIDs {
			byClash[id] = g.ID
		}
	}
	for _, c := range current {
		groupID, ok := byClash[c.ID]
		if !ok {
			continue
		}
		c.GroupID = &groupID
		if err := s.store.Put(ctx, c); err != nil {
			return nil, fmt.Errorf("clashes: assign group: %w", err)
		}
	}
	return groups, nil
}

// Assign sets the assignee and moves the clash to Active.
func (s *Service) Assign(ctx context.Context, id uuid.UUID, assignee, by string) (model.Clash, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Clash{}, err
	}
	if !model.CanTransition(c.Status, model.StatusActive) {
		return model.Clash{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, model.StatusActive)
	}
	now := s.clock().UTC()
	c.AssignedTo = assignee
	s.applyTransition(&c, model.StatusActive, by, fmt.Sprintf("assigned to %s", assignee), now)
	if err := s.store.Put(ctx, c); err != nil {
		return model.Clash{}, err
	}
	s.logger.Info("clash assigned", "clash_id", id, "assignee", assignee, "by", by)
	return c, nil
}

// SetStatus performs one lifecycle transition, appending exactly one audit
// comment. Resolved and Approved stamp ResolvedAt/ResolvedBy; reopening to
// Active clears them.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, to model.ClashStatus, by, note string) (model.Clash, error) {
	if !to.Valid() {
		return model.Clash{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Clash{}, err
	}
	if !model.CanTransition(c.Status, to) {
		return model.Clash{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
	}
	s.applyTransition(&c, to, by, note, s.clock().UTC())
	if err := s.store.Put(ctx, c); err != nil {
		return model.Clash{}, err
	}
	s.logger.Info("clash status changed", "clash_id", id, "status", to, "by", by)
	return c, nil
}

// BulkSetStatus applies the same transition to each clash in turn. Failures
// are collected per id; clashes already processed stay changed.
func (s *Service) BulkSetStatus(ctx context.Context, ids []uuid.UUID, to model.ClashStatus, by, note string) (updated []model.Clash, errs map[uuid.UUID]error) {
	errs = make(map[uuid.UUID]error)
	for _, id := range ids {
		c, err := s.SetStatus(ctx, id, to, by, note)
		if err != nil {
			errs[id] = err
			continue
		}
		updated = append(updated, c)
	}
	return updated, errs
}

// AddComment appends a free-form comment without touching the status.
func (s *Service) AddComment(ctx context.Context, id uuid.UUID, author, body string) (model.Clash, error) {
	if body == "" {
		return model.Clash{}, errors.New("clashes: comment body is required")
	}
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Clash{}, err
	}
	now := s.clock().UTC()
	c.Comments = append(c.Comments, model.Comment{
		ID:        uuid.New(),
		Author:    author,
		Body:      body,
		CreatedAt: now,
	})
	c.UpdatedAt = now
	if err := s.store.Put(ctx, c); err != nil {
		return model.Clash{}, err
	}
	return c, nil
}

// IgnoreForModel moves every open clash touching the model to Ignored. Part
// of the model-removal cascade; already-closed clashes are left alone.
func (s *Service) IgnoreForModel(ctx context.Context, modelID, reason string) (int, error) {
	matches, _, err := s.store.Query(ctx, storage.ClashFilter{ModelID: modelID})
	if err != nil {
		return 0, fmt.Errorf("clashes: cascade query: %w", err)
	}
	now := s.clock().UTC()
	ignored := 0
	for _, c := range matches {
		if c.Status.Terminal() || !model.CanTransition(c.Status, model.StatusIgnored) {
			continue
		}
		s.applyTransition(&c, model.StatusIgnored, systemAuthor, reason, now)
		if err := s.store.Put(ctx, c); err != nil {
			return ignored, fmt.Errorf("clashes: cascade %s: %w", c.ID, err)
		}
		ignored++
	}
	if ignored > 0 {
		s.logger.Info("clashes ignored for removed model", "model_id", modelID, "count", ignored)
	}
	return ignored, nil
}

// Query passes the filter through to the store.
func (s *Service) Query(ctx context.Context, f storage.ClashFilter) ([]model.Clash, int, error) {
	return s.store.Query(ctx, f)
}

// Get returns one clash by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (model.Clash, error) {
	return s.store.Get(ctx, id)
}

// applyTransition mutates c for a validated status change: the status, the
// single audit comment, timestamps, and the resolution stamp.
func (s *Service) applyTransition(c *model.Clash, to model.ClashStatus, by, note string, now time.Time) {
	from := c.Status
	c.Status = to
	c.UpdatedAt = now
	c.Comments = append(c.Comments, model.Comment{
		ID:         uuid.New(),
		Author:     by,
		Body:       note,
		StatusFrom: from,
		StatusTo:   to,
		CreatedAt:  now,
	})
	switch to {
	case model.StatusResolved, model.StatusApproved:
		if c.ResolvedAt == nil {
			at := now
			c.ResolvedAt = &at
			c.ResolvedBy = by
		}
	case model.StatusActive:
		c.ResolvedAt = nil
		c.ResolvedBy = ""
	}
}
