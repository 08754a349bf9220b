// Package coord schedules clash test execution. It owns the concurrency
// policy: a weighted semaphore bounds simultaneous runs, singleflight
// collapses concurrent triggers of the same test, and model updates fan out
// to dependent tests in parallel.
package coord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/fedra-bim/fedra/internal/clashes"
	"github.com/fedra-bim/fedra/internal/detect"
	"github.com/fedra-bim/fedra/internal/model"
	"github.com/fedra-bim/fedra/internal/registry"
)

// DefaultMaxConcurrentRuns bounds simultaneous detection runs. Each run
// holds two model snapshots and its candidate buffers, so the bound is
// really a memory bound.
const DefaultMaxConcurrentRuns = 4

// Coordinator wires registries, detector, and clash service into runnable
// operations.
type Coordinator struct {
	logger   *slog.Logger
	models   *registry.Models
	tests    *registry.Tests
	detector *detect.Detector
	service  *clashes.Service

	sem    *semaphore.Weighted
	flight singleflight.Group
	clock  func() time.Time

	// onRunCompleted fires after each successful run. Wired by the embedding
	// application; may be nil.
	onRunCompleted func(model.TestRunResult)
}

// New creates a coordinator. maxConcurrent <= 0 selects the default bound.
// The coordinator registers itself for model update fan-out.
func New(models *registry.Models, tests *registry.Tests, detector *detect.Detector,
	service *clashes.Service, logger *slog.Logger, maxConcurrent int) *Coordinator {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentRuns
	}
	return &Coordinator{
		logger:   logger,
		models:   models,
		tests:    tests,
		detector: detector,
		service:  service,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		clock:    time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (c *Coordinator) SetClock(clock func() time.Time) { c.clock = clock }

// OnRunCompleted registers the run-completion callback.
func (c *Coordinator) OnRunCompleted(fn func(model.TestRunResult)) { c.onRunCompleted = fn }

// RunTest executes one clash test end to end: snapshot both selections,
// detect, reconcile into the store, record the run on the test definition.
// Concurrent calls for the same test id share a single execution.
func (c *Coordinator) RunTest(ctx context.Context, testID uuid.UUID) (model.TestRunResult, error) {
	v, err, _ := c.flight.Do(testID.String(), func() (any, error) {
		return c.runTest(ctx, testID)
	})
	if err != nil {
		return model.TestRunResult{}, err
	}
	return v.(model.TestRunResult), nil
}

func (c *Coordinator) runTest(ctx context.Context, testID uuid.UUID) (model.TestRunResult, error) {
	test, err := c.tests.Get(testID)
	if err != nil {
		return model.TestRunResult{}, err
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return model.TestRunResult{}, err
	}
	defer c.sem.Release(1)

	started := c.clock().UTC()
	snapA, err := c.models.Snapshot(test.SelectionA.ModelID)
	if err != nil {
		return model.TestRunResult{}, fmt.Errorf("coord: run %s: %w", test.Name, err)
	}
	snapB, err := c.models.Snapshot(test.SelectionB.ModelID)
	if err != nil {
		return model.TestRunResult{}, fmt.Errorf("coord: run %s: %w", test.Name, err)
	}

	candidates, err := c.detector.Run(ctx, test, snapA, snapB)
	if err != nil {
		return model.TestRunResult{}, err
	}
	result, err := c.service.ReconcileRun(ctx, test, candidates)
	if err != nil {
		return model.TestRunResult{}, err
	}
	result.Started = started
	result.Duration = c.clock().UTC().Sub(started)

	if err := c.tests.MarkRun(testID, result.Total, started); err != nil {
		return model.TestRunResult{}, err
	}
	c.logger.Info("test run complete", "test_id", testID, "name", test.Name,
		"total", result.Total, "duration", result.Duration)
	if c.onRunCompleted != nil {
		c.onRunCompleted(result)
	}
	return result, nil
}

// RunAllResult collects per-test outcomes of a batch execution.
type RunAllResult struct {
	Results []model.TestRunResult
	Errors  map[uuid.UUID]error
}

// RunAll executes every registered test. One failing test does not abort the
// rest; failures are collected per test id. The semaphore still bounds
// actual parallelism.
func (c *Coordinator) RunAll(ctx context.Context) RunAllResult {
	return c.runBatch(ctx, c.tests.List())
}

// OnModelUpdated re-runs every test referencing the model, concurrently
// under the shared semaphore. Called by the registry update callback.
func (c *Coordinator) OnModelUpdated(ctx context.Context, modelID string) RunAllResult {
	dependent := c.tests.DependentOn(modelID)
	if len(dependent) == 0 {
		return RunAllResult{Errors: map[uuid.UUID]error{}}
	}
	c.logger.Info("model update fan-out", "model_id", modelID, "tests", len(dependent))
	return c.runBatch(ctx, dependent)
}

func (c *Coordinator) runBatch(ctx context.Context, tests []model.ClashTest) RunAllResult {
	out := RunAllResult{Errors: make(map[uuid.UUID]error)}
	var mu sync.Mutex
	var g errgroup.Group
	for _, test := range tests {
		g.Go(func() error {
			result, err := c.RunTest(ctx, test.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Errors[test.ID] = err
				return nil
			}
			out.Results = append(out.Results, result)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// RemoveModel cascades a model removal: dependent test definitions are
// deleted and their open clashes moved to Ignored with an audit comment.
// Historical closed clashes are kept.
func (c *Coordinator) RemoveModel(ctx context.Context, modelID string) error {
	if err := c.models.Remove(ctx, modelID); err != nil {
		return err
	}
	removed := c.tests.RemoveByModel(ctx, modelID)
	ignored, err := c.service.IgnoreForModel(ctx, modelID, "source model removed")
	if err != nil {
		return fmt.Errorf("coord: remove %s: %w", modelID, err)
	}
	c.logger.Info("model removal cascade complete",
		"model_id", modelID, "tests_removed", len(removed), "clashes_ignored", ignored)
	return nil
}
