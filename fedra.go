// Package fedra is the public API for embedding the Fedra model
// coordination engine.
//
// Consumers construct an App, feed it discipline models, define clash
// tests, and run detection:
//
//	app, err := fedra.New(
//	    fedra.WithLogger(logger),
//	    fedra.WithAdvisor(myAdvisor),
//	)
//	if err != nil { ... }
//	defer app.Close()
//
//	app.RegisterModel(ctx, "mech", "Mechanical", fedra.DisciplineMechanical, "mech.ifc")
//	app.UpdateModelElements(ctx, "mech", elements)
//	result, err := app.RunTest(ctx, testID)
//
// The import graph enforces a strict no-cycle rule: fedra (root) imports
// internal/*, but internal/* never imports fedra (root).
package fedra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/fedra-bim/fedra/internal/clashes"
	"github.com/fedra-bim/fedra/internal/config"
	"github.com/fedra-bim/fedra/internal/coord"
	"github.com/fedra-bim/fedra/internal/detect"
	"github.com/fedra-bim/fedra/internal/mcp"
	"github.com/fedra-bim/fedra/internal/model"
	"github.com/fedra-bim/fedra/internal/monitor"
	"github.com/fedra-bim/fedra/internal/registry"
	"github.com/fedra-bim/fedra/internal/report"
	"github.com/fedra-bim/fedra/internal/storage"
	"github.com/fedra-bim/fedra/internal/telemetry"
	"github.com/fedra-bim/fedra/migrations"
)

// App is the coordination engine lifecycle. Construct with New(), optionally
// start background work with Run() or StartMonitoring(), release resources
// with Close(). All operations are safe for concurrent use.
type App struct {
	cfg          config.Config
	logger       *slog.Logger
	store        storage.ClashStore
	ownsStore    bool
	models       *registry.Models
	tests        *registry.Tests
	service      *clashes.Service
	coordinator  *coord.Coordinator
	monitor      *monitor.Monitor
	mcpServer    *mcp.Server
	loader       ElementLoader
	hooks        []ClashHook
	otelShutdown telemetry.Shutdown
	version      string
}

// New initialises the engine: configuration, telemetry, the clash store
// (connecting and migrating if Postgres), and all subsystems. It does not
// start any goroutines — call Run or StartMonitoring.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Validation waits until the options have been applied, so an option can
	// satisfy a requirement the environment leaves open.
	cfg := config.FromEnv()
	if o.storageBackend != "" {
		cfg.Storage = o.storageBackend
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.sqlitePath != "" {
		cfg.SQLitePath = o.sqlitePath
	}
	if o.maxConcurrentRuns > 0 {
		cfg.MaxConcurrentRuns = o.maxConcurrentRuns
	}
	if o.monitorInterval > 0 {
		cfg.MonitorInterval = o.monitorInterval
	}
	if o.monitorWindow > 0 {
		cfg.MonitorWindow = o.monitorWindow
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("fedra starting", "version", version, "storage", cfg.Storage)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, true)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	store, ownsStore, err := openStore(cfg, o.store, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, err
	}

	app := &App{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		ownsStore:    ownsStore,
		loader:       o.loader,
		hooks:        o.hooks,
		otelShutdown: otelShutdown,
		version:      version,
	}

	app.models = registry.NewModels(logger)
	app.tests = registry.NewTests(app.models, logger)
	app.service = clashes.NewService(store, logger)
	app.coordinator = coord.New(app.models, app.tests, detect.New(logger),
		app.service, logger, cfg.MaxConcurrentRuns)
	app.monitor = monitor.New(app.coordinator, app.models, app.tests,
		app.service, o.advisor, cfg.MonitorInterval, cfg.MonitorWindow, logger)

	if o.clock != nil {
		app.models.SetClock(o.clock)
		app.tests.SetClock(o.clock)
		app.service.SetClock(o.clock)
		app.coordinator.SetClock(o.clock)
	}

	// Model updates re-run every dependent test before returning, so a
	// caller that updates elements sees fresh clashes immediately. The
	// caller's context rides along: cancelling the update cancels the runs.
	app.models.OnUpdate(func(ctx context.Context, modelID string) {
		out := app.coordinator.OnModelUpdated(ctx, modelID)
		for testID, err := range out.Errors {
			app.logger.Error("update fan-out run failed", "model_id", modelID, "test_id", testID, "error", err)
		}
	})

	if len(app.hooks) > 0 {
		app.service.OnCreated(app.fireClashCreated)
		app.coordinator.OnRunCompleted(app.fireRunCompleted)
	}
	if cfg.MCPEnabled {
		app.mcpServer = mcp.New(app.models, app.tests, app.coordinator, app.service, version, logger)
	}
	return app, nil
}

// openStore builds the configured store unless the caller supplied one.
func openStore(cfg config.Config, provided storage.ClashStore, logger *slog.Logger) (storage.ClashStore, bool, error) {
	if provided != nil {
		return provided, false, nil
	}
	switch cfg.Storage {
	case config.StorageMemory:
		return storage.NewMemory(), true, nil
	case config.StorageSQLite:
		s, err := storage.NewSQLite(context.Background(), cfg.SQLitePath)
		if err != nil {
			return nil, false, fmt.Errorf("storage: %w", err)
		}
		return s, true, nil
	case config.StoragePostgres:
		p, err := storage.NewPostgres(context.Background(), cfg.DatabaseURL, logger)
		if err != nil {
			return nil, false, fmt.Errorf("storage: %w", err)
		}
		if err := p.RunMigrations(context.Background(), migrations.FS); err != nil {
			_ = p.Close()
			return nil, false, fmt.Errorf("migrations: %w", err)
		}
		return p, true, nil
	default:
		return nil, false, fmt.Errorf("storage: unknown backend %q", cfg.Storage)
	}
}

// Run starts the monitor loop (and the MCP stdio server when enabled) and
// blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.monitor.Start(ctx); err != nil {
		return err
	}
	defer a.monitor.Stop()

	if a.mcpServer != nil {
		// The transport shares ctx, so cancellation shuts it down and Run
		// returns only once the serve loop has exited.
		if err := a.mcpServer.ServeStdio(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp: %w", err)
		}
		return nil
	}
	<-ctx.Done()
	return nil
}

// Close releases engine resources. Safe to call after a cancelled Run.
func (a *App) Close() error {
	a.monitor.Stop()
	var firstErr error
	if a.ownsStore {
		if err := a.store.Close(); err != nil {
			firstErr = err
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.otelShutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Version returns the configured version string.
func (a *App) Version() string { return a.version }

// --- Models ---

// RegisterModel adds a discipline model with no elements yet.
func (a *App) RegisterModel(ctx context.Context, id, name string, discipline Discipline, source string) (Model, error) {
	return a.models.Register(ctx, id, name, discipline, source)
}

// UpdateModelElements replaces the model's elements, rebuilds its spatial
// index, and re-runs every clash test referencing the model.
func (a *App) UpdateModelElements(ctx context.Context, modelID string, elements []Element) error {
	return a.models.UpdateElements(ctx, modelID, elements)
}

// LoadModelElements loads elements through the configured ElementLoader and
// applies them as an update.
func (a *App) LoadModelElements(ctx context.Context, modelID, source, format string) error {
	if a.loader == nil {
		return errors.New("fedra: no element loader configured")
	}
	elements, err := a.loader.Load(ctx, source, format)
	if err != nil {
		return fmt.Errorf("fedra: load %s: %w", source, err)
	}
	return a.models.UpdateElements(ctx, modelID, elements)
}

// RemoveModel removes a model and cascades: dependent tests are deleted and
// their open clashes moved to Ignored. Closed clash records are kept.
func (a *App) RemoveModel(ctx context.Context, modelID string) error {
	return a.coordinator.RemoveModel(ctx, modelID)
}

// ListModels returns all registered models.
func (a *App) ListModels() []Model { return a.models.List() }

// GetModel returns one model's metadata.
func (a *App) GetModel(modelID string) (Model, error) { return a.models.Get(modelID) }

// --- Tests ---

// CreateTest validates and stores a clash test definition.
func (a *App) CreateTest(ctx context.Context, name string, typ TestType, selA, selB SelectionSet, settings TestSettings) (ClashTest, error) {
	return a.tests.Create(ctx, name, typ, selA, selB, settings)
}

// GenerateStandardTests creates one Hard test per ordered pair of distinct
// disciplines that both have models. Idempotent by test name.
func (a *App) GenerateStandardTests(ctx context.Context, settings TestSettings) ([]ClashTest, error) {
	return a.tests.GenerateStandardPairs(ctx, settings)
}

// ListTests returns all test definitions.
func (a *App) ListTests() []ClashTest { return a.tests.List() }

// RemoveTest deletes a test definition. Its clash records are kept.
func (a *App) RemoveTest(ctx context.Context, id uuid.UUID) error {
	return a.tests.Remove(ctx, id)
}

// RunTest executes one clash test. Concurrent calls for the same test share
// a single execution; distinct tests run in parallel up to the configured
// bound.
func (a *App) RunTest(ctx context.Context, id uuid.UUID) (TestRunResult, error) {
	return a.coordinator.RunTest(ctx, id)
}

// RunAll executes every test, collecting per-test failures.
func (a *App) RunAll(ctx context.Context) RunAllResult {
	return a.coordinator.RunAll(ctx)
}

// --- Clashes ---

// AssignClash sets the assignee and moves the clash to Active.
func (a *App) AssignClash(ctx context.Context, id uuid.UUID, assignee, by string) (Clash, error) {
	return a.service.Assign(ctx, id, assignee, by)
}

// SetClashStatus performs one lifecycle transition with an audit comment.
func (a *App) SetClashStatus(ctx context.Context, id uuid.UUID, status ClashStatus, by, note string) (Clash, error) {
	return a.service.SetStatus(ctx, id, status, by, note)
}

// BulkSetClashStatus applies the same transition to each clash, collecting
// per-clash errors instead of aborting.
func (a *App) BulkSetClashStatus(ctx context.Context, ids []uuid.UUID, status ClashStatus, by, note string) ([]Clash, map[uuid.UUID]error) {
	return a.service.BulkSetStatus(ctx, ids, status, by, note)
}

// AddClashComment appends a free-form comment.
func (a *App) AddClashComment(ctx context.Context, id uuid.UUID, author, body string) (Clash, error) {
	return a.service.AddComment(ctx, id, author, body)
}

// QueryClashes returns clashes matching the filter plus the total match
// count before pagination.
func (a *App) QueryClashes(ctx context.Context, f ClashFilter) ([]Clash, int, error) {
	return a.service.Query(ctx, f)
}

// GetClash returns one clash by id.
func (a *App) GetClash(ctx context.Context, id uuid.UUID) (Clash, error) {
	return a.service.Get(ctx, id)
}

// --- Reporting ---

// Statistics aggregates clashes matching the filter.
func (a *App) Statistics(ctx context.Context, f ClashFilter) (Stats, error) {
	f.Limit = 0
	f.Offset = 0
	matches, _, err := a.service.Query(ctx, f)
	if err != nil {
		return Stats{}, err
	}
	return report.Statistics(matches), nil
}

// GenerateReport builds a coordination report over the store.
func (a *App) GenerateReport(ctx context.Context, req ReportRequest) (Report, error) {
	return report.Generate(ctx, a.store, req)
}

// --- Monitoring ---

// StartMonitoring launches the background loop without blocking.
func (a *App) StartMonitoring(ctx context.Context) error {
	return a.monitor.Start(ctx)
}

// StopMonitoring cancels the loop and waits for it to exit. Idempotent.
func (a *App) StopMonitoring() { a.monitor.Stop() }

// --- Hooks ---

func (a *App) fireClashCreated(c model.Clash) {
	for _, h := range a.hooks {
		go func() {
			if err := h.OnClashCreated(context.Background(), c); err != nil {
				a.logger.Warn("clash hook failed", "hook", fmt.Sprintf("%T", h), "error", err)
			}
		}()
	}
}

func (a *App) fireRunCompleted(result model.TestRunResult) {
	for _, h := range a.hooks {
		go func() {
			if err := h.OnRunCompleted(context.Background(), result); err != nil {
				a.logger.Warn("run hook failed", "hook", fmt.Sprintf("%T", h), "error", err)
			}
		}()
	}
}
