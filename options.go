package fedra

import (
	"log/slog"
	"time"

	"github.com/fedra-bim/fedra/internal/storage"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	logger            *slog.Logger
	version           string
	store             storage.ClashStore
	advisor           Advisor
	loader            ElementLoader
	hooks             []ClashHook
	maxConcurrentRuns int
	monitorInterval   time.Duration
	monitorWindow     time.Duration
	databaseURL       string
	sqlitePath        string
	storageBackend    string
	clock             func() time.Time
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and the MCP server.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithStore replaces the configured clash store with a caller-owned one.
// The App does not close a store provided this way.
func WithStore(s storage.ClashStore) Option {
	return func(o *resolvedOptions) { o.store = s }
}

// WithAdvisor sets the advisory collaborator consulted by the monitor loop.
// If not set, the advisory pass is skipped.
func WithAdvisor(a Advisor) Option {
	return func(o *resolvedOptions) { o.advisor = a }
}

// WithElementLoader sets the loader used by LoadModelElements to read
// elements from an external source.
func WithElementLoader(l ElementLoader) Option {
	return func(o *resolvedOptions) { o.loader = l }
}

// WithClashHook registers a lifecycle hook. Multiple hooks may be
// registered; all receive every event.
func WithClashHook(h ClashHook) Option {
	return func(o *resolvedOptions) { o.hooks = append(o.hooks, h) }
}

// WithMaxConcurrentRuns overrides the bound on simultaneous test runs
// (FEDRA_MAX_CONCURRENT_RUNS env var).
func WithMaxConcurrentRuns(n int) Option {
	return func(o *resolvedOptions) { o.maxConcurrentRuns = n }
}

// WithMonitorInterval overrides the monitor tick period
// (FEDRA_MONITOR_INTERVAL env var).
func WithMonitorInterval(d time.Duration) Option {
	return func(o *resolvedOptions) { o.monitorInterval = d }
}

// WithMonitorWindow overrides how recent a model update must be for the
// advisory pass (FEDRA_MONITOR_WINDOW env var).
func WithMonitorWindow(d time.Duration) Option {
	return func(o *resolvedOptions) { o.monitorWindow = d }
}

// WithStorageBackend overrides the storage backend name from config
// (FEDRA_STORAGE env var): "memory", "sqlite", or "postgres".
func WithStorageBackend(backend string) Option {
	return func(o *resolvedOptions) { o.storageBackend = backend }
}

// WithDatabaseURL overrides the Postgres connection string from config
// (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithSQLitePath overrides the SQLite database file from config
// (FEDRA_SQLITE_PATH env var).
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) { o.sqlitePath = path }
}

// WithClock overrides the time source used for timestamps. Tests only.
func WithClock(clock func() time.Time) Option {
	return func(o *resolvedOptions) { o.clock = clock }
}
