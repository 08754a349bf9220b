// Package monitor runs the background coordination loop: periodic re-runs
// of auto-refresh tests and advisory analysis of recently updated models.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/fedra-bim/fedra/internal/clashes"
	"github.com/fedra-bim/fedra/internal/coord"
	"github.com/fedra-bim/fedra/internal/model"
	"github.com/fedra-bim/fedra/internal/registry"
	"github.com/fedra-bim/fedra/internal/storage"
	"github.com/fedra-bim/fedra/internal/telemetry"
)

const (
	// DefaultInterval is the tick period when none is configured.
	DefaultInterval = time.Minute
	// DefaultWindow is how far back a model update counts as "recent" for
	// advisory analysis.
	DefaultWindow = 10 * time.Minute
)

// Advisory is the external collaborator's view of at-risk coordination work.
type Advisory struct {
	Summary     string   `json:"summary"`
	AtRiskPairs []string `json:"at_risk_pairs,omitempty"`
}

// Advisor analyzes open clashes of recently updated models. Implementations
// are external; failures are advisory and never stop the loop.
type Advisor interface {
	Analyze(ctx context.Context, clashes []model.Clash) (Advisory, error)
}

// Monitor is the background loop. Start launches it, Stop waits for exit.
type Monitor struct {
	logger  *slog.Logger
	coord   *coord.Coordinator
	models  *registry.Models
	tests   *registry.Tests
	service *clashes.Service
	advisor Advisor

	interval time.Duration
	window   time.Duration
	ticks    metric.Int64Counter

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// New creates a monitor. Zero interval or window select the defaults;
// advisor may be nil to skip the advisory pass.
func New(c *coord.Coordinator, models *registry.Models, tests *registry.Tests,
	service *clashes.Service, advisor Advisor, interval, window time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if window <= 0 {
		window = DefaultWindow
	}
	meter := telemetry.Meter("fedra/monitor")
	ticks, err := meter.Int64Counter("fedra.monitor_ticks",
		metric.WithDescription("Completed monitor loop ticks"))
	if err != nil {
		logger.Warn("monitor: tick counter unavailable", "error", err)
	}
	return &Monitor{
		logger:   logger,
		coord:    c,
		models:   models,
		tests:    tests,
		service:  service,
		advisor:  advisor,
		interval: interval,
		window:   window,
		ticks:    ticks,
	}
}

// Start launches the loop. Returns an error if already running.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.New("monitor: already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.started = true
	go m.loop(ctx, m.done)
	m.logger.Info("monitor started", "interval", m.interval, "window", m.window)
	return nil
}

// Stop cancels the loop and waits for it to exit. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.started = false
	m.mu.Unlock()

	cancel()
	<-done
	m.logger.Info("monitor stopped")
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Cancellation stops before a new tick, never mid-tick.
			if ctx.Err() != nil {
				return
			}
			m.tick(ctx)
		}
	}
}

// tick runs one monitor pass.
func (m *Monitor) tick(ctx context.Context) {
	for _, test := range m.tests.AutoRefresh() {
		if ctx.Err() != nil {
			return
		}
		if _, err := m.coord.RunTest(ctx, test.ID); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.logger.Error("monitor: auto-refresh run failed", "test_id", test.ID, "error", err)
		}
	}
	m.advise(ctx)
	if m.ticks != nil {
		m.ticks.Add(ctx, 1)
	}
}

// RunOnce executes a single tick synchronously, outside the loop.
func (m *Monitor) RunOnce(ctx context.Context) { m.tick(ctx) }

// advise hands the open clashes of recently updated models to the advisor.
// Advisory failures are logged, never fatal.
func (m *Monitor) advise(ctx context.Context) {
	if m.advisor == nil {
		return
	}
	recent := m.models.UpdatedSince(m.window)
	if len(recent) == 0 {
		return
	}
	seen := make(map[string]bool)
	var atRisk []model.Clash
	for _, modelID := range recent {
		open, _, err := m.service.Query(ctx, storage.ClashFilter{
			ModelID: modelID,
			Status:  []model.ClashStatus{model.StatusNew, model.StatusActive},
		})
		if err != nil {
			m.logger.Error("monitor: advisory query failed", "model_id", modelID, "error", err)
			return
		}
		for _, c := range open {
			if seen[c.ID.String()] {
				continue
			}
			seen[c.ID.String()] = true
			atRisk = append(atRisk, c)
		}
	}
	if len(atRisk) == 0 {
		return
	}
	advisory, err := m.advisor.Analyze(ctx, atRisk)
	if err != nil {
		m.logger.Warn("monitor: advisory analysis failed", "error", err)
		return
	}
	m.logger.Info("advisory analysis",
		"models", len(recent), "clashes", len(atRisk),
		"at_risk_pairs", len(advisory.AtRiskPairs), "summary", advisory.Summary)
}
