package fedra

import (
	"context"

	"github.com/fedra-bim/fedra/internal/monitor"
)

// Advisor analyzes open clashes of recently updated models and surfaces
// at-risk coordination work. The monitor loop calls it each tick; failures
// are logged and never stop the loop. The default is no advisor.
type Advisor = monitor.Advisor

// ElementLoader reads model elements from an external source, for example
// an IFC export pipeline or a project database. Wired via WithElementLoader
// and used by LoadModelElements; the engine itself never parses CAD data.
type ElementLoader interface {
	Load(ctx context.Context, source, format string) ([]Element, error)
}

// ClashHook receives async notifications of clash lifecycle events.
// Hook methods run in goroutines — they must not block indefinitely.
// Failures are logged but never fail the originating operation.
type ClashHook interface {
	OnClashCreated(ctx context.Context, clash Clash) error
	OnRunCompleted(ctx context.Context, result TestRunResult) error
}
