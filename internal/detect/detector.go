// Package detect runs the geometric core of the engine: broad-phase
// candidate search through the spatial index, per-type narrow-phase checks,
// and severity classification.
package detect

import (
	"context"
	"log/slog"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fedra-bim/fedra/internal/geometry"
	"github.com/fedra-bim/fedra/internal/model"
	"github.com/fedra-bim/fedra/internal/registry"
	"github.com/fedra-bim/fedra/internal/telemetry"
)

// cancelCheckEvery bounds how stale a cancellation can go unnoticed during
// a scan of a large model.
const cancelCheckEvery = 256

// Detector executes one clash test against two model snapshots.
type Detector struct {
	logger     *slog.Logger
	bands      ClearanceBands
	candidates metric.Int64Counter
}

// New creates a detector with the default clearance severity bands.
func New(logger *slog.Logger) *Detector {
	meter := telemetry.Meter("fedra/detect")
	candidates, err := meter.Int64Counter("fedra.clash_candidates",
		metric.WithDescription("Raw clash candidates emitted by narrow phase, by severity"))
	if err != nil {
		logger.Warn("detect: candidate counter unavailable", "error", err)
	}
	return &Detector{
		logger:     logger,
		bands:      DefaultClearanceBands,
		candidates: candidates,
	}
}

// SetClearanceBands replaces the clearance severity thresholds.
func (d *Detector) SetClearanceBands(b ClearanceBands) { d.bands = b }

// Run executes the test's narrow phase over the two snapshots and returns
// raw candidates, deduplicated by canonical pair key. For a pair observed
// more than once in one run the last narrow-phase evaluation wins.
func (d *Detector) Run(ctx context.Context, test model.ClashTest, snapA, snapB *registry.ModelSnapshot) ([]model.ClashCandidate, error) {
	settings := test.Settings

	// The broad phase must reach as far as the narrow phase can report.
	// Clearance tests inspect gaps up to the clearance distance, which the
	// test tolerance alone does not cover.
	reach := settings.Tolerance
	if test.Type == model.TestClearance && settings.ClearanceDistance > reach {
		reach = settings.ClearanceDistance
	}

	// Index query order keeps seen state deterministic: byKey preserves the
	// last evaluation per pair, order holds first-seen emission order.
	byKey := make(map[string]int)
	var out []model.ClashCandidate

	scanned := 0
	for _, a := range snapA.Elements {
		if scanned%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		scanned++
		if !test.SelectionA.Matches(a) {
			continue
		}

		queryBox := a.Box.Expand(reach)
		snapB.Index.Query(queryBox, func(b model.Element) bool {
			if a.ID == b.ID && a.ModelID == b.ModelID {
				return true // an element never clashes with itself
			}
			// The index holds the whole model; apply the selection filter.
			if !test.SelectionB.Matches(b) {
				return true
			}
			if settings.IgnoreSameModel && a.ModelID == b.ModelID {
				return true
			}
			if settings.IgnoreSameCategory && test.Type != model.TestDuplicate && a.Category == b.Category {
				return true
			}

			cand, ok := d.narrowPhase(test.Type, settings, a, b)
			if !ok {
				return true
			}
			if i, seen := byKey[cand.PairKey]; seen {
				out[i] = cand
			} else {
				byKey[cand.PairKey] = len(out)
				out = append(out, cand)
			}
			return true
		})
	}

	if d.candidates != nil {
		for _, c := range out {
			d.candidates.Add(ctx, 1, metric.WithAttributes(
				attribute.String("severity", string(c.Severity)),
				attribute.String("test_type", string(test.Type)),
			))
		}
	}
	d.logger.Debug("detection pass complete",
		"test_id", test.ID, "type", test.Type, "candidates", len(out))
	return out, nil
}

// narrowPhase performs the exact geometric check for one candidate pair.
func (d *Detector) narrowPhase(typ model.TestType, settings model.TestSettings, a, b model.Element) (model.ClashCandidate, bool) {
	switch typ {
	case model.TestHard:
		return hardClash(a, b)
	case model.TestClearance:
		return d.clearanceClash(settings.ClearanceDistance, a, b)
	case model.TestDuplicate:
		return duplicateClash(settings.Tolerance, a, b)
	default:
		return model.ClashCandidate{}, false
	}
}

// hardClash reports a penetration: all three axis overlaps strictly
// positive. Distance is -cbrt(volume) so penetrations sort below clearance
// violations on one shared scale.
func hardClash(a, b model.Element) (model.ClashCandidate, bool) {
	overlap, ok := a.Box.Overlap(b.Box)
	if !ok {
		return model.ClashCandidate{}, false
	}
	volume := overlap.Volume()
	return model.ClashCandidate{
		ElementA: a.Ref(),
		ElementB: b.Ref(),
		PairKey:  model.PairKey(a.ID, b.ID),
		Point:    overlap.Center(),
		Distance: -math.Cbrt(volume),
		Volume:   volume,
		Severity: severityFromVolume(volume),
	}, true
}

// clearanceClash reports a gap smaller than the required clearance.
// Overlapping boxes are skipped: that is a hard clash, not a clearance
// violation, and a Hard test is the tool to find it.
func (d *Detector) clearanceClash(clearance float64, a, b model.Element) (model.ClashCandidate, bool) {
	if a.Box.Intersects(b.Box, 0) {
		return model.ClashCandidate{}, false
	}
	dist := a.Box.Distance(b.Box)
	if dist >= clearance {
		return model.ClashCandidate{}, false
	}
	return model.ClashCandidate{
		ElementA: a.Ref(),
		ElementB: b.Ref(),
		PairKey:  model.PairKey(a.ID, b.ID),
		Point:    geometry.Midpoint(a.Box, b.Box),
		Distance: dist,
		Severity: d.bands.Classify(dist, clearance),
	}, true
}

// duplicateClash reports near-identical same-category elements: both box
// corners within tolerance on every axis. A degenerate hard case — volume is
// the (near-total) overlap volume and severity follows the hard bands.
func duplicateClash(tolerance float64, a, b model.Element) (model.ClashCandidate, bool) {
	if a.Category != b.Category {
		return model.ClashCandidate{}, false
	}
	if !a.Box.NearEqual(b.Box, tolerance) {
		return model.ClashCandidate{}, false
	}
	volume := 0.0
	point := a.Box.Center()
	if overlap, ok := a.Box.Overlap(b.Box); ok {
		volume = overlap.Volume()
		point = overlap.Center()
	}
	return model.ClashCandidate{
		ElementA: a.Ref(),
		ElementB: b.Ref(),
		PairKey:  model.PairKey(a.ID, b.ID),
		Point:    point,
		Distance: -math.Cbrt(volume),
		Volume:   volume,
		Severity: severityFromVolume(volume),
	}, true
}

// severityFromVolume maps overlap volume (cubic project units) onto the
// hard-clash severity bands.
func severityFromVolume(volume float64) model.Severity {
	switch {
	case volume > 1.0:
		return model.SeverityCritical
	case volume > 0.1:
		return model.SeverityMajor
	case volume > 0.01:
		return model.SeverityMinor
	default:
		return model.SeverityInfo
	}
}

// ClearanceBands maps the shortfall ratio distance/clearance onto severity.
// Lower ratio means the elements are closer and the violation worse. Bands
// must be monotone: Critical <= Major <= Minor, all in (0, 1].
type ClearanceBands struct {
	Critical float64 // ratio at or below -> Critical
	Major    float64 // ratio at or below -> Major
	Minor    float64 // ratio at or below -> Minor; above -> Info
}

// DefaultClearanceBands quarters the clearance distance.
var DefaultClearanceBands = ClearanceBands{Critical: 0.25, Major: 0.5, Minor: 0.75}

// Classify maps a measured gap against the required clearance.
func (cb ClearanceBands) Classify(distance, clearance float64) model.Severity {
	if clearance <= 0 {
		return model.SeverityInfo
	}
	ratio := distance / clearance
	switch {
	case ratio <= cb.Critical:
		return model.SeverityCritical
	case ratio <= cb.Major:
		return model.SeverityMajor
	case ratio <= cb.Minor:
		return model.SeverityMinor
	default:
		return model.SeverityInfo
	}
}
