package detect

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedra-bim/fedra/internal/geometry"
	"github.com/fedra-bim/fedra/internal/index"
	"github.com/fedra-bim/fedra/internal/model"
	"github.com/fedra-bim/fedra/internal/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func box(minX, minY, minZ, maxX, maxY, maxZ float64) geometry.Box {
	return geometry.NewBox(
		geometry.Point3{X: minX, Y: minY, Z: minZ},
		geometry.Point3{X: maxX, Y: maxY, Z: maxZ},
	)
}

func snapshot(modelID string, elements ...model.Element) *registry.ModelSnapshot {
	for i := range elements {
		elements[i].ModelID = modelID
	}
	return &registry.ModelSnapshot{
		Model:    model.Model{ID: modelID},
		Elements: elements,
		Index:    index.Build(elements),
	}
}

func hardTest(settings model.TestSettings) model.ClashTest {
	return model.ClashTest{
		Type:       model.TestHard,
		SelectionA: model.SelectionSet{ModelID: "a"},
		SelectionB: model.SelectionSet{ModelID: "b"},
		Settings:   settings,
	}
}

func TestHardClashOverlap(t *testing.T) {
	snapA := snapshot("a", model.Element{ID: "wall-1", Category: "Wall", Box: box(0, 0, 0, 10, 10, 10)})
	snapB := snapshot("b", model.Element{ID: "duct-1", Category: "Duct", Box: box(5, 5, 5, 15, 15, 15)})

	d := New(testLogger())
	out, err := d.Run(context.Background(), hardTest(model.TestSettings{}), snapA, snapB)
	require.NoError(t, err)
	require.Len(t, out, 1)

	c := out[0]
	assert.Equal(t, model.PairKey("wall-1", "duct-1"), c.PairKey)
	assert.InDelta(t, 125.0, c.Volume, 1e-9)
	assert.Equal(t, model.SeverityCritical, c.Severity)
	assert.InDelta(t, -5.0, c.Distance, 1e-9, "distance is -cbrt(volume)")
	assert.Equal(t, geometry.Point3{X: 7.5, Y: 7.5, Z: 7.5}, c.Point)
}

func TestHardClashTouchingFacesIsNotAClash(t *testing.T) {
	snapA := snapshot("a", model.Element{ID: "e1", Category: "Wall", Box: box(0, 0, 0, 1, 1, 1)})
	snapB := snapshot("b", model.Element{ID: "e2", Category: "Wall", Box: box(1, 0, 0, 2, 1, 1)})

	d := New(testLogger())
	out, err := d.Run(context.Background(), hardTest(model.TestSettings{}), snapA, snapB)
	require.NoError(t, err)
	assert.Empty(t, out, "shared face has zero overlap volume")
}

func TestHardSeverityBands(t *testing.T) {
	d := New(testLogger())
	cases := []struct {
		name string
		b    geometry.Box // overlapping box(0,0,0,10,10,10)
		want model.Severity
	}{
		{"volume above one", box(8, 8, 8, 11, 11, 11), model.SeverityCritical},
		{"volume half", box(9.5, 9, 9, 11, 11, 11), model.SeverityMajor},
		{"volume fiftieth", box(9.98, 9, 9, 11, 11, 11), model.SeverityMinor},
		{"sliver", box(9.9999, 9, 9, 11, 11, 11), model.SeverityInfo},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snapA := snapshot("a", model.Element{ID: "e1", Category: "Wall", Box: box(0, 0, 0, 10, 10, 10)})
			snapB := snapshot("b", model.Element{ID: "e2", Category: "Duct", Box: tc.b})
			out, err := d.Run(context.Background(), hardTest(model.TestSettings{}), snapA, snapB)
			require.NoError(t, err)
			require.Len(t, out, 1)
			assert.Equal(t, tc.want, out[0].Severity)
		})
	}
}

func TestClearanceViolation(t *testing.T) {
	// Gap of exactly 1 unit along X.
	snapA := snapshot("a", model.Element{ID: "pipe-1", Category: "Pipe", Box: box(0, 0, 0, 1, 1, 1)})
	snapB := snapshot("b", model.Element{ID: "cable-1", Category: "Cable Tray", Box: box(2, 0, 0, 3, 1, 1)})

	test := model.ClashTest{
		Type:       model.TestClearance,
		SelectionA: model.SelectionSet{ModelID: "a"},
		SelectionB: model.SelectionSet{ModelID: "b"},
		Settings:   model.TestSettings{ClearanceDistance: 2},
	}

	d := New(testLogger())
	out, err := d.Run(context.Background(), test, snapA, snapB)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, 1.0, out[0].Distance, 1e-9)
	assert.Equal(t, model.SeverityMajor, out[0].Severity, "ratio 0.5 falls in the major band")

	// Required clearance below the actual gap: no violation.
	test.Settings.ClearanceDistance = 0.5
	out, err = d.Run(context.Background(), test, snapA, snapB)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestClearanceReachesBeyondTolerance(t *testing.T) {
	// A 1-unit gap between two 10-unit elements, no tolerance configured.
	// The broad phase has to reach the full clearance distance or the pair
	// never gets to the narrow phase.
	snapA := snapshot("a", model.Element{ID: "duct-1", Category: "Duct", Box: box(0, 0, 0, 10, 10, 10)})
	snapB := snapshot("b", model.Element{ID: "tray-1", Category: "Cable Tray", Box: box(11, 0, 0, 20, 10, 10)})

	test := model.ClashTest{
		Type:       model.TestClearance,
		SelectionA: model.SelectionSet{ModelID: "a"},
		SelectionB: model.SelectionSet{ModelID: "b"},
		Settings:   model.TestSettings{ClearanceDistance: 2},
	}
	d := New(testLogger())
	out, err := d.Run(context.Background(), test, snapA, snapB)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, model.PairKey("duct-1", "tray-1"), out[0].PairKey)
	assert.InDelta(t, 1.0, out[0].Distance, 1e-9)
	assert.Equal(t, model.SeverityMajor, out[0].Severity)
}

func TestClearanceSkipsPenetrations(t *testing.T) {
	snapA := snapshot("a", model.Element{ID: "e1", Category: "Pipe", Box: box(0, 0, 0, 2, 2, 2)})
	snapB := snapshot("b", model.Element{ID: "e2", Category: "Duct", Box: box(1, 1, 1, 3, 3, 3)})

	test := model.ClashTest{
		Type:       model.TestClearance,
		SelectionA: model.SelectionSet{ModelID: "a"},
		SelectionB: model.SelectionSet{ModelID: "b"},
		Settings:   model.TestSettings{ClearanceDistance: 5},
	}
	d := New(testLogger())
	out, err := d.Run(context.Background(), test, snapA, snapB)
	require.NoError(t, err)
	assert.Empty(t, out, "overlapping elements belong to a hard test")
}

func TestClearanceBandsClassify(t *testing.T) {
	b := DefaultClearanceBands
	assert.Equal(t, model.SeverityCritical, b.Classify(0.4, 2))
	assert.Equal(t, model.SeverityMajor, b.Classify(1.0, 2))
	assert.Equal(t, model.SeverityMinor, b.Classify(1.4, 2))
	assert.Equal(t, model.SeverityInfo, b.Classify(1.9, 2))
	assert.Equal(t, model.SeverityInfo, b.Classify(1, 0), "zero clearance never classifies")
}

func TestDuplicateDetection(t *testing.T) {
	base := box(0, 0, 0, 2, 2, 2)
	nudged := box(0.005, 0, 0, 2.005, 2, 2)

	snapA := snapshot("a",
		model.Element{ID: "col-1", Category: "Column", Box: base},
	)
	snapB := snapshot("b",
		model.Element{ID: "col-1-copy", Category: "Column", Box: nudged},
		model.Element{ID: "beam-1", Category: "Beam", Box: base},
		model.Element{ID: "col-far", Category: "Column", Box: box(0.5, 0, 0, 2.5, 2, 2)},
	)

	test := model.ClashTest{
		Type:       model.TestDuplicate,
		SelectionA: model.SelectionSet{ModelID: "a"},
		SelectionB: model.SelectionSet{ModelID: "b"},
		Settings:   model.TestSettings{Tolerance: 0.01},
	}
	d := New(testLogger())
	out, err := d.Run(context.Background(), test, snapA, snapB)
	require.NoError(t, err)
	require.Len(t, out, 1, "same category and near-equal corners only")
	assert.Equal(t, model.PairKey("col-1", "col-1-copy"), out[0].PairKey)
	assert.Greater(t, out[0].Volume, 0.0)
	assert.True(t, math.Signbit(out[0].Distance))
}

func TestIgnoreFilters(t *testing.T) {
	shared := []model.Element{
		{ID: "p1", Category: "Pipe", Box: box(0, 0, 0, 2, 2, 2)},
		{ID: "p2", Category: "Pipe", Box: box(1, 1, 1, 3, 3, 3)},
	}
	snap := snapshot("m", shared...)

	test := model.ClashTest{
		Type:       model.TestHard,
		SelectionA: model.SelectionSet{ModelID: "m"},
		SelectionB: model.SelectionSet{ModelID: "m"},
	}
	d := New(testLogger())

	out, err := d.Run(context.Background(), test, snap, snap)
	require.NoError(t, err)
	assert.Len(t, out, 1, "self pairs are skipped, p1/p2 reported once by pair key")

	test.Settings.IgnoreSameModel = true
	out, err = d.Run(context.Background(), test, snap, snap)
	require.NoError(t, err)
	assert.Empty(t, out)

	test.Settings.IgnoreSameModel = false
	test.Settings.IgnoreSameCategory = true
	out, err = d.Run(context.Background(), test, snap, snap)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSelectionFiltersApply(t *testing.T) {
	snapA := snapshot("a",
		model.Element{ID: "w1", Category: "Wall", Box: box(0, 0, 0, 2, 2, 2)},
		model.Element{ID: "d1", Category: "Door", Box: box(0, 0, 0, 2, 2, 2)},
	)
	snapB := snapshot("b",
		model.Element{ID: "p1", Category: "Pipe", Box: box(1, 1, 1, 3, 3, 3)},
		model.Element{ID: "c1", Category: "Conduit", Box: box(1, 1, 1, 3, 3, 3)},
	)

	test := model.ClashTest{
		Type:       model.TestHard,
		SelectionA: model.SelectionSet{ModelID: "a", Categories: []string{"Wall"}},
		SelectionB: model.SelectionSet{ModelID: "b", ExcludeCategories: []string{"Conduit"}},
	}
	d := New(testLogger())
	out, err := d.Run(context.Background(), test, snapA, snapB)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, model.PairKey("w1", "p1"), out[0].PairKey)
}

func TestRunHonorsCancellation(t *testing.T) {
	snapA := snapshot("a", model.Element{ID: "e1", Category: "Wall", Box: box(0, 0, 0, 1, 1, 1)})
	snapB := snapshot("b")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := New(testLogger())
	_, err := d.Run(ctx, hardTest(model.TestSettings{}), snapA, snapB)
	assert.ErrorIs(t, err, context.Canceled)
}
