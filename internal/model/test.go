package model

import (
	"time"

	"github.com/google/uuid"
)

// TestType selects the narrow-phase check a clash test performs.
type TestType string

const (
	// TestHard detects geometric penetration between elements.
	TestHard TestType = "hard"
	// TestClearance detects elements closer than a required clearance
	// distance without touching.
	TestClearance TestType = "clearance"
	// TestDuplicate detects near-identical elements of the same category,
	// typically copy-paste errors across model revisions.
	TestDuplicate TestType = "duplicate"
)

// Valid reports whether t is a known test type.
func (t TestType) Valid() bool {
	switch t {
	case TestHard, TestClearance, TestDuplicate:
		return true
	}
	return false
}

// GroupingMethod selects how raw clashes are aggregated into groups.
type GroupingMethod string

const (
	GroupNone       GroupingMethod = "none"
	GroupByElement  GroupingMethod = "by_element"
	GroupByCategory GroupingMethod = "by_category"
	GroupByLocation GroupingMethod = "by_location"
	GroupByLevel    GroupingMethod = "by_level"
)

// Valid reports whether g is a known grouping method.
func (g GroupingMethod) Valid() bool {
	switch g {
	case GroupNone, GroupByElement, GroupByCategory, GroupByLocation, GroupByLevel:
		return true
	}
	return false
}

// TestSettings tunes a clash test's narrow phase and result handling.
type TestSettings struct {
	// Tolerance inflates the broad-phase query box and bounds the corner
	// deviation accepted by duplicate detection. Units are project units.
	Tolerance float64 `json:"tolerance"`
	// ClearanceDistance is the minimum required gap for clearance tests.
	ClearanceDistance float64 `json:"clearance_distance"`
	// Grouping selects the aggregation applied after each run.
	Grouping GroupingMethod `json:"grouping"`
	// AutoRefresh opts the test into the monitor loop's periodic re-runs.
	AutoRefresh bool `json:"auto_refresh"`
	// IgnoreSameModel skips candidate pairs from the same source model.
	IgnoreSameModel bool `json:"ignore_same_model"`
	// IgnoreSameCategory skips same-category pairs. Duplicate tests ignore
	// this flag — duplicates are same-category by definition.
	IgnoreSameCategory bool `json:"ignore_same_category"`
	// AutoCloseMissing resolves clashes whose element pair was not observed
	// in the latest run, with an automatic audit comment. Off by default:
	// silently closing an assigned clash is an opt-in policy.
	AutoCloseMissing bool `json:"auto_close_missing"`
}

// Normalize clamps negative distances and fills enum defaults in place.
func (s *TestSettings) Normalize() {
	if s.Tolerance < 0 {
		s.Tolerance = 0
	}
	if s.ClearanceDistance < 0 {
		s.ClearanceDistance = 0
	}
	if s.Grouping == "" {
		s.Grouping = GroupNone
	}
}

// TestStatus is the lifecycle state of a clash test definition.
type TestStatus string

const (
	TestStatusActive   TestStatus = "active"
	TestStatusDisabled TestStatus = "disabled"
)

// ClashTest is a named pair of filtered selections plus detection settings.
type ClashTest struct {
	ID             uuid.UUID    `json:"id"`
	Name           string       `json:"name"`
	Type           TestType     `json:"type"`
	SelectionA     SelectionSet `json:"selection_a"`
	SelectionB     SelectionSet `json:"selection_b"`
	Settings       TestSettings `json:"settings"`
	Status         TestStatus   `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	LastRun        *time.Time   `json:"last_run,omitempty"`
	LastClashCount int          `json:"last_clash_count"`
}

// TestRunResult summarizes one detector run after store reconciliation.
type TestRunResult struct {
	TestID     uuid.UUID        `json:"test_id"`
	Started    time.Time        `json:"started"`
	Duration   time.Duration    `json:"duration"`
	Created    int              `json:"created"`
	Updated    int              `json:"updated"`
	AutoClosed int              `json:"auto_closed"`
	Total      int              `json:"total"`
	BySeverity map[Severity]int `json:"by_severity"`
	Groups     []ClashGroup     `json:"groups,omitempty"`
}
