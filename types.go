package fedra

import (
	"github.com/fedra-bim/fedra/internal/coord"
	"github.com/fedra-bim/fedra/internal/model"
	"github.com/fedra-bim/fedra/internal/monitor"
	"github.com/fedra-bim/fedra/internal/report"
	"github.com/fedra-bim/fedra/internal/storage"
)

// The domain types are defined once in internal/model and surfaced here by
// alias so embedding consumers can name them. internal/* never imports this
// package; the import graph is strictly root -> internal.
type (
	Discipline     = model.Discipline
	Element        = model.Element
	ElementRef     = model.ElementRef
	Model          = model.Model
	SelectionSet   = model.SelectionSet
	TestType       = model.TestType
	TestSettings   = model.TestSettings
	GroupingMethod = model.GroupingMethod
	ClashTest      = model.ClashTest
	TestRunResult  = model.TestRunResult
	Severity       = model.Severity
	ClashStatus    = model.ClashStatus
	Clash          = model.Clash
	ClashGroup     = model.ClashGroup
	Comment        = model.Comment

	ClashFilter  = storage.ClashFilter
	RunAllResult = coord.RunAllResult
	Advisory     = monitor.Advisory

	Stats         = report.Stats
	Report        = report.Report
	ReportRequest = report.Request
)

// Disciplines.
const (
	DisciplineArchitectural = model.DisciplineArchitectural
	DisciplineStructural    = model.DisciplineStructural
	DisciplineMechanical    = model.DisciplineMechanical
	DisciplineElectrical    = model.DisciplineElectrical
	DisciplinePlumbing      = model.DisciplinePlumbing
	DisciplineFireSafety    = model.DisciplineFireSafety
	DisciplineCivil         = model.DisciplineCivil
)

// Test types.
const (
	TestHard      = model.TestHard
	TestClearance = model.TestClearance
	TestDuplicate = model.TestDuplicate
)

// Grouping methods.
const (
	GroupNone       = model.GroupNone
	GroupByElement  = model.GroupByElement
	GroupByCategory = model.GroupByCategory
	GroupByLocation = model.GroupByLocation
	GroupByLevel    = model.GroupByLevel
)

// Severities, lowest to highest.
const (
	SeverityInfo     = model.SeverityInfo
	SeverityMinor    = model.SeverityMinor
	SeverityMajor    = model.SeverityMajor
	SeverityCritical = model.SeverityCritical
)

// Clash lifecycle statuses.
const (
	StatusNew      = model.StatusNew
	StatusActive   = model.StatusActive
	StatusResolved = model.StatusResolved
	StatusApproved = model.StatusApproved
	StatusIgnored  = model.StatusIgnored
)
