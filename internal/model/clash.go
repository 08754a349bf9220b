package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/fedra-bim/fedra/internal/geometry"
)

// Severity is the ordinal impact classification of a clash.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityMinor:    1,
	SeverityMajor:    2,
	SeverityCritical: 3,
}

// Rank returns the severity's position in the ordering, Info lowest.
// Unknown severities rank below Info.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// MaxSeverity returns the higher-ranked of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ClashStatus is a clash's position in the resolution lifecycle.
type ClashStatus string

const (
	// StatusNew is the initial state: detected, not yet triaged.
	StatusNew ClashStatus = "new"
	// StatusActive means the clash is assigned and being worked.
	StatusActive ClashStatus = "active"
	// StatusResolved means the geometry conflict has been fixed in a model.
	StatusResolved ClashStatus = "resolved"
	// StatusApproved means the clash was reviewed and accepted as-is.
	StatusApproved ClashStatus = "approved"
	// StatusIgnored means the clash is excluded from coordination, for
	// example because its source model was removed.
	StatusIgnored ClashStatus = "ignored"
)

// validStatusTransitions defines the legal lifecycle moves. New clashes can
// move anywhere; closed clashes can only be reopened to Active; Resolved may
// additionally be promoted to Approved. Nothing ever returns to New.
var validStatusTransitions = map[ClashStatus]map[ClashStatus]bool{
	StatusNew:      {StatusActive: true, StatusResolved: true, StatusApproved: true, StatusIgnored: true},
	StatusActive:   {StatusActive: true, StatusResolved: true, StatusApproved: true, StatusIgnored: true},
	StatusResolved: {StatusActive: true, StatusApproved: true},
	StatusApproved: {StatusActive: true},
	StatusIgnored:  {StatusActive: true},
}

// CanTransition reports whether moving a clash from one status to another
// is legal.
func CanTransition(from, to ClashStatus) bool {
	targets, ok := validStatusTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Valid reports whether s is a known clash status.
func (s ClashStatus) Valid() bool {
	_, ok := validStatusTransitions[s]
	return ok
}

// Terminal reports whether s closes the current resolution cycle.
func (s ClashStatus) Terminal() bool {
	return s == StatusResolved || s == StatusApproved || s == StatusIgnored
}

// PairKey is the cross-run identity of a clash: the two element ids in
// lexicographic order. Re-running a test looks clashes up by pair key so
// status, assignment, and comments survive repeated detection.
func PairKey(aID, bID string) string {
	if bID < aID {
		aID, bID = bID, aID
	}
	return aID + "|" + bID
}

// Comment is an audit entry on a clash. Status changes append exactly one
// comment carrying the transition.
type Comment struct {
	ID         uuid.UUID   `json:"id"`
	Author     string      `json:"author"`
	Body       string      `json:"body"`
	StatusFrom ClashStatus `json:"status_from,omitempty"`
	StatusTo   ClashStatus `json:"status_to,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Clash is a canonical detected conflict. Geometry fields are refreshed in
// place on every run; lifecycle fields are only touched by explicit
// operations and the documented auto-close policy.
type Clash struct {
	ID         uuid.UUID       `json:"id"`
	TestID     uuid.UUID       `json:"test_id"`
	PairKey    string          `json:"pair_key"`
	ElementA   ElementRef      `json:"element_a"`
	ElementB   ElementRef      `json:"element_b"`
	Point      geometry.Point3 `json:"point"`
	// Distance is negative for penetrations (-cbrt of overlap volume) and
	// positive for clearance shortfalls, so one scale sorts both kinds.
	Distance   float64     `json:"distance"`
	Volume     float64     `json:"volume,omitempty"`
	Severity   Severity    `json:"severity"`
	Status     ClashStatus `json:"status"`
	GroupID    *uuid.UUID  `json:"group_id,omitempty"`
	AssignedTo string      `json:"assigned_to,omitempty"`
	Comments   []Comment   `json:"comments,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`
	ResolvedBy string      `json:"resolved_by,omitempty"`
}

// Level returns the clash's level, derived from either element,
// "Unknown" when both are absent.
func (c Clash) Level() string {
	if c.ElementA.Level != "" {
		return c.ElementA.Level
	}
	if c.ElementB.Level != "" {
		return c.ElementB.Level
	}
	return "Unknown"
}

// CategoryPair returns the unordered category pair key of the clash.
func (c Clash) CategoryPair() string {
	a, b := c.ElementA.Category, c.ElementB.Category
	if b < a {
		a, b = b, a
	}
	return a + "/" + b
}

// ClashCandidate is the detector's raw output before store reconciliation.
type ClashCandidate struct {
	ElementA ElementRef
	ElementB ElementRef
	PairKey  string
	Point    geometry.Point3
	Distance float64
	Volume   float64
	Severity Severity
}

// ClashGroup aggregates clashes sharing a grouping key. Membership is
// recomputed each run; only the content is stable, not the group identity.
type ClashGroup struct {
	ID       uuid.UUID   `json:"id"`
	TestID   uuid.UUID   `json:"test_id"`
	Key      string      `json:"key"`
	ClashIDs []uuid.UUID `json:"clash_ids"`
	Severity Severity    `json:"severity"`
}
