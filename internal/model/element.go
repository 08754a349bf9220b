// Package model defines the core domain types for the coordination engine.
//
// Types use strong typing (UUIDs, time.Time, enums) and avoid interface{}
// wherever possible. Elements are owned by their Model; clash records carry
// value copies (ElementRef) so they stay valid after a model is replaced.
package model

import (
	"time"

	"github.com/fedra-bim/fedra/internal/geometry"
)

// Discipline is the trade a model belongs to.
type Discipline string

const (
	DisciplineArchitectural Discipline = "architectural"
	DisciplineStructural    Discipline = "structural"
	DisciplineMechanical    Discipline = "mechanical"
	DisciplineElectrical    Discipline = "electrical"
	DisciplinePlumbing      Discipline = "plumbing"
	DisciplineFireSafety    Discipline = "fire_safety"
	DisciplineCivil         Discipline = "civil"
)

// ModelStatus is the lifecycle state of a registered model.
type ModelStatus string

const (
	ModelStatusRegistered ModelStatus = "registered"
	ModelStatusLoaded     ModelStatus = "loaded"
	ModelStatusRemoved    ModelStatus = "removed"
)

// Element is a single building component inside a model. The ID is unique
// within its model; UniqueID is the authoring tool's globally unique id.
type Element struct {
	ID       string       `json:"id"`
	UniqueID string       `json:"unique_id,omitempty"`
	Name     string       `json:"name"`
	Category string       `json:"category"`
	Level    string       `json:"level,omitempty"`
	ModelID  string       `json:"model_id"`
	Box      geometry.Box `json:"box"`
}

// Ref returns a value copy of the identity fields embedded in clash records.
func (e Element) Ref() ElementRef {
	return ElementRef{
		ID:       e.ID,
		Name:     e.Name,
		Category: e.Category,
		Level:    e.Level,
		ModelID:  e.ModelID,
		Box:      e.Box,
	}
}

// ElementRef is the element identity carried inside a Clash. It is a copy,
// never a pointer into a model's element slice, so a clash survives the
// wholesale element replacement that happens on model update.
type ElementRef struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Category string       `json:"category"`
	Level    string       `json:"level,omitempty"`
	ModelID  string       `json:"model_id"`
	Box      geometry.Box `json:"box"`
}

// Model is a registered per-discipline model. Elements are replaced
// wholesale on update; the registry owns the spatial index built from them.
type Model struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Discipline   Discipline  `json:"discipline"`
	Source       string      `json:"source,omitempty"`
	Status       ModelStatus `json:"status"`
	ElementCount int         `json:"element_count"`
	RegisteredAt time.Time   `json:"registered_at"`
	LastUpdated  time.Time   `json:"last_updated"`
}
