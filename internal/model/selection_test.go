package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectionSetMatches(t *testing.T) {
	el := Element{ID: "e1", Category: "Pipe", Level: "L1", ModelID: "mech"}

	tests := []struct {
		name string
		sel  SelectionSet
		want bool
	}{
		{"empty matches all", SelectionSet{ModelID: "mech"}, true},
		{"category included", SelectionSet{Categories: []string{"Pipe", "Duct"}}, true},
		{"category not included", SelectionSet{Categories: []string{"Duct"}}, false},
		{"category excluded", SelectionSet{ExcludeCategories: []string{"Pipe"}}, false},
		{"exclusion applied after inclusion", SelectionSet{Categories: []string{"Pipe"}, ExcludeCategories: []string{"Pipe"}}, false},
		{"level match", SelectionSet{Levels: []string{"L1"}}, true},
		{"level mismatch", SelectionSet{Levels: []string{"L2"}}, false},
		{"explicit id match", SelectionSet{ElementIDs: []string{"e1"}}, true},
		{"explicit id mismatch", SelectionSet{ElementIDs: []string{"e2"}}, false},
		{"all filters must pass", SelectionSet{Categories: []string{"Pipe"}, Levels: []string{"L2"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sel.Matches(el))
		})
	}
}

func TestSettingsNormalize(t *testing.T) {
	s := TestSettings{Tolerance: -1, ClearanceDistance: -2}
	s.Normalize()
	assert.Zero(t, s.Tolerance)
	assert.Zero(t, s.ClearanceDistance)
	assert.Equal(t, GroupNone, s.Grouping)

	s2 := TestSettings{Grouping: GroupByCategory, Tolerance: 0.5}
	s2.Normalize()
	assert.Equal(t, GroupByCategory, s2.Grouping)
	assert.Equal(t, 0.5, s2.Tolerance)
}
