package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ClashStatus
		want     bool
	}{
		{StatusNew, StatusActive, true},
		{StatusNew, StatusResolved, true},
		{StatusNew, StatusIgnored, true},
		{StatusActive, StatusResolved, true},
		{StatusActive, StatusActive, true}, // reassignment
		{StatusResolved, StatusApproved, true},
		{StatusResolved, StatusActive, true}, // reopen
		{StatusApproved, StatusActive, true},
		{StatusIgnored, StatusActive, true},
		{StatusResolved, StatusNew, false},
		{StatusActive, StatusNew, false},
		{StatusApproved, StatusResolved, false},
		{StatusIgnored, StatusResolved, false},
		{ClashStatus("bogus"), StatusActive, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStatusHelpers(t *testing.T) {
	assert.True(t, StatusResolved.Terminal())
	assert.True(t, StatusIgnored.Terminal())
	assert.False(t, StatusNew.Terminal())
	assert.False(t, StatusActive.Terminal())
	assert.True(t, StatusNew.Valid())
	assert.False(t, ClashStatus("??").Valid())
}

func TestPairKeyCanonical(t *testing.T) {
	assert.Equal(t, PairKey("a1", "b2"), PairKey("b2", "a1"))
	assert.Equal(t, "a1|b2", PairKey("a1", "b2"))
	assert.NotEqual(t, PairKey("a1", "b2"), PairKey("a1", "b3"))
}

func TestSeverityOrdering(t *testing.T) {
	assert.Equal(t, SeverityCritical, MaxSeverity(SeverityMinor, SeverityCritical))
	assert.Equal(t, SeverityMajor, MaxSeverity(SeverityMajor, SeverityInfo))
	assert.Greater(t, SeverityCritical.Rank(), SeverityMajor.Rank())
	assert.Greater(t, SeverityMajor.Rank(), SeverityMinor.Rank())
	assert.Greater(t, SeverityMinor.Rank(), SeverityInfo.Rank())
	assert.Equal(t, -1, Severity("??").Rank())
}

func TestClashLevelAndCategoryPair(t *testing.T) {
	c := Clash{
		ElementA: ElementRef{Category: "Pipe"},
		ElementB: ElementRef{Category: "Beam", Level: "L2"},
	}
	assert.Equal(t, "L2", c.Level())
	assert.Equal(t, "Beam/Pipe", c.CategoryPair())

	c.ElementB.Level = ""
	assert.Equal(t, "Unknown", c.Level())
	c.ElementA.Level = "L1"
	assert.Equal(t, "L1", c.Level())
}
