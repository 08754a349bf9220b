// Package report aggregates clash records into statistics and coordination
// reports. Everything here is pure: no store writes, no side effects.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fedra-bim/fedra/internal/model"
	"github.com/fedra-bim/fedra/internal/storage"
)

// DefaultTopPairs is how many category pairs a report highlights.
const DefaultTopPairs = 5

// PairCount is one category pair with its clash count.
type PairCount struct {
	Pair  string `json:"pair"`
	Count int    `json:"count"`
}

// Stats summarizes a set of clashes.
type Stats struct {
	Total          int                       `json:"total"`
	ByStatus       map[model.ClashStatus]int `json:"by_status"`
	BySeverity     map[model.Severity]int    `json:"by_severity"`
	ByCategoryPair map[string]int            `json:"by_category_pair"`
	ByAssignee     map[string]int            `json:"by_assignee,omitempty"`
	ByTest         map[uuid.UUID]int         `json:"by_test"`

	// ResolutionRate is the share of clashes closed as Resolved or Approved.
	// Ignored clashes count against the rate: they were never fixed.
	ResolutionRate float64 `json:"resolution_rate"`

	TopCategoryPairs []PairCount `json:"top_category_pairs,omitempty"`
}

// Statistics computes aggregate counts over clashes. Top pairs are ordered
// by count descending, then pair name, so output is deterministic.
func Statistics(clashes []model.Clash) Stats {
	s := Stats{
		Total:          len(clashes),
		ByStatus:       make(map[model.ClashStatus]int),
		BySeverity:     make(map[model.Severity]int),
		ByCategoryPair: make(map[string]int),
		ByAssignee:     make(map[string]int),
		ByTest:         make(map[uuid.UUID]int),
	}
	closed := 0
	for _, c := range clashes {
		s.ByStatus[c.Status]++
		s.BySeverity[c.Severity]++
		s.ByCategoryPair[c.CategoryPair()]++
		s.ByTest[c.TestID]++
		if c.AssignedTo != "" {
			s.ByAssignee[c.AssignedTo]++
		}
		if c.Status == model.StatusResolved || c.Status == model.StatusApproved {
			closed++
		}
	}
	if s.Total > 0 {
		s.ResolutionRate = float64(closed) / float64(s.Total)
	}
	s.TopCategoryPairs = topPairs(s.ByCategoryPair, DefaultTopPairs)
	return s
}

func topPairs(counts map[string]int, n int) []PairCount {
	out := make([]PairCount, 0, len(counts))
	for pair, count := range counts {
		out = append(out, PairCount{Pair: pair, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Pair < out[j].Pair
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Request describes a report to generate.
type Request struct {
	Title   string
	Filter  storage.ClashFilter
	PerTest bool // add a per-test stats section
	// IncludeClashes embeds the matching records themselves; large runs can
	// leave this off and keep just the aggregates.
	IncludeClashes bool
}

// TestSection is the per-test breakdown of a report.
type TestSection struct {
	TestID uuid.UUID `json:"test_id"`
	Stats  Stats     `json:"stats"`
}

// Report is a generated coordination report.
type Report struct {
	Title       string        `json:"title"`
	GeneratedAt time.Time     `json:"generated_at"`
	Stats       Stats         `json:"stats"`
	Sections    []TestSection `json:"sections,omitempty"`
	Clashes     []model.Clash `json:"clashes,omitempty"`
}

// Generate queries the store and aggregates the matches. Pagination in the
// filter is respected for the embedded clash list but statistics always
// cover every match.
func Generate(ctx context.Context, store storage.ClashStore, req Request) (Report, error) {
	// Aggregate over the full match set, not one page of it.
	full := req.Filter
	full.Limit = 0
	full.Offset = 0
	matches, _, err := store.Query(ctx, full)
	if err != nil {
		return Report{}, fmt.Errorf("report: query: %w", err)
	}

	r := Report{
		Title:       req.Title,
		GeneratedAt: time.Now().UTC(),
		Stats:       Statistics(matches),
	}
	if req.PerTest {
		byTest := make(map[uuid.UUID][]model.Clash)
		for _, c := range matches {
			byTest[c.TestID] = append(byTest[c.TestID], c)
		}
		ids := make([]uuid.UUID, 0, len(byTest))
		for id := range byTest {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
		for _, id := range ids {
			r.Sections = append(r.Sections, TestSection{TestID: id, Stats: Statistics(byTest[id])})
		}
	}
	if req.IncludeClashes {
		page, _, err := store.Query(ctx, req.Filter)
		if err != nil {
			return Report{}, fmt.Errorf("report: query page: %w", err)
		}
		r.Clashes = page
	}
	return r, nil
}
