package detect

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/fedra-bim/fedra/internal/model"
)

// ByLocation bucket sizes in project units. Horizontal cells are wider than
// vertical ones because coordination issues cluster per storey.
const (
	locationCellXY = 5.0
	locationCellZ  = 3.0
)

// Group aggregates clashes by the test's grouping method. Output is sorted
// by group key and member ids are sorted, so the result is deterministic
// regardless of input ordering. Group identity (uuid) is fresh each call;
// only content is stable across runs.
func Group(method model.GroupingMethod, testID uuid.UUID, clashes []model.Clash) []model.ClashGroup {
	buckets := make(map[string][]model.Clash)
	for _, c := range clashes {
		key := groupKey(method, c)
		buckets[key] = append(buckets[key], c)
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]model.ClashGroup, 0, len(keys))
	for _, key := range keys {
		members := buckets[key]
		severity := model.SeverityInfo
		ids := make([]uuid.UUID, 0, len(members))
		for _, c := range members {
			severity = model.MaxSeverity(severity, c.Severity)
			ids = append(ids, c.ID)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
		out = append(out, model.ClashGroup{
			ID:       uuid.New(),
			TestID:   testID,
			Key:      key,
			ClashIDs: ids,
			Severity: severity,
		})
	}
	return out
}

func groupKey(method model.GroupingMethod, c model.Clash) string {
	switch method {
	case model.GroupByElement:
		return "element:" + c.ElementA.ID
	case model.GroupByCategory:
		return "category:" + c.CategoryPair()
	case model.GroupByLocation:
		return fmt.Sprintf("cell:%d,%d,%d",
			int(math.Floor(c.Point.X/locationCellXY)),
			int(math.Floor(c.Point.Y/locationCellXY)),
			int(math.Floor(c.Point.Z/locationCellZ)))
	case model.GroupByLevel:
		return "level:" + c.Level()
	default: // GroupNone: one group per clash
		return "clash:" + c.ID.String()
	}
}
