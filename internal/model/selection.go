package model

// SelectionSet filters one model's elements down to the subset a clash test
// runs over. An empty selection matches every element of the model.
// Exclusion is applied after inclusion.
type SelectionSet struct {
	ModelID           string   `json:"model_id"`
	Categories        []string `json:"categories,omitempty"`
	ExcludeCategories []string `json:"exclude_categories,omitempty"`
	Levels            []string `json:"levels,omitempty"`
	ElementIDs        []string `json:"element_ids,omitempty"`
}

// Matches reports whether e passes the selection filters. The element's
// model membership is not checked here; callers resolve the element list
// from SelectionSet.ModelID first.
func (s SelectionSet) Matches(e Element) bool {
	if len(s.Categories) > 0 && !contains(s.Categories, e.Category) {
		return false
	}
	if len(s.ExcludeCategories) > 0 && contains(s.ExcludeCategories, e.Category) {
		return false
	}
	if len(s.Levels) > 0 && !contains(s.Levels, e.Level) {
		return false
	}
	if len(s.ElementIDs) > 0 && !contains(s.ElementIDs, e.ID) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
