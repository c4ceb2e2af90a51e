package aggregator

import "github.com/g2scv/llm-cost/schemas"

func containsAll(have []string, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}

// matchesFilters applies the catalogue filters client-side. Filters the API
// already applied server-side pass trivially here.
func matchesFilters(m schemas.AggregatorModel, f schemas.ModelFilters) bool {
	if !containsAll(m.SupportedParameters, f.SupportedParameters) {
		return false
	}
	if !containsAll(m.Architecture.InputModalities, f.InputModalities) {
		return false
	}
	if !containsAll(m.Architecture.OutputModalities, f.OutputModalities) {
		return false
	}
	return true
}
