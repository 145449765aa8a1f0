package merge

import (
	"sort"

	"github.com/rpattn/opscrm/internal/domain"
	"github.com/rpattn/opscrm/internal/normalize"
)

// ValidateChoices checks that every choice names a mergeable field and a known side.
func ValidateChoices(chosen domain.ChosenFields) error {
	mergeable := make(map[domain.LeadField]bool, len(domain.MergeableFields))
	for _, f := range domain.MergeableFields {
		mergeable[f] = true
	}
	var bad []string
	for field, choice := range chosen {
		if !mergeable[field] {
			bad = append(bad, "unknown field "+string(field))
			continue
		}
		if choice != domain.ChoiceExisting && choice != domain.ChoiceIncoming {
			bad = append(bad, "field "+string(field)+" has invalid choice "+string(choice))
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return domain.Validationf("invalid chosen fields: %v", bad)
	}
	return nil
}

// ResolveFields reconciles base with incoming field values. An incoming value wins when it is
// non-empty and either explicitly chosen or filling an empty base field. Normalized keys are
// recomputed from the result.
func ResolveFields(base domain.Lead, incoming domain.KnownFields, chosen domain.ChosenFields) domain.Lead {
	out := base
	for _, field := range domain.MergeableFields {
		value := incoming.Get(field)
		if value == "" {
			continue
		}
		if chosen.Prefers(field) || out.Field(field) == "" {
			out = out.WithField(field, value)
		}
	}
	return normalize.Lead(out)
}

// unionCustomData merges two custom-field bags; primary wins on conflicts.
func unionCustomData(primary, merged map[string]string) map[string]string {
	if len(primary) == 0 && len(merged) == 0 {
		return nil
	}
	out := make(map[string]string, len(primary)+len(merged))
	for k, v := range merged {
		out[k] = v
	}
	for k, v := range primary {
		out[k] = v
	}
	return out
}
