package classify

import (
	"sort"
	"strings"

	"github.com/dvloznov/statement-booking/internal/domain"
)

type planMatcher struct {
	plan     *domain.SavingsPlan
	name     string
	contract string
}

func newPlanMatchers(plans []domain.SavingsPlan) []planMatcher {
	sorted := make([]domain.SavingsPlan, len(plans))
	copy(sorted, plans)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].ID < sorted[j].ID
	})

	var matchers []planMatcher
	for i := range sorted {
		p := &sorted[i]
		if !p.IsActive || p.ArchivedAt != nil {
			continue
		}
		matchers = append(matchers, planMatcher{
			plan:     p,
			name:     Normalize(p.Name, true),
			contract: alphanumeric(p.ContractNumber),
		})
	}
	return matchers
}

// matchSavingsPlans returns every active plan whose name or contract number occurs in the subject.
func matchSavingsPlans(subject string, matchers []planMatcher) []*domain.SavingsPlan {
	text := Normalize(subject, true)
	compact := alphanumeric(subject)
	if text == "" {
		return nil
	}

	var found []*domain.SavingsPlan
	for _, m := range matchers {
		byName := m.name != "" && strings.Contains(text, m.name)
		byContract := m.contract != "" && strings.Contains(compact, m.contract)
		if byName || byContract {
			found = append(found, m.plan)
		}
	}
	return found
}
