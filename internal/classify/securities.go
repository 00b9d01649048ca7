package classify

import (
	"sort"
	"strings"

	"github.com/dvloznov/statement-booking/internal/domain"
)

type securityMatcher struct {
	security *domain.Security
	keys     []string
}

func newSecurityMatchers(securities []domain.Security) []securityMatcher {
	sorted := make([]domain.Security, len(securities))
	copy(sorted, securities)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].ID < sorted[j].ID
	})

	var matchers []securityMatcher
	for i := range sorted {
		s := &sorted[i]
		if !s.IsActive {
			continue
		}
		m := securityMatcher{security: s}
		for _, k := range []string{s.Identifier, s.ExternalCode, s.Name} {
			if key := securityKey(k); key != "" {
				m.keys = append(m.keys, key)
			}
		}
		if len(m.keys) > 0 {
			matchers = append(matchers, m)
		}
	}
	return matchers
}

// matchSecurities searches subject, booking description and recipient for security
// identifiers, external codes or names.
func matchSecurities(e *domain.StatementDraftEntry, matchers []securityMatcher) []*domain.Security {
	text := securityKey(e.Subject + " " + e.BookingDescription + " " + e.RecipientName)
	if text == "" {
		return nil
	}

	var found []*domain.Security
	for _, m := range matchers {
		for _, k := range m.keys {
			if strings.Contains(text, k) {
				found = append(found, m.security)
				break
			}
		}
	}
	return found
}

// inferTransactionType guesses the trade type from the sign of the amount and the presence
// of a quantity. It returns "" when nothing can be inferred.
func inferTransactionType(e *domain.StatementDraftEntry) domain.SecurityTransactionType {
	hasQuantity := e.SecurityQuantity.Valid && !e.SecurityQuantity.Decimal.IsZero()
	switch {
	case hasQuantity && e.Amount.IsNegative():
		return domain.SecurityTransactionBuy
	case hasQuantity && e.Amount.IsPositive():
		return domain.SecurityTransactionSell
	case !hasQuantity && e.Amount.IsPositive():
		return domain.SecurityTransactionDividend
	}
	return ""
}
