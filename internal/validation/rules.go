package validation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-booking/internal/domain"
)

func splitGroupTotal(group []*domain.StatementDraft) decimal.Decimal {
	total := decimal.Zero
	for _, g := range group {
		total = total.Add(g.TotalAmount())
	}
	return total
}

func checkSecurity(r *domain.ValidationResult, d *domain.StatementDraft, e *domain.StatementDraftEntry, ref *domain.ReferenceData) {
	if bank := ref.BankContactID(); bank == "" || e.ContactID != bank {
		r.Add(domain.CodeSecurityNoBankContact, domain.SeverityError, d.ID, e.ID,
			"security entry %q must be assigned to the account's bank", e.Subject)
	}

	qty := e.SecurityQuantity
	switch e.SecurityTransactionType {
	case "":
		r.Add(domain.CodeSecurityNoTxType, domain.SeverityError, d.ID, e.ID,
			"security entry %q has no transaction type", e.Subject)
	case domain.SecurityTransactionDividend:
		if qty.Valid && !qty.Decimal.IsZero() {
			r.Add(domain.CodeSecurityDividendQuantity, domain.SeverityError, d.ID, e.ID,
				"dividend entry %q must not carry a quantity", e.Subject)
		}
	default:
		if !qty.Valid || !qty.Decimal.IsPositive() {
			r.Add(domain.CodeSecurityQuantityMissing, domain.SeverityError, d.ID, e.ID,
				"security entry %q needs a positive quantity", e.Subject)
		}
	}

	charges := decimal.Zero
	if e.SecurityFeeAmount.Valid {
		charges = charges.Add(e.SecurityFeeAmount.Decimal)
	}
	if e.SecurityTaxAmount.Valid {
		charges = charges.Add(e.SecurityTaxAmount.Decimal)
	}
	if charges.GreaterThan(e.Amount.Abs()) {
		r.Add(domain.CodeSecurityFeeTaxExceeds, domain.SeverityError, d.ID, e.ID,
			"fee and tax %s of entry %q exceed its amount", charges.String(), e.Subject)
	}
}

// addSavingsPlanInfo reports plans whose goal the batch reaches or exceeds and recurring
// installments that are overdue relative to the latest booking date in scope.
func addSavingsPlanInfo(r *domain.ValidationResult, d *domain.StatementDraft, entries []*domain.StatementDraftEntry, ref *domain.ReferenceData) {
	planned := make(map[string]decimal.Decimal)
	var order []string
	var latest time.Time

	for _, e := range entries {
		if !e.IsBookable() {
			continue
		}
		if e.BookingDate.After(latest) {
			latest = e.BookingDate
		}
		c := ref.Contact(e.ContactID)
		if e.SavingsPlanID == "" || c == nil || !c.IsSelf() {
			continue
		}
		if _, ok := planned[e.SavingsPlanID]; !ok {
			order = append(order, e.SavingsPlanID)
		}
		planned[e.SavingsPlanID] = planned[e.SavingsPlanID].Add(e.Amount.Neg())
	}

	for _, id := range order {
		p := ref.SavingsPlan(id)
		if p == nil || !p.TargetAmount.Valid {
			continue
		}
		total := ref.SavingsPlanBalances[id].Add(planned[id])
		switch total.Cmp(p.TargetAmount.Decimal) {
		case 0:
			r.Add(domain.CodeSavingsPlanGoalReached, domain.SeverityInformation, d.ID, "",
				"savings plan %s reaches its target of %s", p.Name, p.TargetAmount.Decimal.String())
		case 1:
			r.Add(domain.CodeSavingsPlanGoalExceeded, domain.SeverityInformation, d.ID, "",
				"savings plan %s exceeds its target of %s by %s", p.Name,
				p.TargetAmount.Decimal.String(), total.Sub(p.TargetAmount.Decimal).String())
		}
	}

	if latest.IsZero() {
		return
	}
	for i := range ref.SavingsPlans {
		p := &ref.SavingsPlans[i]
		if !p.IsActive || !p.IsRecurring() {
			continue
		}
		due := nextWeekday(*p.TargetDate)
		if due.Before(latest) && !coversInstallment(entries, p) {
			r.Add(domain.CodeSavingsPlanDue, domain.SeverityInformation, d.ID, "",
				"installment of savings plan %s was due on %s", p.Name, due.Format("2006-01-02"))
		}
	}
}

// coversInstallment reports whether an entry in scope books the plan's due installment.
func coversInstallment(entries []*domain.StatementDraftEntry, p *domain.SavingsPlan) bool {
	for _, e := range entries {
		if e.IsBookable() && e.SavingsPlanID == p.ID && !e.BookingDate.Before(*p.TargetDate) {
			return true
		}
	}
	return false
}

// nextWeekday moves Saturday and Sunday due dates to the following Monday.
func nextWeekday(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return t.AddDate(0, 0, 2)
	case time.Sunday:
		return t.AddDate(0, 0, 1)
	}
	return t
}
