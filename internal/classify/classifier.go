package classify

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-booking/internal/domain"
)

// Stats summarises one classification run.
type Stats struct {
	Accounted    int `json:"accounted"`
	Intermediary int `json:"intermediary"`
	NeedsCheck   int `json:"needs_check"`
	Unresolved   int `json:"unresolved"`
	Skipped      int `json:"skipped"`
}

// Classifier assigns contacts, savings plans and securities to draft entries.
type Classifier struct {
	log zerolog.Logger
}

// NewClassifier creates a classifier.
func NewClassifier(log zerolog.Logger) *Classifier {
	return &Classifier{log: log}
}

// Classify resolves every Open or NeedsCheck entry of the draft. Entries in other states are
// left untouched and existing assignments are only replaced by a new match, so running it
// twice on an unchanged draft yields the same result.
func (c *Classifier) Classify(d *domain.StatementDraft, ref domain.ReferenceData) (Stats, error) {
	r := &run{
		account:    ref.Account,
		contacts:   newContactIndex(ref.Contacts, c.log),
		plans:      newPlanMatchers(ref.SavingsPlans),
		securities: newSecurityMatchers(ref.Securities),
	}

	var stats Stats
	for _, e := range d.Entries {
		if e.Status != domain.EntryStatusOpen && e.Status != domain.EntryStatusNeedsCheck {
			stats.Skipped++
			continue
		}
		if err := r.classifyEntry(e, &stats); err != nil {
			return stats, fmt.Errorf("Classify: draft %s: %w", d.ID, err)
		}
	}

	c.log.Debug().
		Str("draft_id", d.ID).
		Int("accounted", stats.Accounted).
		Int("intermediary", stats.Intermediary).
		Int("needs_check", stats.NeedsCheck).
		Int("unresolved", stats.Unresolved).
		Msg("Classified draft entries")
	return stats, nil
}

// run carries the indexes built for one Classify call.
type run struct {
	account    *domain.Account
	contacts   *contactIndex
	plans      []planMatcher
	securities []securityMatcher
}

func (r *run) bankContactID() string {
	if r.account == nil {
		return ""
	}
	return r.account.BankContactID
}

func (r *run) classifyEntry(e *domain.StatementDraftEntry, stats *Stats) error {
	var contact *domain.Contact
	if strings.TrimSpace(e.RecipientName) == "" {
		contact = r.contacts.get(r.bankContactID())
	} else {
		contact = r.contacts.resolve(e.RecipientName)
	}
	if contact == nil {
		stats.Unresolved++
		return nil
	}

	switch {
	case contact.IsPaymentIntermediary:
		target := contact
		if underlying := r.contacts.resolve(e.Subject); underlying != nil {
			target = underlying
		}
		stats.Intermediary++
		return e.AssignContactWithoutAccounting(target.ID)

	case contact.Type == domain.ContactTypeBank && r.account != nil && contact.ID != r.account.BankContactID && r.contacts.self != nil:
		e.IsCostNeutral = true
		if err := e.MarkAccounted(r.contacts.self.ID); err != nil {
			return err
		}

	default:
		if err := e.MarkAccounted(contact.ID); err != nil {
			return err
		}
	}
	stats.Accounted++

	if r.contacts.self != nil && e.ContactID == r.contacts.self.ID {
		if err := r.assignSavingsPlan(e, stats); err != nil {
			return err
		}
	}
	if e.ContactID != "" && e.ContactID == r.bankContactID() {
		return r.assignSecurity(e)
	}
	return nil
}

func (r *run) assignSavingsPlan(e *domain.StatementDraftEntry, stats *Stats) error {
	found := matchSavingsPlans(e.Subject, r.plans)
	if len(found) == 0 {
		return nil
	}
	e.SavingsPlanID = found[0].ID
	if len(found) > 1 {
		stats.NeedsCheck++
		return e.MarkNeedsCheck()
	}
	return nil
}

func (r *run) assignSecurity(e *domain.StatementDraftEntry) error {
	found := matchSecurities(e, r.securities)
	if len(found) == 0 {
		return nil
	}
	e.SecurityID = found[0].ID
	if e.SecurityTransactionType == "" {
		e.SecurityTransactionType = inferTransactionType(e)
	}
	if len(found) > 1 {
		return e.ResetOpen()
	}
	return nil
}
