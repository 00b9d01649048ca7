package drafts

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-booking/internal/domain"
)

// SecurityAssignment is the manual security data of an entry.
type SecurityAssignment struct {
	SecurityID      string
	TransactionType string
	Quantity        decimal.NullDecimal
	Fee             decimal.NullDecimal
	Tax             decimal.NullDecimal
}

// EntryFlags are the user-controlled booleans of an entry.
type EntryFlags struct {
	IsCostNeutral               bool `json:"is_cost_neutral"`
	ArchiveSavingsPlanOnBooking bool `json:"archive_savings_plan_on_booking"`
}

// mutateEntry runs fn on an editable entry under the draft lock and saves the draft.
func (s *Service) mutateEntry(ctx context.Context, op, ownerID, draftID, entryID string, fn func(ctx context.Context, d *domain.StatementDraft, e *domain.StatementDraftEntry) error) (entry *domain.StatementDraftEntry, err error) {
	ctx, span := s.startSpan(ctx, op, ownerID, draftID)
	defer func() { finishSpan(span, err) }()

	err = s.withDraft(ctx, ownerID, draftID, func(ctx context.Context, d *domain.StatementDraft) error {
		if d.IsCommitted() {
			return fmt.Errorf("draft %s is committed: %w", d.ID, domain.ErrInvalidTransition)
		}
		e := d.FindEntry(entryID)
		if e == nil {
			return fmt.Errorf("entry %s: %w", entryID, domain.ErrNotFound)
		}
		if e.Status == domain.EntryStatusAlreadyBooked {
			return fmt.Errorf("entry %s is already booked: %w", entryID, domain.ErrInvalidTransition)
		}
		if err := fn(ctx, d, e); err != nil {
			return err
		}
		d.UpdatedAt = s.now()
		if err := s.repo.SaveDraft(ctx, d); err != nil {
			return err
		}
		cp := *e
		entry = &cp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return entry, nil
}

// SetEntryContact assigns a contact. A payment intermediary keeps the entry open until its
// split draft is validated; any other contact marks it Accounted. An empty id clears the
// contact and reopens the entry.
func (s *Service) SetEntryContact(ctx context.Context, ownerID, draftID, entryID, contactID string) (*domain.StatementDraftEntry, error) {
	return s.mutateEntry(ctx, "SetEntryContact", ownerID, draftID, entryID, func(ctx context.Context, d *domain.StatementDraft, e *domain.StatementDraftEntry) error {
		if contactID == "" {
			if err := e.ResetOpen(); err != nil {
				return err
			}
			e.ContactID = ""
			return nil
		}

		c, err := s.repo.GetContact(ctx, ownerID, contactID)
		if err != nil {
			return err
		}
		if c.IsPaymentIntermediary {
			return e.AssignContactWithoutAccounting(c.ID)
		}
		return e.MarkAccounted(c.ID)
	})
}

// SetEntrySavingsPlan links the entry to a savings plan, or unlinks it with an empty id.
func (s *Service) SetEntrySavingsPlan(ctx context.Context, ownerID, draftID, entryID, planID string) (*domain.StatementDraftEntry, error) {
	return s.mutateEntry(ctx, "SetEntrySavingsPlan", ownerID, draftID, entryID, func(ctx context.Context, d *domain.StatementDraft, e *domain.StatementDraftEntry) error {
		if planID == "" {
			e.SavingsPlanID = ""
			e.ArchiveSavingsPlanOnBooking = false
			return nil
		}

		plans, err := s.repo.ListSavingsPlans(ctx, ownerID)
		if err != nil {
			return err
		}
		for _, p := range plans {
			if p.ID == planID {
				e.SavingsPlanID = planID
				return nil
			}
		}
		return fmt.Errorf("savings plan %s: %w", planID, domain.ErrNotFound)
	})
}

// SetEntrySplitDraft points the entry at the draft that breaks it down. A draft can be the
// split draft of one entry only and never of an entry it contains itself.
func (s *Service) SetEntrySplitDraft(ctx context.Context, ownerID, draftID, entryID, splitDraftID string) (*domain.StatementDraftEntry, error) {
	return s.mutateEntry(ctx, "SetEntrySplitDraft", ownerID, draftID, entryID, func(ctx context.Context, d *domain.StatementDraft, e *domain.StatementDraftEntry) error {
		if splitDraftID == "" {
			e.SplitDraftID = ""
			if e.Status == domain.EntryStatusAccounted {
				return e.ResetOpen()
			}
			return nil
		}
		if splitDraftID == d.ID {
			return fmt.Errorf("draft %s cannot split its own entry: %w", d.ID, domain.ErrInvalidArgument)
		}

		child, err := s.repo.GetDraft(ctx, ownerID, splitDraftID)
		if err != nil {
			return err
		}
		if child.IsCommitted() {
			return fmt.Errorf("split draft %s is committed: %w", child.ID, domain.ErrInvalidArgument)
		}

		refs, err := s.repo.ListSplitReferences(ctx, ownerID, splitDraftID)
		if err != nil {
			return err
		}
		for _, r := range refs {
			if r.EntryID != e.ID {
				return fmt.Errorf("draft %s already splits entry %s: %w", splitDraftID, r.EntryID, domain.ErrInvalidArgument)
			}
		}

		e.SplitDraftID = splitDraftID
		return nil
	})
}

// SetEntrySecurity assigns security data. An empty security id removes the assignment.
func (s *Service) SetEntrySecurity(ctx context.Context, ownerID, draftID, entryID string, a SecurityAssignment) (*domain.StatementDraftEntry, error) {
	return s.mutateEntry(ctx, "SetEntrySecurity", ownerID, draftID, entryID, func(ctx context.Context, d *domain.StatementDraft, e *domain.StatementDraftEntry) error {
		if a.SecurityID == "" {
			e.SecurityID = ""
			e.SecurityTransactionType = ""
			return nil
		}

		var txType domain.SecurityTransactionType
		if a.TransactionType != "" {
			t, err := domain.ParseSecurityTransactionType(a.TransactionType)
			if err != nil {
				return err
			}
			txType = t
		}

		securities, err := s.repo.ListSecurities(ctx, ownerID)
		if err != nil {
			return err
		}
		found := false
		for _, sec := range securities {
			if sec.ID == a.SecurityID {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("security %s: %w", a.SecurityID, domain.ErrNotFound)
		}

		e.SecurityID = a.SecurityID
		e.SecurityTransactionType = txType
		e.SecurityQuantity = a.Quantity
		e.SecurityFeeAmount = a.Fee
		e.SecurityTaxAmount = a.Tax
		return nil
	})
}

// SetEntryFlags replaces the entry's user flags.
func (s *Service) SetEntryFlags(ctx context.Context, ownerID, draftID, entryID string, flags EntryFlags) (*domain.StatementDraftEntry, error) {
	return s.mutateEntry(ctx, "SetEntryFlags", ownerID, draftID, entryID, func(ctx context.Context, d *domain.StatementDraft, e *domain.StatementDraftEntry) error {
		if flags.ArchiveSavingsPlanOnBooking && e.SavingsPlanID == "" {
			return fmt.Errorf("entry %s has no savings plan to archive: %w", e.ID, domain.ErrInvalidArgument)
		}
		e.IsCostNeutral = flags.IsCostNeutral
		e.ArchiveSavingsPlanOnBooking = flags.ArchiveSavingsPlanOnBooking
		return nil
	})
}

// ResetEntry drops every assignment and moves the entry back to Open.
func (s *Service) ResetEntry(ctx context.Context, ownerID, draftID, entryID string) (*domain.StatementDraftEntry, error) {
	return s.mutateEntry(ctx, "ResetEntry", ownerID, draftID, entryID, func(ctx context.Context, d *domain.StatementDraft, e *domain.StatementDraftEntry) error {
		if err := e.ResetOpen(); err != nil {
			return err
		}
		e.ContactID = ""
		e.SavingsPlanID = ""
		e.SplitDraftID = ""
		e.SecurityID = ""
		e.SecurityTransactionType = ""
		e.IsCostNeutral = false
		e.ArchiveSavingsPlanOnBooking = false
		return nil
	})
}
