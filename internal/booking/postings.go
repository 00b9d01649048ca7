package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-booking/internal/domain"
)

// booker carries the state of one Book call.
type booker struct {
	engine  *Engine
	owner   string
	account *domain.Account
	ref     *domain.ReferenceData

	// visited holds the drafts already booked in this call; split references are followed once.
	visited map[string]bool

	// archiveCandidates are plans flagged for archiving by booked entries.
	archiveCandidates []string

	// posted holds the entries with a bank leg booked on or after postedSince.
	posted      map[string]bool
	postedSince time.Time
}

func (b *booker) bookEntry(ctx context.Context, entry *domain.StatementDraftEntry) error {
	contact := b.ref.Contact(entry.ContactID)
	if contact == nil {
		return fmt.Errorf("bookEntry: contact %q: %w", entry.ContactID, domain.ErrNotFound)
	}

	posted, err := b.alreadyPosted(ctx, entry)
	if err != nil {
		return err
	}

	if contact.IsPaymentIntermediary && entry.SplitDraftID != "" {
		if !posted {
			// The bank movement is carried by the split entries; keep a zero pair for continuity.
			pair := b.legs(entry, contact, decimal.Zero)
			if err := b.persist(ctx, entry, pair); err != nil {
				return err
			}
		}
		return b.bookSplitGroup(ctx, entry.SplitDraftID)
	}

	if posted {
		b.engine.log.Info().Str("entry_id", entry.ID).Msg("Entry already posted, skipping postings")
		if contact.IsSelf() && entry.SavingsPlanID != "" && entry.ArchiveSavingsPlanOnBooking {
			b.archiveCandidates = append(b.archiveCandidates, entry.SavingsPlanID)
		}
		return nil
	}

	legs := b.legs(entry, contact, entry.Amount)
	group := legs[0].GroupID

	if contact.IsSelf() && entry.SavingsPlanID != "" {
		plan := b.ref.SavingsPlan(entry.SavingsPlanID)
		if plan == nil {
			return fmt.Errorf("bookEntry: savings plan %s: %w", entry.SavingsPlanID, domain.ErrNotFound)
		}
		leg := b.newPosting(entry, domain.PostingKindSavingsPlan, group, entry.Amount.Neg())
		leg.SavingsPlanID = plan.ID
		legs = append(legs, leg)

		if plan.AdvanceTargetDateIfDue(entry.BookingDate) {
			if err := b.engine.deps.SavingsPlans.SaveSavingsPlan(ctx, plan); err != nil {
				return fmt.Errorf("bookEntry: advance savings plan %s: %w", plan.ID, err)
			}
		}
		if entry.ArchiveSavingsPlanOnBooking {
			b.archiveCandidates = append(b.archiveCandidates, plan.ID)
		}
	}

	if entry.HasSecurity() {
		legs = append(legs, b.securityLegs(entry, group)...)
	}
	return b.persist(ctx, entry, legs)
}

// alreadyPosted reports whether the entry's bank leg was written by an earlier call that
// stopped before the draft was saved.
func (b *booker) alreadyPosted(ctx context.Context, entry *domain.StatementDraftEntry) (bool, error) {
	if b.posted == nil || entry.BookingDate.Before(b.postedSince) {
		if err := b.loadPosted(ctx, entry.BookingDate); err != nil {
			return false, err
		}
	}
	return b.posted[entry.ID], nil
}

func (b *booker) loadPosted(ctx context.Context, since time.Time) error {
	existing, err := b.engine.deps.Postings.ListBankPostings(ctx, b.owner, b.account.ID, since)
	if err != nil {
		return fmt.Errorf("loadPosted: %w", err)
	}
	b.posted = make(map[string]bool, len(existing))
	for _, p := range existing {
		if p.SourceEntryID != "" {
			b.posted[p.SourceEntryID] = true
		}
	}
	b.postedSince = since
	return nil
}

// legs returns the Bank and Contact legs of an entry, sharing a new group id.
func (b *booker) legs(entry *domain.StatementDraftEntry, contact *domain.Contact, amount decimal.Decimal) []domain.Posting {
	group := uuid.NewString()
	bank := b.newPosting(entry, domain.PostingKindBank, group, amount)
	bank.AccountID = b.account.ID
	counter := b.newPosting(entry, domain.PostingKindContact, group, amount)
	counter.ContactID = contact.ID
	return []domain.Posting{bank, counter}
}

// securityLegs builds the trade leg and separate fee and tax legs. Buy and sell trade amounts
// exclude charges; a dividend is posted gross.
func (b *booker) securityLegs(entry *domain.StatementDraftEntry, group string) []domain.Posting {
	fee := nullOrZero(entry.SecurityFeeAmount)
	tax := nullOrZero(entry.SecurityTaxAmount)
	qty := nullOrZero(entry.SecurityQuantity)
	abs := entry.Amount.Abs()

	trade := b.newPosting(entry, domain.PostingKindSecurity, group, decimal.Zero)
	trade.SecurityID = entry.SecurityID
	switch entry.SecurityTransactionType {
	case domain.SecurityTransactionBuy:
		trade.SecuritySubType = domain.SecuritySubTypeBuy
		trade.Amount = abs.Sub(fee).Sub(tax)
		trade.Quantity = decimal.NewNullDecimal(qty)
	case domain.SecurityTransactionSell:
		trade.SecuritySubType = domain.SecuritySubTypeSell
		trade.Amount = abs.Add(fee).Add(tax).Neg()
		trade.Quantity = decimal.NewNullDecimal(qty.Neg())
	case domain.SecurityTransactionDividend:
		trade.SecuritySubType = domain.SecuritySubTypeDividend
		trade.Amount = entry.Amount.Add(fee).Add(tax)
	}
	legs := []domain.Posting{trade}

	for _, charge := range []struct {
		subType domain.SecurityPostingSubType
		amount  decimal.Decimal
	}{
		{domain.SecuritySubTypeFee, fee},
		{domain.SecuritySubTypeTax, tax},
	} {
		if charge.amount.IsZero() {
			continue
		}
		leg := b.newPosting(entry, domain.PostingKindSecurity, group, charge.amount)
		leg.SecurityID = entry.SecurityID
		leg.SecuritySubType = charge.subType
		legs = append(legs, leg)
	}
	return legs
}

func (b *booker) newPosting(entry *domain.StatementDraftEntry, kind domain.PostingKind, group string, amount decimal.Decimal) domain.Posting {
	return domain.Posting{
		ID:            uuid.NewString(),
		OwnerID:       b.owner,
		Kind:          kind,
		SourceEntryID: entry.ID,
		BookingDate:   entry.BookingDate,
		ValutaDate:    entry.ValutaDate,
		Amount:        amount,
		Subject:       entry.Subject,
		RecipientName: entry.RecipientName,
		Description:   entry.BookingDescription,
		GroupID:       group,
		CreatedAt:     b.engine.now(),
	}
}

// persist writes the legs, updates aggregates and moves the entry's attachments to the bank
// leg. The other legs reference the moved attachments.
func (b *booker) persist(ctx context.Context, entry *domain.StatementDraftEntry, legs []domain.Posting) error {
	deps := b.engine.deps
	if err := deps.Postings.CreatePostings(ctx, legs); err != nil {
		return fmt.Errorf("persist: create postings: %w", err)
	}
	for _, p := range legs {
		if err := deps.Aggregates.UpsertForPosting(ctx, p); err != nil {
			return fmt.Errorf("persist: aggregates for posting %s: %w", p.ID, err)
		}
	}

	attachments, err := deps.Attachments.List(ctx, b.owner, domain.AttachmentEntityEntry, entry.ID)
	if err != nil {
		return fmt.Errorf("persist: list attachments: %w", err)
	}
	if len(attachments) == 0 {
		return nil
	}
	bank := legs[0]
	if err := deps.Attachments.Reassign(ctx, b.owner, domain.AttachmentEntityEntry, entry.ID, domain.AttachmentEntityPosting, bank.ID); err != nil {
		return fmt.Errorf("persist: reassign attachments: %w", err)
	}
	for _, leg := range legs[1:] {
		for _, a := range attachments {
			if err := deps.Attachments.CreateReference(ctx, b.owner, a.ID, domain.AttachmentEntityPosting, leg.ID); err != nil {
				return fmt.Errorf("persist: reference attachment %s: %w", a.ID, err)
			}
		}
	}
	return nil
}

// bookSplitGroup books every draft in the upload group of the split draft against the
// parent's account and commits them.
func (b *booker) bookSplitGroup(ctx context.Context, splitDraftID string) error {
	deps := b.engine.deps
	child, err := deps.Drafts.GetDraft(ctx, b.owner, splitDraftID)
	if err != nil {
		return fmt.Errorf("bookSplitGroup: split draft %s: %w", splitDraftID, err)
	}

	group := []*domain.StatementDraft{child}
	if child.UploadGroupID != "" {
		group, err = deps.Drafts.ListDraftsByUploadGroup(ctx, b.owner, child.UploadGroupID)
		if err != nil {
			return fmt.Errorf("bookSplitGroup: upload group %s: %w", child.UploadGroupID, err)
		}
	}

	for _, g := range group {
		if b.visited[g.ID] || g.IsCommitted() {
			continue
		}
		b.visited[g.ID] = true

		entries := append([]*domain.StatementDraftEntry(nil), g.Entries...)
		for _, ce := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !ce.IsBookable() {
				continue
			}
			if err := b.bookEntry(ctx, ce); err != nil {
				return fmt.Errorf("bookSplitGroup: entry %s: %w", ce.ID, err)
			}
			g.RemoveEntry(ce.ID)
			if err := deps.Drafts.SaveDraft(ctx, g); err != nil {
				return fmt.Errorf("bookSplitGroup: save draft %s: %w", g.ID, err)
			}
		}
		g.Commit(b.engine.now())
		if err := deps.Drafts.SaveDraft(ctx, g); err != nil {
			return fmt.Errorf("bookSplitGroup: commit draft %s: %w", g.ID, err)
		}
	}
	return nil
}

// archiveCompletedPlans archives flagged plans whose booked total now equals their target.
func (b *booker) archiveCompletedPlans(ctx context.Context, vr *domain.ValidationResult, draftID string) error {
	seen := make(map[string]bool)
	for _, id := range b.archiveCandidates {
		if seen[id] {
			continue
		}
		seen[id] = true

		plan := b.ref.SavingsPlan(id)
		if plan == nil || !plan.TargetAmount.Valid || plan.ArchivedAt != nil {
			continue
		}
		balance, err := b.engine.deps.Postings.SumSavingsPlanPostings(ctx, b.owner, id)
		if err != nil {
			return fmt.Errorf("archiveCompletedPlans: balance of %s: %w", id, err)
		}
		if !balance.Equal(plan.TargetAmount.Decimal) {
			continue
		}
		plan.Archive(b.engine.now())
		if err := b.engine.deps.SavingsPlans.SaveSavingsPlan(ctx, plan); err != nil {
			return fmt.Errorf("archiveCompletedPlans: save %s: %w", id, err)
		}
		vr.Add(domain.CodeSavingsPlanArchived, domain.SeverityInformation, draftID, "",
			"savings plan %s reached its target of %s and was archived", plan.Name, plan.TargetAmount.Decimal.String())
	}
	return nil
}

func nullOrZero(n decimal.NullDecimal) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	return n.Decimal
}
