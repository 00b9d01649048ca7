// Package booking turns validated statement draft entries into ledger postings.
package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-booking/internal/domain"
	"github.com/dvloznov/statement-booking/internal/validation"
)

// DraftStore persists drafts. SaveDraft fails with domain.ErrConcurrentModification when the
// stored version differs from the draft's version.
type DraftStore interface {
	validation.DraftSource
	SaveDraft(ctx context.Context, d *domain.StatementDraft) error
	ListOpenDrafts(ctx context.Context, ownerID string) ([]*domain.StatementDraft, error)
	ListSplitReferences(ctx context.Context, ownerID, splitDraftID string) ([]domain.SplitReference, error)
}

// PostingStore appends postings and answers balance queries.
type PostingStore interface {
	CreatePostings(ctx context.Context, postings []domain.Posting) error
	ListBankPostings(ctx context.Context, ownerID, accountID string, since time.Time) ([]domain.Posting, error)
	SumSavingsPlanPostings(ctx context.Context, ownerID, savingsPlanID string) (decimal.Decimal, error)
}

// SavingsPlanStore persists savings plan changes made while booking.
type SavingsPlanStore interface {
	SaveSavingsPlan(ctx context.Context, p *domain.SavingsPlan) error
}

// AggregateUpdater keeps reporting aggregates in step with new postings.
type AggregateUpdater interface {
	UpsertForPosting(ctx context.Context, p domain.Posting) error
}

// AttachmentService moves and references attachments between entities.
type AttachmentService interface {
	List(ctx context.Context, ownerID string, kind domain.AttachmentEntityKind, entityID string) ([]domain.Attachment, error)
	Reassign(ctx context.Context, ownerID string, fromKind domain.AttachmentEntityKind, fromID string, toKind domain.AttachmentEntityKind, toID string) error
	CreateReference(ctx context.Context, ownerID, masterAttachmentID string, kind domain.AttachmentEntityKind, entityID string) error
}

// Dependencies groups the collaborators of the engine.
type Dependencies struct {
	Drafts       DraftStore
	Postings     PostingStore
	SavingsPlans SavingsPlanStore
	Aggregates   AggregateUpdater
	Attachments  AttachmentService
	Validator    *validation.Validator
}

// Engine books drafts.
type Engine struct {
	deps Dependencies
	log  zerolog.Logger
	now  func() time.Time
}

// NewEngine creates a booking engine using the wall clock.
func NewEngine(deps Dependencies, log zerolog.Logger) *Engine {
	return &Engine{deps: deps, log: log, now: time.Now}
}

// WithClock returns a copy of the engine that reads time from now.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	cp := *e
	cp.now = now
	return &cp
}

// Book books one entry (entryID set) or every bookable entry of the draft.
//
// The draft is validated first. Errors always stop the booking; warnings stop it unless
// forceWarnings is set. Each entry is persisted on its own: its postings are written, the
// entry is removed and the draft is saved before the next entry starts, so an interrupted
// call can be resumed. Entries whose bank leg already exists are not posted again. A partial
// booking commits the draft once no entries remain; a full booking always commits it and
// archives the savings plans its entries completed.
func (e *Engine) Book(ctx context.Context, d *domain.StatementDraft, entryID string, forceWarnings bool, ref domain.ReferenceData) (*domain.BookingResult, error) {
	res := &domain.BookingResult{Validation: domain.NewValidationResult(d.ID)}

	ok, err := e.checkPreconditions(ctx, d, entryID, ref, res.Validation)
	if err != nil || !ok {
		return res, err
	}

	vr, err := e.deps.Validator.Validate(ctx, d, entryID, ref)
	if err != nil {
		return nil, fmt.Errorf("Book: %w", err)
	}
	res.Validation = vr
	res.HasWarnings = vr.HasWarnings()

	// Saving the validated statuses first claims the version, so a stale draft fails
	// here before any posting is written.
	if err := e.deps.Drafts.SaveDraft(ctx, d); err != nil {
		return nil, fmt.Errorf("Book: save validated draft: %w", err)
	}
	if vr.HasErrors() || (vr.HasWarnings() && !forceWarnings) {
		return res, nil
	}

	var targets []*domain.StatementDraftEntry
	if entryID != "" {
		targets = []*domain.StatementDraftEntry{d.FindEntry(entryID)}
	} else {
		for _, entry := range d.Entries {
			if entry.IsBookable() {
				targets = append(targets, entry)
			}
		}
	}

	b := &booker{
		engine:  e,
		owner:   d.OwnerID,
		account: ref.Account,
		ref:     &ref,
		visited: map[string]bool{d.ID: true},
	}
	log := e.log.With().Str("draft_id", d.ID).Str("owner_id", d.OwnerID).Logger()

	if len(targets) > 0 {
		if err := b.loadPosted(ctx, earliestBookingDate(targets)); err != nil {
			return res, fmt.Errorf("Book: %w", err)
		}
	}

	for _, entry := range targets {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := b.bookEntry(ctx, entry); err != nil {
			return res, fmt.Errorf("Book: entry %s: %w", entry.ID, err)
		}
		d.RemoveEntry(entry.ID)
		if entryID != "" && len(d.Entries) == 0 {
			d.Commit(e.now())
		}
		d.UpdatedAt = e.now()
		if err := e.deps.Drafts.SaveDraft(ctx, d); err != nil {
			return res, fmt.Errorf("Book: save draft after entry %s: %w", entry.ID, err)
		}
		res.BookedCount++
	}

	if entryID == "" && !d.IsCommitted() {
		d.Commit(e.now())
		if err := e.deps.Drafts.SaveDraft(ctx, d); err != nil {
			return res, fmt.Errorf("Book: commit draft: %w", err)
		}
	}

	if entryID == "" {
		if err := b.archiveCompletedPlans(ctx, res.Validation, d.ID); err != nil {
			return res, fmt.Errorf("Book: %w", err)
		}
	}

	res.Success = true
	res.NextOpenDraftID, err = e.nextOpenDraft(ctx, d)
	if err != nil {
		return res, fmt.Errorf("Book: %w", err)
	}

	log.Info().
		Int("booked", res.BookedCount).
		Bool("committed", d.IsCommitted()).
		Msg("Booked draft")
	return res, nil
}

// checkPreconditions reports false with an Error message when the draft cannot be booked.
func (e *Engine) checkPreconditions(ctx context.Context, d *domain.StatementDraft, entryID string, ref domain.ReferenceData, vr *domain.ValidationResult) (bool, error) {
	if d.IsCommitted() {
		vr.Add(domain.CodeDraftCommitted, domain.SeverityError, d.ID, "", "draft %s is already committed", d.ID)
		return false, nil
	}

	refs, err := e.deps.Drafts.ListSplitReferences(ctx, d.OwnerID, d.ID)
	if err != nil {
		return false, fmt.Errorf("checkPreconditions: split references: %w", err)
	}
	if len(refs) > 0 {
		vr.Add(domain.CodeSplitTargetNotBookable, domain.SeverityError, d.ID, "",
			"draft %s is the split draft of entry %s and is booked with it", d.ID, refs[0].EntryID)
		return false, nil
	}

	if !d.HasDetectedAccount() || ref.Account == nil || ref.Account.ID != d.DetectedAccountID {
		vr.Add(domain.CodeNoAccount, domain.SeverityError, d.ID, "", "draft %s has no account", d.ID)
		return false, nil
	}

	if entryID != "" {
		entry := d.FindEntry(entryID)
		if entry == nil {
			return false, fmt.Errorf("checkPreconditions: entry %s: %w", entryID, domain.ErrNotFound)
		}
		if !entry.IsBookable() {
			vr.Add(domain.CodeEntryNotBookable, domain.SeverityError, d.ID, entry.ID,
				"entry %q is %s and cannot be booked", entry.Subject, entry.Status)
			return false, nil
		}
	}
	return true, nil
}

func earliestBookingDate(entries []*domain.StatementDraftEntry) time.Time {
	earliest := entries[0].BookingDate
	for _, entry := range entries[1:] {
		if entry.BookingDate.Before(earliest) {
			earliest = entry.BookingDate
		}
	}
	return earliest
}

func (e *Engine) nextOpenDraft(ctx context.Context, d *domain.StatementDraft) (string, error) {
	if !d.IsCommitted() {
		return d.ID, nil
	}
	open, err := e.deps.Drafts.ListOpenDrafts(ctx, d.OwnerID)
	if err != nil {
		return "", fmt.Errorf("nextOpenDraft: %w", err)
	}
	for _, o := range open {
		if o.ID != d.ID {
			return o.ID, nil
		}
	}
	return "", nil
}
