// Package validation checks statement drafts against the booking rules.
package validation

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-booking/internal/domain"
)

// DraftSource loads the drafts a split reference can point to. Every lookup is owner-scoped.
type DraftSource interface {
	GetDraft(ctx context.Context, ownerID, draftID string) (*domain.StatementDraft, error)
	ListDraftsByUploadGroup(ctx context.Context, ownerID, uploadGroupID string) ([]*domain.StatementDraft, error)
}

// Validator produces validation messages for a draft and updates entry statuses accordingly.
type Validator struct {
	drafts DraftSource
	log    zerolog.Logger
}

// NewValidator creates a validator.
func NewValidator(drafts DraftSource, log zerolog.Logger) *Validator {
	return &Validator{drafts: drafts, log: log}
}

// Validate checks the draft. With a non-empty entryID only that entry is checked.
//
// Entries with an Error message are moved to NeedsCheck, or back to Open when the only problem
// is a split amount mismatch. A payment-intermediary entry whose split subtree is clean becomes
// Accounted. Split drafts reached through references are checked but left unchanged.
// The caller persists the draft.
func (v *Validator) Validate(ctx context.Context, d *domain.StatementDraft, entryID string, ref domain.ReferenceData) (*domain.ValidationResult, error) {
	result := domain.NewValidationResult(d.ID)
	if d.IsCommitted() {
		result.Add(domain.CodeDraftCommitted, domain.SeverityError, d.ID, "", "draft %s is already committed", d.ID)
		return result, nil
	}

	entries := d.Entries
	if entryID != "" {
		e := d.FindEntry(entryID)
		if e == nil {
			return nil, fmt.Errorf("Validate: entry %s in draft %s: %w", entryID, d.ID, domain.ErrNotFound)
		}
		entries = []*domain.StatementDraftEntry{e}
	}

	w := &walk{
		v:      v,
		owner:  d.OwnerID,
		ref:    &ref,
		result: result,
		path:   map[string]bool{d.ID: true},
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := w.validateRootEntry(ctx, d, e); err != nil {
			return nil, fmt.Errorf("Validate: draft %s: %w", d.ID, err)
		}
	}

	addSavingsPlanInfo(result, d, entries, &ref)

	v.log.Debug().
		Str("draft_id", d.ID).
		Bool("valid", result.IsValid).
		Int("messages", len(result.Messages)).
		Msg("Validated draft")
	return result, nil
}

// walk is the state of one validation call.
type walk struct {
	v      *Validator
	owner  string
	ref    *domain.ReferenceData
	result *domain.ValidationResult

	// path holds the draft ids on the current split chain.
	path map[string]bool
}

func (w *walk) validateRootEntry(ctx context.Context, d *domain.StatementDraft, e *domain.StatementDraftEntry) error {
	if !e.IsBookable() {
		return nil
	}

	before := len(w.result.Messages)
	splitClean, err := w.checkEntry(ctx, d, e)
	if err != nil {
		return err
	}

	// Errors anywhere in the entry's split subtree count against the entry.
	var errs []domain.ValidationMessage
	for _, m := range w.result.Messages[before:] {
		if m.Severity == domain.SeverityError {
			errs = append(errs, m)
		}
	}

	switch {
	case len(errs) == 0 && splitClean && e.Status != domain.EntryStatusAccounted:
		return e.MarkAccounted(e.ContactID)
	case len(errs) == 0:
		return nil
	case onlySplitMismatch(errs):
		return e.ResetOpen()
	default:
		return e.MarkNeedsCheck()
	}
}

func onlySplitMismatch(msgs []domain.ValidationMessage) bool {
	for _, m := range msgs {
		if m.Code != domain.CodeSplitAmountMismatch {
			return false
		}
	}
	return true
}

// checkEntry runs the per-entry rules. It reports whether the entry is a payment-intermediary
// entry whose split subtree produced no errors.
func (w *walk) checkEntry(ctx context.Context, d *domain.StatementDraft, e *domain.StatementDraftEntry) (bool, error) {
	contact := w.ref.Contact(e.ContactID)
	if contact == nil {
		w.result.Add(domain.CodeEntryNoContact, domain.SeverityError, d.ID, e.ID,
			"entry %q has no contact", e.Subject)
		return false, nil
	}

	splitClean := false
	if contact.IsPaymentIntermediary {
		if e.SplitDraftID == "" {
			w.result.Add(domain.CodeIntermediaryNoSplit, domain.SeverityError, d.ID, e.ID,
				"entry %q is paid through %s and needs a split draft", e.Subject, contact.Name)
		} else {
			before := len(w.result.Messages)
			if err := w.checkSplit(ctx, d, e); err != nil {
				return false, err
			}
			splitClean = !hasErrorSince(w.result.Messages, before)
		}
	} else if e.Status == domain.EntryStatusOpen {
		w.result.Add(domain.CodeEntryOpen, domain.SeverityError, d.ID, e.ID,
			"entry %q is still open", e.Subject)
	}

	if contact.IsSelf() {
		w.checkSelf(d, e)
	}
	if e.HasSecurity() {
		checkSecurity(w.result, d, e, w.ref)
	}
	return splitClean, nil
}

func hasErrorSince(msgs []domain.ValidationMessage, from int) bool {
	for _, m := range msgs[from:] {
		if m.Severity == domain.SeverityError {
			return true
		}
	}
	return false
}

func (w *walk) checkSelf(d *domain.StatementDraft, e *domain.StatementDraftEntry) {
	if e.SavingsPlanID == "" {
		w.result.Add(domain.CodeSelfNoSavingsPlan, domain.SeverityWarning, d.ID, e.ID,
			"entry %q is a transfer to yourself without a savings plan", e.Subject)
		return
	}
	if w.ref.Account != nil && w.ref.Account.Type == domain.AccountTypeSavings {
		w.result.Add(domain.CodeSavingsPlanOnSavingsAcct, domain.SeverityError, d.ID, e.ID,
			"entry %q assigns a savings plan on savings account %s", e.Subject, w.ref.Account.Name)
	}
	if p := w.ref.SavingsPlan(e.SavingsPlanID); p != nil && p.ArchivedAt != nil {
		w.result.Add(domain.CodeSavingsPlanArchived, domain.SeverityWarning, d.ID, e.ID,
			"savings plan %s is archived", p.Name)
	}
}

// checkSplit validates the upload group behind an entry's split draft. A group containing a
// draft already on the current path is a cycle and is not descended into.
func (w *walk) checkSplit(ctx context.Context, parent *domain.StatementDraft, e *domain.StatementDraftEntry) error {
	child, err := w.v.drafts.GetDraft(ctx, w.owner, e.SplitDraftID)
	if errors.Is(err, domain.ErrNotFound) {
		w.result.Add(domain.CodeSplitDraftNotFound, domain.SeverityError, parent.ID, e.ID,
			"split draft %s of entry %q does not exist", e.SplitDraftID, e.Subject)
		return nil
	}
	if err != nil {
		return fmt.Errorf("checkSplit: load split draft %s: %w", e.SplitDraftID, err)
	}

	group, err := w.splitGroup(ctx, child)
	if err != nil {
		return err
	}

	for _, g := range group {
		if w.path[g.ID] {
			w.result.Add(domain.CodeSplitCycleDetected, domain.SeverityError, parent.ID, e.ID,
				"split reference of entry %q leads back to draft %s", e.Subject, g.ID)
			return nil
		}
	}
	for _, g := range group {
		w.path[g.ID] = true
	}
	defer func() {
		for _, g := range group {
			delete(w.path, g.ID)
		}
	}()

	sum := splitGroupTotal(group)
	if !sum.Equal(e.Amount) {
		w.result.Add(domain.CodeSplitAmountMismatch, domain.SeverityError, parent.ID, e.ID,
			"split drafts of entry %q sum to %s, expected %s", e.Subject, sum.String(), e.Amount.String())
	}

	for _, g := range group {
		if g.HasDetectedAccount() {
			w.result.Add(domain.CodeSplitDraftHasAccount, domain.SeverityError, parent.ID, e.ID,
				"split draft %s must not be linked to an account", g.ID)
		}
	}

	for _, g := range group {
		for _, ce := range g.Entries {
			if !ce.IsBookable() {
				continue
			}
			if _, err := w.checkEntry(ctx, g, ce); err != nil {
				return err
			}
		}
	}
	return nil
}

// splitGroup returns every draft of the child's upload group, the child included.
func (w *walk) splitGroup(ctx context.Context, child *domain.StatementDraft) ([]*domain.StatementDraft, error) {
	if child.UploadGroupID == "" {
		return []*domain.StatementDraft{child}, nil
	}
	group, err := w.v.drafts.ListDraftsByUploadGroup(ctx, w.owner, child.UploadGroupID)
	if err != nil {
		return nil, fmt.Errorf("splitGroup: upload group %s: %w", child.UploadGroupID, err)
	}
	for _, g := range group {
		if g.ID == child.ID {
			return group, nil
		}
	}
	return append(group, child), nil
}
