package drafts

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dvloznov/statement-booking/internal/classify"
	"github.com/dvloznov/statement-booking/internal/domain"
	"github.com/dvloznov/statement-booking/internal/lock"
	"github.com/dvloznov/statement-booking/internal/pipeline"
)

// ImportRequest describes one uploaded statement. Either Data or GCSURI is set.
type ImportRequest struct {
	OwnerID  string
	FileName string
	Data     []byte
	GCSURI   string
}

// ImportResult lists the drafts created from one upload.
type ImportResult struct {
	UploadGroupID string                   `json:"upload_group_id"`
	AccountID     string                   `json:"account_id,omitempty"`
	Drafts        []*domain.StatementDraft `json:"-"`
	SplitInfo     domain.ImportSplitInfo   `json:"split_info"`
}

// ClassifyResult summarises one classification run.
type ClassifyResult struct {
	Draft      *domain.StatementDraft `json:"-"`
	Duplicates int                    `json:"duplicates"`
	Stats      classify.Stats         `json:"stats"`
}

// Import parses a statement file and creates one classified draft per movement group.
func (s *Service) Import(ctx context.Context, req ImportRequest) (res *ImportResult, err error) {
	ctx, span := s.startSpan(ctx, "Import", req.OwnerID, "")
	defer func() { finishSpan(span, err) }()

	if req.OwnerID == "" {
		return nil, fmt.Errorf("Import: owner is required: %w", domain.ErrInvalidArgument)
	}

	state := &pipeline.PipelineState{
		OwnerID:  req.OwnerID,
		FileName: req.FileName,
		Data:     req.Data,
		GCSURI:   req.GCSURI,
	}
	if err := s.importer.Execute(ctx, state); err != nil {
		return nil, fmt.Errorf("Import: %w", err)
	}

	res = &ImportResult{
		UploadGroupID: state.UploadGroupID,
		Drafts:        state.Drafts,
		SplitInfo:     state.SplitInfo,
	}
	if state.Account != nil {
		res.AccountID = state.Account.ID
	}
	s.log.Info().
		Str("owner_id", req.OwnerID).
		Str("upload_group_id", res.UploadGroupID).
		Str("file", state.FileName).
		Int("drafts", len(res.Drafts)).
		Msg("Imported statement")
	return res, nil
}

// ClassifyDraft runs duplicate detection and classification on d and saves it. The caller
// either holds the draft's lock or has just created the draft.
func (s *Service) ClassifyDraft(ctx context.Context, d *domain.StatementDraft) error {
	_, err := s.classify(ctx, d)
	return err
}

func (s *Service) classify(ctx context.Context, d *domain.StatementDraft) (*ClassifyResult, error) {
	if d.IsCommitted() {
		return nil, fmt.Errorf("classify: draft %s is committed: %w", d.ID, domain.ErrInvalidTransition)
	}

	ref, err := s.referenceData(ctx, d.OwnerID, d.DetectedAccountID)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	res := &ClassifyResult{Draft: d}
	if d.HasDetectedAccount() {
		existing, err := s.repo.ListBankPostings(ctx, d.OwnerID, d.DetectedAccountID, classify.DuplicateWindowStart(s.now()))
		if err != nil {
			return nil, fmt.Errorf("classify: existing postings: %w", err)
		}
		if res.Duplicates, err = classify.MarkDuplicates(d, existing); err != nil {
			return nil, fmt.Errorf("classify: %w", err)
		}
	}

	if res.Stats, err = s.classifier.Classify(d, ref); err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	d.UpdatedAt = s.now()
	if err := s.repo.SaveDraft(ctx, d); err != nil {
		return nil, fmt.Errorf("classify: save draft %s: %w", d.ID, err)
	}
	return res, nil
}

// Classify re-runs duplicate detection and classification on a stored draft.
func (s *Service) Classify(ctx context.Context, ownerID, draftID string) (res *ClassifyResult, err error) {
	ctx, span := s.startSpan(ctx, "Classify", ownerID, draftID)
	defer func() { finishSpan(span, err) }()

	err = s.withDraft(ctx, ownerID, draftID, func(ctx context.Context, d *domain.StatementDraft) error {
		var cerr error
		res, cerr = s.classify(ctx, d)
		return cerr
	})
	if err != nil {
		return nil, fmt.Errorf("Classify: %w", err)
	}
	return res, nil
}

// ClassifyAllOpen re-classifies every open draft of the owner. Drafts locked by another
// writer are skipped. It returns the number of drafts classified.
func (s *Service) ClassifyAllOpen(ctx context.Context, ownerID string) (int, error) {
	open, err := s.repo.ListOpenDrafts(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("ClassifyAllOpen: %w", err)
	}

	done := 0
	for _, d := range open {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		_, err := s.Classify(ctx, ownerID, d.ID)
		switch {
		case errors.Is(err, lock.ErrLockBusy), errors.Is(err, domain.ErrConcurrentModification):
			s.log.Info().Str("owner_id", ownerID).Str("draft_id", d.ID).Msg("Skipping draft in use")
			continue
		case err != nil:
			return done, fmt.Errorf("ClassifyAllOpen: %w", err)
		}
		done++
	}
	return done, nil
}

// Validate checks a draft, or one entry when entryID is set, and stores the resulting entry statuses.
func (s *Service) Validate(ctx context.Context, ownerID, draftID, entryID string) (res *domain.ValidationResult, err error) {
	ctx, span := s.startSpan(ctx, "Validate", ownerID, draftID)
	defer func() { finishSpan(span, err) }()

	err = s.withDraft(ctx, ownerID, draftID, func(ctx context.Context, d *domain.StatementDraft) error {
		ref, err := s.referenceData(ctx, ownerID, d.DetectedAccountID)
		if err != nil {
			return err
		}
		if res, err = s.validator.Validate(ctx, d, entryID, ref); err != nil {
			return err
		}
		if d.IsCommitted() {
			return nil
		}
		d.UpdatedAt = s.now()
		return s.repo.SaveDraft(ctx, d)
	})
	if err != nil {
		return nil, fmt.Errorf("Validate: %w", err)
	}
	return res, nil
}

// Book books one entry (entryID set) or the whole draft. Warnings block the booking unless
// forceWarnings is set.
func (s *Service) Book(ctx context.Context, ownerID, draftID, entryID string, forceWarnings bool) (res *domain.BookingResult, err error) {
	ctx, span := s.startSpan(ctx, "Book", ownerID, draftID)
	span.SetAttributes(attribute.String("entry_id", entryID), attribute.Bool("force_warnings", forceWarnings))
	defer func() { finishSpan(span, err) }()

	err = s.withDraft(ctx, ownerID, draftID, func(ctx context.Context, d *domain.StatementDraft) error {
		ref, err := s.referenceData(ctx, ownerID, d.DetectedAccountID)
		if err != nil {
			return err
		}
		res, err = s.engine.Book(ctx, d, entryID, forceWarnings, ref)
		return err
	})
	if err != nil {
		return res, fmt.Errorf("Book: %w", err)
	}
	return res, nil
}

// Cancel deletes an open draft. Entries that used it as their split draft lose the reference
// and fall back to Open when they were Accounted. The references are cleared after the
// cancelled draft's lock is released, so Cancel never holds two draft locks at once.
func (s *Service) Cancel(ctx context.Context, ownerID, draftID string) (err error) {
	ctx, span := s.startSpan(ctx, "Cancel", ownerID, draftID)
	defer func() { finishSpan(span, err) }()

	err = s.withDraft(ctx, ownerID, draftID, func(ctx context.Context, d *domain.StatementDraft) error {
		if d.IsCommitted() {
			return fmt.Errorf("draft %s is committed: %w", d.ID, domain.ErrInvalidTransition)
		}
		return s.repo.DeleteDraft(ctx, ownerID, draftID)
	})
	if err != nil {
		return fmt.Errorf("Cancel: %w", err)
	}

	refs, err := s.repo.ListSplitReferences(ctx, ownerID, draftID)
	if err != nil {
		return fmt.Errorf("Cancel: split references: %w", err)
	}
	for _, ref := range refs {
		if err := s.clearSplitReference(ctx, ownerID, draftID, ref); err != nil {
			return fmt.Errorf("Cancel: clear reference from %s: %w", ref.DraftID, err)
		}
	}

	s.log.Info().Str("owner_id", ownerID).Str("draft_id", draftID).Int("cleared_references", len(refs)).Msg("Cancelled draft")
	return nil
}

// clearSplitReference removes the link from ref's entry to the cancelled draft. A parent that
// was deleted or committed in the meantime needs no change.
func (s *Service) clearSplitReference(ctx context.Context, ownerID, cancelledID string, ref domain.SplitReference) error {
	err := s.withDraft(ctx, ownerID, ref.DraftID, func(ctx context.Context, parent *domain.StatementDraft) error {
		e := parent.FindEntry(ref.EntryID)
		if e == nil || e.SplitDraftID != cancelledID || parent.IsCommitted() {
			return nil
		}
		e.SplitDraftID = ""
		if e.Status == domain.EntryStatusAccounted {
			if err := e.ResetOpen(); err != nil {
				return err
			}
		}
		parent.UpdatedAt = s.now()
		return s.repo.SaveDraft(ctx, parent)
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}
