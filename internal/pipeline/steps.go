package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/statement-booking/internal/domain"
	"github.com/dvloznov/statement-booking/internal/grouping"
	"github.com/dvloznov/statement-booking/internal/logger"
)

// Step 1: FetchStatementStep downloads the file when the import references object storage.
type FetchStatementStep struct {
	Storage StatementFetcher
}

func (s *FetchStatementStep) Execute(ctx context.Context, state *PipelineState) error {
	if len(state.Data) > 0 {
		return nil
	}
	if state.GCSURI == "" {
		return fmt.Errorf("FetchStatementStep: no file data and no GCS URI: %w", domain.ErrInvalidArgument)
	}
	if s.Storage == nil {
		return fmt.Errorf("FetchStatementStep: object storage is not configured: %w", domain.ErrInvalidArgument)
	}

	data, err := s.Storage.FetchFromGCS(ctx, state.GCSURI)
	if err != nil {
		return fmt.Errorf("FetchStatementStep: %w", err)
	}
	state.Data = data
	if state.FileName == "" {
		state.FileName = s.Storage.ExtractFilenameFromGCSURI(state.GCSURI)
	}
	return nil
}

// Step 2: ParseStatementStep runs the statement readers.
type ParseStatementStep struct {
	Parser StatementParser
}

func (s *ParseStatementStep) Execute(ctx context.Context, state *PipelineState) error {
	parsed, err := s.Parser.Parse(ctx, state.FileName, state.Data)
	if err != nil {
		return fmt.Errorf("ParseStatementStep: %w", err)
	}
	state.Parsed = parsed
	return nil
}

// Step 3: ResolveAccountStep links the statement to an account by IBAN or account number.
// A statement without a matching account is imported without one.
type ResolveAccountStep struct {
	Accounts AccountFinder
}

func (s *ResolveAccountStep) Execute(ctx context.Context, state *PipelineState) error {
	h := state.Parsed.Header
	if h.AccountIBAN == "" && h.AccountNumber == "" {
		return nil
	}

	acc, err := s.Accounts.FindAccount(ctx, state.OwnerID, h.AccountIBAN, h.AccountNumber)
	if errors.Is(err, domain.ErrNotFound) {
		log := logger.FromContext(ctx)
		log.Warn().
			Str("owner_id", state.OwnerID).
			Str("iban", h.AccountIBAN).
			Str("account_number", h.AccountNumber).
			Msg("No account matches the statement header")
		return nil
	}
	if err != nil {
		return fmt.Errorf("ResolveAccountStep: %w", err)
	}
	state.Account = acc
	return nil
}

// Step 4: GroupMovementsStep divides the movements into draft-sized groups.
type GroupMovementsStep struct {
	Settings domain.SplitSettings
}

func (s *GroupMovementsStep) Execute(ctx context.Context, state *PipelineState) error {
	state.Groups, state.SplitInfo = grouping.Group(state.Parsed.Movements, s.Settings)

	log := logger.FromContext(ctx)
	log.Info().
		Str("owner_id", state.OwnerID).
		Str("file", state.FileName).
		Str("mode", string(state.SplitInfo.Mode)).
		Bool("effective_monthly", state.SplitInfo.EffectiveMonthly).
		Int("drafts", state.SplitInfo.DraftCount).
		Int("movements", state.SplitInfo.TotalMovements).
		Int("largest_draft", state.SplitInfo.LargestDraftSize).
		Msg("Split statement import")
	return nil
}

// Step 5: CreateDraftsStep stores one draft per group, all sharing a new upload group id.
type CreateDraftsStep struct {
	Drafts DraftCreator
	Now    func() time.Time
}

func (s *CreateDraftsStep) Execute(ctx context.Context, state *PipelineState) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	state.UploadGroupID = uuid.NewString()

	base := state.Parsed.Header.Description
	if base == "" {
		base = state.FileName
	}

	for _, g := range state.Groups {
		description := base
		if len(state.Groups) > 1 {
			description = fmt.Sprintf("%s (%s)", base, g.Label)
		}

		d := domain.NewStatementDraft(state.OwnerID, state.FileName, description, state.UploadGroupID, g.Size(), now())
		if state.Account != nil {
			d.DetectedAccountID = state.Account.ID
		}
		for _, m := range g.Movements {
			d.AddMovement(m)
		}

		if err := s.Drafts.CreateDraft(ctx, d); err != nil {
			return fmt.Errorf("CreateDraftsStep: draft %q: %w", description, err)
		}
		state.Drafts = append(state.Drafts, d)
	}
	return nil
}

// Step 6: ClassifyDraftsStep runs duplicate detection and classification on every new draft.
type ClassifyDraftsStep struct {
	Classifier DraftClassifier
}

func (s *ClassifyDraftsStep) Execute(ctx context.Context, state *PipelineState) error {
	if s.Classifier == nil {
		return nil
	}
	for _, d := range state.Drafts {
		if err := s.Classifier.ClassifyDraft(ctx, d); err != nil {
			return fmt.Errorf("ClassifyDraftsStep: draft %s: %w", d.ID, err)
		}
	}
	return nil
}
