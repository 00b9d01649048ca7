package pipeline

import (
	"context"

	"github.com/dvloznov/statement-booking/internal/domain"
	"github.com/dvloznov/statement-booking/internal/gcs"
)

// StatementFetcher downloads statement files from object storage.
type StatementFetcher = gcs.Fetcher

// StatementParser turns file bytes into movements.
type StatementParser interface {
	Parse(ctx context.Context, fileName string, data []byte) (*domain.ParsedStatement, error)
}

// AccountFinder matches a statement header to one of the owner's accounts.
type AccountFinder interface {
	FindAccount(ctx context.Context, ownerID, iban, accountNumber string) (*domain.Account, error)
}

// DraftCreator persists new drafts.
type DraftCreator interface {
	CreateDraft(ctx context.Context, d *domain.StatementDraft) error
}

// DraftClassifier runs duplicate detection and classification on a stored draft and saves it.
type DraftClassifier interface {
	ClassifyDraft(ctx context.Context, d *domain.StatementDraft) error
}
