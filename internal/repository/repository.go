// Package repository declares the persistence contracts shared by the BigQuery and in-memory stores.
// Every method is scoped to an owner; lookups of another owner's records return domain.ErrNotFound.
package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-booking/internal/domain"
)

// DraftRepository stores statement drafts together with their entries.
type DraftRepository interface {
	// CreateDraft inserts a new draft with version 1.
	CreateDraft(ctx context.Context, d *domain.StatementDraft) error

	// GetDraft loads a draft with its entries.
	GetDraft(ctx context.Context, ownerID, draftID string) (*domain.StatementDraft, error)

	// SaveDraft replaces the stored draft and its entries. It fails with
	// domain.ErrConcurrentModification when the stored version differs from d.Version,
	// and increments d.Version on success.
	SaveDraft(ctx context.Context, d *domain.StatementDraft) error

	// DeleteDraft removes a draft and its entries.
	DeleteDraft(ctx context.Context, ownerID, draftID string) error

	// ListOpenDrafts returns uncommitted drafts ordered by creation time.
	ListOpenDrafts(ctx context.Context, ownerID string) ([]*domain.StatementDraft, error)

	// ListDraftsByUploadGroup returns the drafts created from one upload, ordered by creation time.
	ListDraftsByUploadGroup(ctx context.Context, ownerID, uploadGroupID string) ([]*domain.StatementDraft, error)

	// ListSplitReferences returns the open entries whose split draft is splitDraftID.
	ListSplitReferences(ctx context.Context, ownerID, splitDraftID string) ([]domain.SplitReference, error)

	// ListOwnersWithOpenDrafts returns the owners that have at least one open draft.
	ListOwnersWithOpenDrafts(ctx context.Context) ([]string, error)
}

// ReferenceRepository stores contacts, accounts, savings plans and securities.
type ReferenceRepository interface {
	ListContacts(ctx context.Context, ownerID string) ([]domain.Contact, error)
	GetContact(ctx context.Context, ownerID, contactID string) (*domain.Contact, error)
	// SaveContact inserts or updates a contact including its alias patterns.
	SaveContact(ctx context.Context, c *domain.Contact) error
	DeleteContact(ctx context.Context, ownerID, contactID string) error

	ListAccounts(ctx context.Context, ownerID string) ([]domain.Account, error)
	GetAccount(ctx context.Context, ownerID, accountID string) (*domain.Account, error)
	// FindAccount matches an account by IBAN or account number, ignoring case and whitespace.
	FindAccount(ctx context.Context, ownerID, iban, accountNumber string) (*domain.Account, error)
	SaveAccount(ctx context.Context, a *domain.Account) error

	ListSavingsPlans(ctx context.Context, ownerID string) ([]domain.SavingsPlan, error)
	SaveSavingsPlan(ctx context.Context, p *domain.SavingsPlan) error

	ListSecurities(ctx context.Context, ownerID string) ([]domain.Security, error)
	SaveSecurity(ctx context.Context, s *domain.Security) error
}

// PostingRepository appends and queries ledger postings.
type PostingRepository interface {
	CreatePostings(ctx context.Context, postings []domain.Posting) error

	// ListBankPostings returns the bank legs of an account booked on or after since.
	ListBankPostings(ctx context.Context, ownerID, accountID string, since time.Time) ([]domain.Posting, error)

	// ListPostingsCreatedSince returns postings created on or after since, oldest first.
	ListPostingsCreatedSince(ctx context.Context, ownerID string, since time.Time) ([]domain.Posting, error)

	SumSavingsPlanPostings(ctx context.Context, ownerID, savingsPlanID string) (decimal.Decimal, error)

	// SavingsPlanBalances sums the savings plan legs of every plan of the owner.
	SavingsPlanBalances(ctx context.Context, ownerID string) (map[string]decimal.Decimal, error)
}

// AttachmentRepository stores attachment metadata. Blobs live in object storage.
type AttachmentRepository interface {
	CreateAttachment(ctx context.Context, a *domain.Attachment) error
	ListAttachments(ctx context.Context, ownerID string, kind domain.AttachmentEntityKind, entityID string) ([]domain.Attachment, error)
	ReassignAttachments(ctx context.Context, ownerID string, fromKind domain.AttachmentEntityKind, fromID string, toKind domain.AttachmentEntityKind, toID string) error
}

// Aggregate is a monthly running total per ledger entity.
type Aggregate struct {
	OwnerID  string
	Kind     domain.PostingKind
	EntityID string // account, contact, savings plan or security id
	Period   string // YYYY-MM of the booking date
	Amount   decimal.Decimal
	Count    int
}

// AggregateRepository maintains the monthly aggregates.
type AggregateRepository interface {
	UpsertForPosting(ctx context.Context, p domain.Posting) error
	ListAggregates(ctx context.Context, ownerID string, kind domain.PostingKind, entityID string) ([]Aggregate, error)
}

// Repository bundles every store the services need.
type Repository interface {
	DraftRepository
	ReferenceRepository
	PostingRepository
	AttachmentRepository
	AggregateRepository
}

// AggregateEntityID returns the entity a posting's aggregate is keyed on.
func AggregateEntityID(p domain.Posting) string {
	switch p.Kind {
	case domain.PostingKindBank:
		return p.AccountID
	case domain.PostingKindContact:
		return p.ContactID
	case domain.PostingKindSavingsPlan:
		return p.SavingsPlanID
	case domain.PostingKindSecurity:
		return p.SecurityID
	}
	return ""
}

// AggregatePeriod returns the YYYY-MM period of a posting.
func AggregatePeriod(p domain.Posting) string {
	return p.BookingDate.Format("2006-01")
}
