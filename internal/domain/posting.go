package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PostingKind identifies which ledger a posting leg belongs to.
type PostingKind string

const (
	PostingKindBank        PostingKind = "Bank"
	PostingKindContact     PostingKind = "Contact"
	PostingKindSavingsPlan PostingKind = "SavingsPlan"
	PostingKindSecurity    PostingKind = "Security"
)

// SecurityPostingSubType refines security legs.
type SecurityPostingSubType string

const (
	SecuritySubTypeBuy      SecurityPostingSubType = "Buy"
	SecuritySubTypeSell     SecurityPostingSubType = "Sell"
	SecuritySubTypeDividend SecurityPostingSubType = "Dividend"
	SecuritySubTypeFee      SecurityPostingSubType = "Fee"
	SecuritySubTypeTax      SecurityPostingSubType = "Tax"
)

// Posting is an immutable ledger leg. Legs produced from the same source entry share a GroupID.
type Posting struct {
	ID            string
	OwnerID       string
	Kind          PostingKind
	AccountID     string
	ContactID     string
	SavingsPlanID string
	SecurityID    string
	SourceEntryID string

	BookingDate time.Time
	ValutaDate  *time.Time
	Amount      decimal.Decimal

	Subject       string
	RecipientName string
	Description   string

	GroupID         string
	SecuritySubType SecurityPostingSubType
	Quantity        decimal.NullDecimal

	CreatedAt time.Time
}

// AttachmentEntityKind names the entity an attachment hangs off.
type AttachmentEntityKind string

const (
	AttachmentEntityDraft   AttachmentEntityKind = "StatementDraft"
	AttachmentEntityEntry   AttachmentEntityKind = "StatementDraftEntry"
	AttachmentEntityPosting AttachmentEntityKind = "Posting"
)

// Attachment is file metadata linked to an entity. A reference attachment points at a
// master attachment instead of owning its own blob.
type Attachment struct {
	ID                    string
	OwnerID               string
	EntityKind            AttachmentEntityKind
	EntityID              string
	FileName              string
	ContentType           string
	ObjectURI             string
	ReferenceAttachmentID string
	CreatedAt             time.Time
}
