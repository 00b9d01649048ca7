package bigquery

import (
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-booking/internal/domain"
)

// NUMERIC columns carry nine fractional digits.
const numericScale = 9

// DraftRow is a statement_drafts row.
type DraftRow struct {
	DraftID            string    `bigquery:"draft_id"` // REQUIRED
	OwnerID            string    `bigquery:"owner_id"` // REQUIRED
	OriginalFileName   string    `bigquery:"original_file_name"`
	Description        string    `bigquery:"description"`
	DetectedAccountID  string    `bigquery:"detected_account_id"` // "" when no account was detected
	UploadGroupID      string    `bigquery:"upload_group_id"`
	Status             string    `bigquery:"status"`
	ImportedEntryCount int64     `bigquery:"imported_entry_count"`
	Version            int64     `bigquery:"version"`
	CreatedTS          time.Time `bigquery:"created_ts"`
	UpdatedTS          time.Time `bigquery:"updated_ts"`
}

// EntryRow is a statement_draft_entries row.
type EntryRow struct {
	EntryID  string `bigquery:"entry_id"` // REQUIRED
	DraftID  string `bigquery:"draft_id"` // REQUIRED
	OwnerID  string `bigquery:"owner_id"` // REQUIRED
	Position int64  `bigquery:"position"`

	BookingDate civil.Date        `bigquery:"booking_date"`
	ValutaDate  bigquery.NullDate `bigquery:"valuta_date"` // DATE, NULLABLE
	Amount      *big.Rat          `bigquery:"amount"`      // NUMERIC
	Currency    string            `bigquery:"currency"`

	Subject            string `bigquery:"subject"`
	RecipientName      string `bigquery:"recipient_name"`
	BookingDescription string `bigquery:"booking_description"`

	IsAnnounced                 bool `bigquery:"is_announced"`
	IsCostNeutral               bool `bigquery:"is_cost_neutral"`
	ArchiveSavingsPlanOnBooking bool `bigquery:"archive_savings_plan_on_booking"`

	Status        string `bigquery:"status"`
	ContactID     string `bigquery:"contact_id"`
	SavingsPlanID string `bigquery:"savings_plan_id"`
	SplitDraftID  string `bigquery:"split_draft_id"`

	SecurityID              string   `bigquery:"security_id"`
	SecurityTransactionType string   `bigquery:"security_transaction_type"`
	SecurityQuantity        *big.Rat `bigquery:"security_quantity"` // NUMERIC, NULLABLE
	SecurityFee             *big.Rat `bigquery:"security_fee"`      // NUMERIC, NULLABLE
	SecurityTax             *big.Rat `bigquery:"security_tax"`      // NUMERIC, NULLABLE
}

// ContactRow is a contacts row.
type ContactRow struct {
	ContactID             string    `bigquery:"contact_id"`
	OwnerID               string    `bigquery:"owner_id"`
	Name                  string    `bigquery:"name"`
	ContactType           string    `bigquery:"contact_type"`
	IsPaymentIntermediary bool      `bigquery:"is_payment_intermediary"`
	AliasPatterns         []string  `bigquery:"alias_patterns"` // REPEATED STRING
	UpdatedTS             time.Time `bigquery:"updated_ts"`
}

// AccountRow is an accounts row.
type AccountRow struct {
	AccountID     string `bigquery:"account_id"`
	OwnerID       string `bigquery:"owner_id"`
	Name          string `bigquery:"name"`
	IBAN          string `bigquery:"iban"`
	AccountNumber string `bigquery:"account_number"`
	AccountType   string `bigquery:"account_type"`
	BankContactID string `bigquery:"bank_contact_id"`
}

// SavingsPlanRow is a savings_plans row.
type SavingsPlanRow struct {
	SavingsPlanID  string                 `bigquery:"savings_plan_id"`
	OwnerID        string                 `bigquery:"owner_id"`
	Name           string                 `bigquery:"name"`
	ContractNumber string                 `bigquery:"contract_number"`
	IsActive       bool                   `bigquery:"is_active"`
	PlanType       string                 `bigquery:"plan_type"`
	TargetAmount   *big.Rat               `bigquery:"target_amount"` // NUMERIC, NULLABLE
	TargetDate     bigquery.NullDate      `bigquery:"target_date"`
	Interval       string                 `bigquery:"installment_interval"`
	ArchivedTS     bigquery.NullTimestamp `bigquery:"archived_ts"`
}

// SecurityRow is a securities row.
type SecurityRow struct {
	SecurityID   string `bigquery:"security_id"`
	OwnerID      string `bigquery:"owner_id"`
	Name         string `bigquery:"name"`
	Identifier   string `bigquery:"identifier"`
	ExternalCode string `bigquery:"external_code"`
	Currency     string `bigquery:"currency"`
	IsActive     bool   `bigquery:"is_active"`
}

// PostingRow is a postings row.
type PostingRow struct {
	PostingID       string            `bigquery:"posting_id"`
	OwnerID         string            `bigquery:"owner_id"`
	Kind            string            `bigquery:"kind"`
	AccountID       string            `bigquery:"account_id"`
	ContactID       string            `bigquery:"contact_id"`
	SavingsPlanID   string            `bigquery:"savings_plan_id"`
	SecurityID      string            `bigquery:"security_id"`
	SourceEntryID   string            `bigquery:"source_entry_id"`
	BookingDate     civil.Date        `bigquery:"booking_date"`
	ValutaDate      bigquery.NullDate `bigquery:"valuta_date"`
	Amount          *big.Rat          `bigquery:"amount"`
	Subject         string            `bigquery:"subject"`
	RecipientName   string            `bigquery:"recipient_name"`
	Description     string            `bigquery:"description"`
	GroupID         string            `bigquery:"group_id"`
	SecuritySubType string            `bigquery:"security_sub_type"`
	Quantity        *big.Rat          `bigquery:"quantity"` // NUMERIC, NULLABLE
	CreatedTS       time.Time         `bigquery:"created_ts"`
}

// AttachmentRow is an attachments row.
type AttachmentRow struct {
	AttachmentID          string    `bigquery:"attachment_id"`
	OwnerID               string    `bigquery:"owner_id"`
	EntityKind            string    `bigquery:"entity_kind"`
	EntityID              string    `bigquery:"entity_id"`
	FileName              string    `bigquery:"file_name"`
	ContentType           string    `bigquery:"content_type"`
	ObjectURI             string    `bigquery:"object_uri"`
	ReferenceAttachmentID string    `bigquery:"reference_attachment_id"`
	CreatedTS             time.Time `bigquery:"created_ts"`
}

// AggregateRow is a posting_aggregates row.
type AggregateRow struct {
	OwnerID      string   `bigquery:"owner_id"`
	Kind         string   `bigquery:"kind"`
	EntityID     string   `bigquery:"entity_id"`
	Period       string   `bigquery:"period"`
	Amount       *big.Rat `bigquery:"amount"`
	PostingCount int64    `bigquery:"posting_count"`
}

func ratToDecimal(r *big.Rat) (decimal.Decimal, error) {
	if r == nil {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(r.FloatString(numericScale))
	if err != nil {
		return decimal.Zero, fmt.Errorf("ratToDecimal: %w", err)
	}
	return d, nil
}

func ratToNullDecimal(r *big.Rat) (decimal.NullDecimal, error) {
	if r == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := ratToDecimal(r)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func dateOf(d civil.Date) time.Time {
	return d.In(time.UTC)
}

func nullDateOf(d bigquery.NullDate) *time.Time {
	if !d.Valid {
		return nil
	}
	t := d.Date.In(time.UTC)
	return &t
}

func toNullDate(t *time.Time) bigquery.NullDate {
	if t == nil {
		return bigquery.NullDate{}
	}
	return bigquery.NullDate{Date: civil.DateOf(*t), Valid: true}
}

// nullNumeric renders an optional decimal as a query parameter that is cast to NUMERIC in SQL.
func nullNumeric(d decimal.NullDecimal) bigquery.NullString {
	if !d.Valid {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: d.Decimal.String(), Valid: true}
}

func (row *DraftRow) toDomain(entries []*domain.StatementDraftEntry) *domain.StatementDraft {
	return &domain.StatementDraft{
		ID:                 row.DraftID,
		OwnerID:            row.OwnerID,
		OriginalFileName:   row.OriginalFileName,
		Description:        row.Description,
		DetectedAccountID:  row.DetectedAccountID,
		UploadGroupID:      row.UploadGroupID,
		Status:             domain.DraftStatus(row.Status),
		Entries:            entries,
		ImportedEntryCount: int(row.ImportedEntryCount),
		Version:            row.Version,
		CreatedAt:          row.CreatedTS,
		UpdatedAt:          row.UpdatedTS,
	}
}

func (row *EntryRow) toDomain() (*domain.StatementDraftEntry, error) {
	amount, err := ratToDecimal(row.Amount)
	if err != nil {
		return nil, err
	}
	e := &domain.StatementDraftEntry{
		ID:                          row.EntryID,
		DraftID:                     row.DraftID,
		BookingDate:                 dateOf(row.BookingDate),
		ValutaDate:                  nullDateOf(row.ValutaDate),
		Amount:                      amount,
		CurrencyCode:                row.Currency,
		Subject:                     row.Subject,
		RecipientName:               row.RecipientName,
		BookingDescription:          row.BookingDescription,
		IsAnnounced:                 row.IsAnnounced,
		IsCostNeutral:               row.IsCostNeutral,
		ArchiveSavingsPlanOnBooking: row.ArchiveSavingsPlanOnBooking,
		Status:                      domain.EntryStatus(row.Status),
		ContactID:                   row.ContactID,
		SavingsPlanID:               row.SavingsPlanID,
		SplitDraftID:                row.SplitDraftID,
		SecurityID:                  row.SecurityID,
		SecurityTransactionType:     domain.SecurityTransactionType(row.SecurityTransactionType),
	}
	if e.SecurityQuantity, err = ratToNullDecimal(row.SecurityQuantity); err != nil {
		return nil, err
	}
	if e.SecurityFeeAmount, err = ratToNullDecimal(row.SecurityFee); err != nil {
		return nil, err
	}
	if e.SecurityTaxAmount, err = ratToNullDecimal(row.SecurityTax); err != nil {
		return nil, err
	}
	return e, nil
}

func (row *ContactRow) toDomain() domain.Contact {
	return domain.Contact{
		ID:                    row.ContactID,
		OwnerID:               row.OwnerID,
		Name:                  row.Name,
		Type:                  domain.ContactType(row.ContactType),
		IsPaymentIntermediary: row.IsPaymentIntermediary,
		AliasPatterns:         append([]string(nil), row.AliasPatterns...),
	}
}

func (row *AccountRow) toDomain() domain.Account {
	return domain.Account{
		ID:            row.AccountID,
		OwnerID:       row.OwnerID,
		Name:          row.Name,
		IBAN:          row.IBAN,
		AccountNumber: row.AccountNumber,
		Type:          domain.AccountType(row.AccountType),
		BankContactID: row.BankContactID,
	}
}

func (row *SavingsPlanRow) toDomain() (domain.SavingsPlan, error) {
	target, err := ratToNullDecimal(row.TargetAmount)
	if err != nil {
		return domain.SavingsPlan{}, err
	}
	p := domain.SavingsPlan{
		ID:             row.SavingsPlanID,
		OwnerID:        row.OwnerID,
		Name:           row.Name,
		ContractNumber: row.ContractNumber,
		IsActive:       row.IsActive,
		Type:           domain.SavingsPlanType(row.PlanType),
		TargetAmount:   target,
		TargetDate:     nullDateOf(row.TargetDate),
		Interval:       domain.SavingsPlanInterval(row.Interval),
	}
	if row.ArchivedTS.Valid {
		archived := row.ArchivedTS.Timestamp
		p.ArchivedAt = &archived
	}
	return p, nil
}

func (row *SecurityRow) toDomain() domain.Security {
	return domain.Security{
		ID:           row.SecurityID,
		OwnerID:      row.OwnerID,
		Name:         row.Name,
		Identifier:   row.Identifier,
		ExternalCode: row.ExternalCode,
		CurrencyCode: row.Currency,
		IsActive:     row.IsActive,
	}
}

func (row *PostingRow) toDomain() (domain.Posting, error) {
	amount, err := ratToDecimal(row.Amount)
	if err != nil {
		return domain.Posting{}, err
	}
	quantity, err := ratToNullDecimal(row.Quantity)
	if err != nil {
		return domain.Posting{}, err
	}
	return domain.Posting{
		ID:              row.PostingID,
		OwnerID:         row.OwnerID,
		Kind:            domain.PostingKind(row.Kind),
		AccountID:       row.AccountID,
		ContactID:       row.ContactID,
		SavingsPlanID:   row.SavingsPlanID,
		SecurityID:      row.SecurityID,
		SourceEntryID:   row.SourceEntryID,
		BookingDate:     dateOf(row.BookingDate),
		ValutaDate:      nullDateOf(row.ValutaDate),
		Amount:          amount,
		Subject:         row.Subject,
		RecipientName:   row.RecipientName,
		Description:     row.Description,
		GroupID:         row.GroupID,
		SecuritySubType: domain.SecurityPostingSubType(row.SecuritySubType),
		Quantity:        quantity,
		CreatedAt:       row.CreatedTS,
	}, nil
}

func (row *AttachmentRow) toDomain() domain.Attachment {
	return domain.Attachment{
		ID:                    row.AttachmentID,
		OwnerID:               row.OwnerID,
		EntityKind:            domain.AttachmentEntityKind(row.EntityKind),
		EntityID:              row.EntityID,
		FileName:              row.FileName,
		ContentType:           row.ContentType,
		ObjectURI:             row.ObjectURI,
		ReferenceAttachmentID: row.ReferenceAttachmentID,
		CreatedAt:             row.CreatedTS,
	}
}
