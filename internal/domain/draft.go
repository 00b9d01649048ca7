package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DraftStatus is the lifecycle state of a statement draft.
type DraftStatus string

const (
	DraftStatusDraft     DraftStatus = "Draft"
	DraftStatusCommitted DraftStatus = "Committed"
)

// EntryStatus is the state of a single draft entry.
//
//	Open -> {AlreadyBooked, Announced, Accounted, NeedsCheck}
//
// AlreadyBooked is terminal. Booked entries are removed from their draft.
type EntryStatus string

const (
	EntryStatusOpen          EntryStatus = "Open"
	EntryStatusAlreadyBooked EntryStatus = "AlreadyBooked"
	EntryStatusAnnounced     EntryStatus = "Announced"
	EntryStatusAccounted     EntryStatus = "Accounted"
	EntryStatusNeedsCheck    EntryStatus = "NeedsCheck"
)

var entryTransitions = map[EntryStatus]map[EntryStatus]bool{
	EntryStatusOpen: {
		EntryStatusOpen: true, EntryStatusAlreadyBooked: true, EntryStatusAnnounced: true,
		EntryStatusAccounted: true, EntryStatusNeedsCheck: true,
	},
	EntryStatusAnnounced: {
		EntryStatusOpen: true, EntryStatusAnnounced: true, EntryStatusAlreadyBooked: true,
		EntryStatusAccounted: true, EntryStatusNeedsCheck: true,
	},
	EntryStatusAccounted: {
		EntryStatusOpen: true, EntryStatusAccounted: true, EntryStatusAlreadyBooked: true,
		EntryStatusNeedsCheck: true,
	},
	EntryStatusNeedsCheck: {
		EntryStatusOpen: true, EntryStatusNeedsCheck: true, EntryStatusAlreadyBooked: true,
		EntryStatusAccounted: true,
	},
	EntryStatusAlreadyBooked: {},
}

// SecurityTransactionType describes what a security-linked entry does.
type SecurityTransactionType string

const (
	SecurityTransactionBuy      SecurityTransactionType = "Buy"
	SecurityTransactionSell     SecurityTransactionType = "Sell"
	SecurityTransactionDividend SecurityTransactionType = "Dividend"
)

// ParseSecurityTransactionType accepts the three known types, case-sensitive.
func ParseSecurityTransactionType(s string) (SecurityTransactionType, error) {
	switch t := SecurityTransactionType(s); t {
	case SecurityTransactionBuy, SecurityTransactionSell, SecurityTransactionDividend:
		return t, nil
	}
	return "", fmt.Errorf("security transaction type %q: %w", s, ErrInvalidArgument)
}

// StatementDraft is an editable batch of statement entries awaiting classification and booking.
type StatementDraft struct {
	ID                string
	OwnerID           string
	OriginalFileName  string
	Description       string
	DetectedAccountID string // empty when no account was detected
	UploadGroupID     string
	Status            DraftStatus
	Entries           []*StatementDraftEntry

	// ImportedEntryCount is the number of movements the draft was created with.
	ImportedEntryCount int

	// Version is incremented on every successful save.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewStatementDraft creates an empty open draft.
func NewStatementDraft(ownerID, fileName, description, uploadGroupID string, importedEntryCount int, now time.Time) *StatementDraft {
	return &StatementDraft{
		ID:                 uuid.NewString(),
		OwnerID:            ownerID,
		OriginalFileName:   fileName,
		Description:        description,
		UploadGroupID:      uploadGroupID,
		Status:             DraftStatusDraft,
		ImportedEntryCount: importedEntryCount,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// AddMovement appends a new entry built from a parsed movement.
func (d *StatementDraft) AddMovement(m StatementMovement) *StatementDraftEntry {
	e := &StatementDraftEntry{
		ID:                 uuid.NewString(),
		DraftID:            d.ID,
		BookingDate:        m.BookingDate,
		Amount:             m.Amount,
		CurrencyCode:       m.CurrencyCode,
		Subject:            m.Subject,
		RecipientName:      m.Counterparty,
		BookingDescription: m.PostingDescription,
		Status:             EntryStatusOpen,
		SecurityQuantity:   m.Quantity,
		SecurityFeeAmount:  m.Fee,
		SecurityTaxAmount:  m.Tax,
	}
	if !m.ValutaDate.IsZero() {
		v := m.ValutaDate
		e.ValutaDate = &v
	}
	if m.IsPreview {
		e.IsAnnounced = true
		e.Status = EntryStatusAnnounced
	}
	d.Entries = append(d.Entries, e)
	return e
}

// HasDetectedAccount reports whether the draft is linked to a bank account.
func (d *StatementDraft) HasDetectedAccount() bool {
	return d.DetectedAccountID != ""
}

// IsCommitted reports whether the draft has been fully booked.
func (d *StatementDraft) IsCommitted() bool {
	return d.Status == DraftStatusCommitted
}

// FindEntry returns the entry with the given id or nil.
func (d *StatementDraft) FindEntry(entryID string) *StatementDraftEntry {
	for _, e := range d.Entries {
		if e.ID == entryID {
			return e
		}
	}
	return nil
}

// RemoveEntry drops the entry with the given id and reports whether it existed.
func (d *StatementDraft) RemoveEntry(entryID string) bool {
	for i, e := range d.Entries {
		if e.ID == entryID {
			d.Entries = append(d.Entries[:i], d.Entries[i+1:]...)
			return true
		}
	}
	return false
}

// Commit closes the draft. Remaining entries are discarded.
func (d *StatementDraft) Commit(now time.Time) {
	d.Entries = nil
	d.Status = DraftStatusCommitted
	d.UpdatedAt = now
}

// TotalAmount sums all entry amounts.
func (d *StatementDraft) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, e := range d.Entries {
		total = total.Add(e.Amount)
	}
	return total
}

// StatementDraftEntry is one statement line within a draft.
type StatementDraftEntry struct {
	ID                 string
	DraftID            string
	BookingDate        time.Time
	ValutaDate         *time.Time
	Amount             decimal.Decimal
	CurrencyCode       string
	Subject            string
	RecipientName      string
	BookingDescription string

	IsAnnounced                 bool
	IsCostNeutral               bool
	ArchiveSavingsPlanOnBooking bool

	Status EntryStatus

	ContactID     string
	SavingsPlanID string

	// SplitDraftID points to a child draft breaking down a payment-intermediary transaction.
	SplitDraftID string

	SecurityID              string
	SecurityTransactionType SecurityTransactionType
	SecurityQuantity        decimal.NullDecimal
	SecurityFeeAmount       decimal.NullDecimal
	SecurityTaxAmount       decimal.NullDecimal
}

func (e *StatementDraftEntry) transition(to EntryStatus) error {
	if !entryTransitions[e.Status][to] {
		return fmt.Errorf("entry %s: %s -> %s: %w", e.ID, e.Status, to, ErrInvalidTransition)
	}
	e.Status = to
	return nil
}

// MarkAccounted assigns the contact and marks the entry ready for booking.
func (e *StatementDraftEntry) MarkAccounted(contactID string) error {
	if err := e.transition(EntryStatusAccounted); err != nil {
		return err
	}
	e.ContactID = contactID
	return nil
}

// AssignContactWithoutAccounting assigns the contact but keeps the entry open,
// e.g. while a payment-intermediary entry waits for its split draft.
func (e *StatementDraftEntry) AssignContactWithoutAccounting(contactID string) error {
	if err := e.transition(EntryStatusOpen); err != nil {
		return err
	}
	e.ContactID = contactID
	return nil
}

// MarkNeedsCheck flags the entry for manual review.
func (e *StatementDraftEntry) MarkNeedsCheck() error {
	return e.transition(EntryStatusNeedsCheck)
}

// MarkAlreadyBooked flags the entry as a duplicate of an existing posting.
func (e *StatementDraftEntry) MarkAlreadyBooked() error {
	return e.transition(EntryStatusAlreadyBooked)
}

// ResetOpen moves the entry back to Open without touching its assignments.
func (e *StatementDraftEntry) ResetOpen() error {
	return e.transition(EntryStatusOpen)
}

// IsBookable reports whether the booking engine processes the entry.
func (e *StatementDraftEntry) IsBookable() bool {
	return e.Status != EntryStatusAlreadyBooked && e.Status != EntryStatusAnnounced
}

// HasSecurity reports whether a security is attached to the entry.
func (e *StatementDraftEntry) HasSecurity() bool {
	return e.SecurityID != ""
}

// Clone returns a deep copy of the draft and its entries.
func (d *StatementDraft) Clone() *StatementDraft {
	cp := *d
	cp.Entries = make([]*StatementDraftEntry, len(d.Entries))
	for i, e := range d.Entries {
		ec := *e
		if e.ValutaDate != nil {
			v := *e.ValutaDate
			ec.ValutaDate = &v
		}
		cp.Entries[i] = &ec
	}
	return &cp
}
