package classify

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-booking/internal/domain"
)

func TestMarkDuplicates(t *testing.T) {
	day := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)
	existing := []domain.Posting{
		{Kind: domain.PostingKindBank, AccountID: "acc-1", BookingDate: day, Amount: decimal.RequireFromString("-12.50"), Subject: "Rent April"},
		{Kind: domain.PostingKindContact, AccountID: "acc-1", BookingDate: day, Amount: decimal.RequireFromString("-7"), Subject: "Contact leg"},
		{Kind: domain.PostingKindBank, AccountID: "acc-2", BookingDate: day, Amount: decimal.RequireFromString("-3"), Subject: "Other account"},
	}

	entry := func(subject, amount string, status domain.EntryStatus) *domain.StatementDraftEntry {
		return &domain.StatementDraftEntry{
			ID: subject, BookingDate: day, Amount: decimal.RequireFromString(amount), Subject: subject, Status: status,
		}
	}
	dup := entry("RENT APRIL", "-12.5", domain.EntryStatusAccounted)
	differentAmount := entry("Rent April", "-12.51", domain.EntryStatusOpen)
	contactLeg := entry("Contact leg", "-7", domain.EntryStatusOpen)
	otherAccount := entry("Other account", "-3", domain.EntryStatusOpen)
	announced := entry("rent april", "-12.50", domain.EntryStatusAnnounced)

	d := &domain.StatementDraft{
		ID:                "d1",
		DetectedAccountID: "acc-1",
		Entries:           []*domain.StatementDraftEntry{dup, differentAmount, contactLeg, otherAccount, announced},
	}

	n, err := MarkDuplicates(d, existing)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, domain.EntryStatusAlreadyBooked, dup.Status)
	assert.Equal(t, domain.EntryStatusAlreadyBooked, announced.Status)
	assert.Equal(t, domain.EntryStatusOpen, differentAmount.Status)
	assert.Equal(t, domain.EntryStatusOpen, contactLeg.Status)
	assert.Equal(t, domain.EntryStatusOpen, otherAccount.Status)

	// A second pass finds nothing new.
	n, err = MarkDuplicates(d, existing)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMarkDuplicates_NoAccount(t *testing.T) {
	d := &domain.StatementDraft{ID: "d1", Entries: []*domain.StatementDraftEntry{{ID: "e1"}}}
	n, err := MarkDuplicates(d, []domain.Posting{{Kind: domain.PostingKindBank}})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDuplicateWindowStart(t *testing.T) {
	now := time.Date(2024, 7, 1, 15, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), DuplicateWindowStart(now))
}
