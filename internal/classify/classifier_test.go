package classify

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-booking/internal/domain"
)

func testReference() domain.ReferenceData {
	return domain.ReferenceData{
		Account: &domain.Account{ID: "acc-1", OwnerID: "owner-1", Type: domain.AccountTypeGiro, BankContactID: "bank-own"},
		Contacts: []domain.Contact{
			{ID: "self", Name: "Jordan Example", Type: domain.ContactTypeSelf},
			{ID: "bank-own", Name: "Hausbank", Type: domain.ContactTypeBank},
			{ID: "bank-other", Name: "Other Bank", Type: domain.ContactTypeBank},
			{ID: "grocer", Name: "Müller Markt", Type: domain.ContactTypeOrganization},
			{ID: "landlord", Name: "Anna Schmidt", Type: domain.ContactTypePerson, AliasPatterns: []string{"a. schmidt*"}},
			{ID: "streaming", Name: "Flixstream", Type: domain.ContactTypeOrganization, AliasPatterns: []string{"flixstream*"}},
			{ID: "paypal", Name: "PayPal", Type: domain.ContactTypeOrganization, IsPaymentIntermediary: true},
		},
		SavingsPlans: []domain.SavingsPlan{
			{ID: "plan-holiday", Name: "Holiday Fund", IsActive: true},
			{ID: "plan-car", Name: "Car", ContractNumber: "SP-12/34", IsActive: true},
			{ID: "plan-old", Name: "Old Plan", IsActive: false},
		},
		Securities: []domain.Security{
			{ID: "sec-msci", Name: "MSCI World ETF", Identifier: "IE00B4L5Y983", ExternalCode: "EUNL", IsActive: true},
			{ID: "sec-apple", Name: "Apple", Identifier: "US0378331005", ExternalCode: "AAPL", IsActive: true},
		},
	}
}

func newEntry(recipient, subject string, amount string) *domain.StatementDraftEntry {
	return &domain.StatementDraftEntry{
		ID:            recipient + "|" + subject,
		BookingDate:   time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC),
		Amount:        decimal.RequireFromString(amount),
		RecipientName: recipient,
		Subject:       subject,
		Status:        domain.EntryStatusOpen,
	}
}

func classifyOne(t *testing.T, e *domain.StatementDraftEntry) *domain.StatementDraftEntry {
	t.Helper()
	d := &domain.StatementDraft{ID: "d1", DetectedAccountID: "acc-1", Entries: []*domain.StatementDraftEntry{e}}
	_, err := NewClassifier(zerolog.Nop()).Classify(d, testReference())
	require.NoError(t, err)
	return e
}

func TestClassify_ContactResolution(t *testing.T) {
	tests := []struct {
		name       string
		recipient  string
		subject    string
		wantID     string
		wantStatus domain.EntryStatus
	}{
		{name: "exact name with umlaut folding", recipient: "MUELLER  MARKT", wantID: "grocer", wantStatus: domain.EntryStatusAccounted},
		{name: "name containment", recipient: "Lastschrift Müller Markt Filiale 12", wantID: "grocer", wantStatus: domain.EntryStatusAccounted},
		{name: "alias pattern", recipient: "A. Schmidt Miete", wantID: "landlord", wantStatus: domain.EntryStatusAccounted},
		{name: "alias pattern after whitespace strip", recipient: "Flix Stream GmbH", wantID: "streaming", wantStatus: domain.EntryStatusAccounted},
		{name: "empty recipient falls back to bank", recipient: "  ", subject: "Kontofuehrung", wantID: "bank-own", wantStatus: domain.EntryStatusAccounted},
		{name: "no match stays open", recipient: "Unknown Shop", wantID: "", wantStatus: domain.EntryStatusOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := classifyOne(t, newEntry(tt.recipient, tt.subject, "-10"))
			assert.Equal(t, tt.wantID, e.ContactID)
			assert.Equal(t, tt.wantStatus, e.Status)
		})
	}
}

func TestClassify_PaymentIntermediary(t *testing.T) {
	withMerchant := classifyOne(t, newEntry("PayPal Europe", "Flixstream GmbH order 42", "-9.99"))
	assert.Equal(t, "streaming", withMerchant.ContactID)
	assert.Equal(t, domain.EntryStatusOpen, withMerchant.Status)

	unknown := classifyOne(t, newEntry("PayPal Europe", "order 43", "-5"))
	assert.Equal(t, "paypal", unknown.ContactID)
	assert.Equal(t, domain.EntryStatusOpen, unknown.Status)
}

func TestClassify_ForeignBankIsCostNeutralSelf(t *testing.T) {
	e := classifyOne(t, newEntry("Other Bank", "Transfer", "-100"))
	assert.Equal(t, "self", e.ContactID)
	assert.True(t, e.IsCostNeutral)
	assert.Equal(t, domain.EntryStatusAccounted, e.Status)
}

func TestClassify_SavingsPlans(t *testing.T) {
	byName := classifyOne(t, newEntry("Jordan Example", "Sparen HOLIDAY fund April", "-50"))
	assert.Equal(t, "plan-holiday", byName.SavingsPlanID)
	assert.Equal(t, domain.EntryStatusAccounted, byName.Status)

	byContract := classifyOne(t, newEntry("Jordan Example", "Rate Vertrag SP 1234", "-50"))
	assert.Equal(t, "plan-car", byContract.SavingsPlanID)

	ambiguous := classifyOne(t, newEntry("Jordan Example", "Holiday Fund and Car", "-50"))
	assert.Equal(t, "plan-car", ambiguous.SavingsPlanID)
	assert.Equal(t, domain.EntryStatusNeedsCheck, ambiguous.Status)

	inactive := classifyOne(t, newEntry("Jordan Example", "old plan", "-50"))
	assert.Empty(t, inactive.SavingsPlanID)

	notSelf := classifyOne(t, newEntry("Anna Schmidt", "Holiday Fund", "-50"))
	assert.Empty(t, notSelf.SavingsPlanID)
}

func TestClassify_Securities(t *testing.T) {
	buy := newEntry("Hausbank", "Kauf IE00B4L5Y983", "-1000")
	buy.SecurityQuantity = decimal.NewNullDecimal(decimal.NewFromInt(10))
	classifyOne(t, buy)
	assert.Equal(t, "sec-msci", buy.SecurityID)
	assert.Equal(t, domain.SecurityTransactionBuy, buy.SecurityTransactionType)
	assert.Equal(t, domain.EntryStatusAccounted, buy.Status)

	dividend := newEntry("Hausbank", "Dividende Apple Inc", "12.30")
	classifyOne(t, dividend)
	assert.Equal(t, "sec-apple", dividend.SecurityID)
	assert.Equal(t, domain.SecurityTransactionDividend, dividend.SecurityTransactionType)

	ambiguous := newEntry("Hausbank", "AAPL EUNL switch", "-1")
	classifyOne(t, ambiguous)
	assert.Equal(t, "sec-apple", ambiguous.SecurityID)
	assert.Equal(t, domain.EntryStatusOpen, ambiguous.Status)

	otherContact := classifyOne(t, newEntry("Anna Schmidt", "AAPL", "-1"))
	assert.Empty(t, otherContact.SecurityID)
}

func TestClassify_Idempotent(t *testing.T) {
	entries := []*domain.StatementDraftEntry{
		newEntry("Müller Markt", "Einkauf", "-23.10"),
		newEntry("Jordan Example", "Holiday Fund and Car", "-50"),
		newEntry("PayPal", "Flixstream", "-9.99"),
		newEntry("Nobody", "", "-1"),
	}
	d := &domain.StatementDraft{ID: "d1", DetectedAccountID: "acc-1", Entries: entries}
	c := NewClassifier(zerolog.Nop())

	_, err := c.Classify(d, testReference())
	require.NoError(t, err)
	snapshot := make([]domain.StatementDraftEntry, len(entries))
	for i, e := range entries {
		snapshot[i] = *e
	}

	_, err = c.Classify(d, testReference())
	require.NoError(t, err)
	for i, e := range entries {
		assert.Equal(t, snapshot[i], *e)
	}
}

func TestClassify_SkipsTerminalAndAnnounced(t *testing.T) {
	booked := newEntry("Müller Markt", "", "-1")
	booked.Status = domain.EntryStatusAlreadyBooked
	announced := newEntry("Müller Markt", "", "-1")
	announced.Status = domain.EntryStatusAnnounced
	d := &domain.StatementDraft{ID: "d1", Entries: []*domain.StatementDraftEntry{booked, announced}}

	stats, err := NewClassifier(zerolog.Nop()).Classify(d, testReference())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Skipped)
	assert.Empty(t, booked.ContactID)
	assert.Empty(t, announced.ContactID)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "muellerstrasse 5", Normalize("  Müllerstraße   5 ", false))
	assert.Equal(t, "cafecreme", Normalize("Café Crème", true))
	assert.Equal(t, "SP1234", securityKey("sp-12/34"))
}

func TestCompileWildcard(t *testing.T) {
	re, err := compileWildcard("Amazon*Mktp?DE")
	require.NoError(t, err)
	assert.True(t, re.MatchString("amazon eu mktp.de"))
	assert.False(t, re.MatchString("x amazon mktp.de"))
	assert.False(t, re.MatchString("amazon mktp.dex"))
}
