package drafts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-booking/internal/domain"
	"github.com/dvloznov/statement-booking/internal/infra/inmemory"
	"github.com/dvloznov/statement-booking/internal/lock"
	"github.com/dvloznov/statement-booking/internal/statement"
)

const owner = "owner-1"

var clock = time.Date(2024, 4, 20, 9, 30, 0, 0, time.UTC)

const aprilExport = "IBAN;DE89 3704 0044 0532 0130 00\n" +
	"Buchungstag;Empfänger;Verwendungszweck;Betrag;Währung\n" +
	"02.04.2024;Shop GmbH;Order 1;-19,99;EUR\n" +
	"05.04.2024;Employer Inc;Salary April;2500,00;EUR\n" +
	"08.04.2024;PayPal Europe;Concert tickets;-80,00;EUR\n"

type fixture struct {
	repo *inmemory.Repository
	svc  *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := inmemory.NewRepository()

	require.NoError(t, repo.SaveAccount(ctx, &domain.Account{
		ID: "acc-1", OwnerID: owner, Name: "Giro", IBAN: "DE89370400440532013000",
		Type: domain.AccountTypeGiro, BankContactID: "bank",
	}))
	for _, c := range []domain.Contact{
		{ID: "self", OwnerID: owner, Name: "Jordan Example", Type: domain.ContactTypeSelf},
		{ID: "bank", OwnerID: owner, Name: "Hausbank", Type: domain.ContactTypeBank},
		{ID: "shop", OwnerID: owner, Name: "Shop GmbH", Type: domain.ContactTypeOrganization},
		{ID: "employer", OwnerID: owner, Name: "Acme Payroll", Type: domain.ContactTypeOrganization},
		{ID: "paypal", OwnerID: owner, Name: "PayPal", Type: domain.ContactTypeOrganization, IsPaymentIntermediary: true},
	} {
		c := c
		require.NoError(t, repo.SaveContact(ctx, &c))
	}

	svc := NewService(Dependencies{
		Repo:     repo,
		Locker:   lock.NewLocal(),
		Parser:   statement.NewRegistry(zerolog.Nop(), statement.NewCSVReader()),
		Settings: domain.SplitSettings{Mode: domain.SplitModeMonthlyOrFixed, MaxEntriesPerDraft: 250, MonthlySplitThreshold: 250, MinEntriesPerDraft: 8},
		Now:      func() time.Time { return clock },
	}, zerolog.Nop())
	return &fixture{repo: repo, svc: svc}
}

func (f *fixture) importApril(t *testing.T) *domain.StatementDraft {
	t.Helper()
	res, err := f.svc.Import(context.Background(), ImportRequest{OwnerID: owner, FileName: "april.csv", Data: []byte(aprilExport)})
	require.NoError(t, err)
	require.Len(t, res.Drafts, 1)
	return res.Drafts[0]
}

func entryBySubject(t *testing.T, d *domain.StatementDraft, subject string) *domain.StatementDraftEntry {
	t.Helper()
	for _, e := range d.Entries {
		if e.Subject == subject {
			return e
		}
	}
	t.Fatalf("no entry with subject %q", subject)
	return nil
}

func TestService_Import(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Import(ctx, ImportRequest{OwnerID: owner, FileName: "april.csv", Data: []byte(aprilExport)})
	require.NoError(t, err)
	assert.Equal(t, "acc-1", res.AccountID)
	assert.Equal(t, 3, res.SplitInfo.TotalMovements)
	require.Len(t, res.Drafts, 1)

	d, err := f.svc.Get(ctx, owner, res.Drafts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", d.DetectedAccountID)
	assert.Equal(t, res.UploadGroupID, d.UploadGroupID)
	assert.Equal(t, 3, d.ImportedEntryCount)

	shop := entryBySubject(t, d, "Order 1")
	assert.Equal(t, domain.EntryStatusAccounted, shop.Status)
	assert.Equal(t, "shop", shop.ContactID)

	salary := entryBySubject(t, d, "Salary April")
	assert.Equal(t, domain.EntryStatusOpen, salary.Status)
	assert.Empty(t, salary.ContactID)

	tickets := entryBySubject(t, d, "Concert tickets")
	assert.Equal(t, domain.EntryStatusOpen, tickets.Status)
	assert.Equal(t, "paypal", tickets.ContactID)

	open, err := f.svc.ListOpen(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestService_ImportMarksDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.CreatePostings(ctx, []domain.Posting{{
		ID:          "old",
		OwnerID:     owner,
		Kind:        domain.PostingKindBank,
		AccountID:   "acc-1",
		BookingDate: time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC),
		Amount:      decimal.RequireFromString("-19.99"),
		Subject:     "ORDER 1",
	}}))

	d := f.importApril(t)
	assert.Equal(t, domain.EntryStatusAlreadyBooked, entryBySubject(t, d, "Order 1").Status)
}

func TestService_ImportErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Import(ctx, ImportRequest{FileName: "april.csv", Data: []byte(aprilExport)})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = f.svc.Import(ctx, ImportRequest{OwnerID: owner, FileName: "april.bin", Data: []byte("???")})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = f.svc.Import(ctx, ImportRequest{OwnerID: owner, GCSURI: "gs://bucket/april.csv"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestService_ClassifyAfterAliasAdded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.importApril(t)

	_, err := f.svc.AddAlias(ctx, owner, "employer", "employer*")
	require.NoError(t, err)

	res, err := f.svc.Classify(ctx, owner, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.Accounted)

	salary := entryBySubject(t, res.Draft, "Salary April")
	assert.Equal(t, domain.EntryStatusAccounted, salary.Status)
	assert.Equal(t, "employer", salary.ContactID)

	count, err := f.svc.ClassifyAllOpen(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestService_ValidateAndBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.importApril(t)
	tickets := entryBySubject(t, d, "Concert tickets")

	vr, err := f.svc.Validate(ctx, owner, d.ID, "")
	require.NoError(t, err)
	assert.False(t, vr.IsValid)

	stored, err := f.svc.Get(ctx, owner, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusNeedsCheck, entryBySubject(t, stored, "Salary April").Status)

	salary := entryBySubject(t, stored, "Salary April")
	_, err = f.svc.SetEntryContact(ctx, owner, d.ID, salary.ID, "employer")
	require.NoError(t, err)

	// Book the single shop entry first, then the rest once the intermediary entry is gone.
	shop := entryBySubject(t, stored, "Order 1")
	res, err := f.svc.Book(ctx, owner, d.ID, shop.ID, false)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.BookedCount)
	assert.Equal(t, d.ID, res.NextOpenDraftID)

	res, err = f.svc.Book(ctx, owner, d.ID, "", false)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, codesOf(res.Validation), domain.CodeIntermediaryNoSplit)

	_, err = f.svc.SetEntryContact(ctx, owner, d.ID, tickets.ID, "shop")
	require.NoError(t, err)
	res, err = f.svc.Book(ctx, owner, d.ID, "", false)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.BookedCount)

	committed, err := f.svc.Get(ctx, owner, d.ID)
	require.NoError(t, err)
	assert.True(t, committed.IsCommitted())
	assert.Len(t, f.repo.Postings(owner), 6)

	_, err = f.svc.SetEntryFlags(ctx, owner, d.ID, tickets.ID, EntryFlags{IsCostNeutral: true})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestService_SplitDraftAndCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent := f.importApril(t)
	tickets := entryBySubject(t, parent, "Concert tickets")

	split, err := f.svc.Import(ctx, ImportRequest{
		OwnerID:  owner,
		FileName: "paypal.csv",
		Data:     []byte("Datum;Empfänger;Verwendungszweck;Betrag\n08.04.2024;Shop GmbH;Tickets;-80,00\n"),
	})
	require.NoError(t, err)
	child := split.Drafts[0]
	assert.False(t, child.HasDetectedAccount())

	_, err = f.svc.SetEntrySplitDraft(ctx, owner, parent.ID, tickets.ID, parent.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = f.svc.SetEntrySplitDraft(ctx, owner, parent.ID, tickets.ID, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	updated, err := f.svc.SetEntrySplitDraft(ctx, owner, parent.ID, tickets.ID, child.ID)
	require.NoError(t, err)
	assert.Equal(t, child.ID, updated.SplitDraftID)

	salary := entryBySubject(t, parent, "Salary April")
	_, err = f.svc.SetEntrySplitDraft(ctx, owner, parent.ID, salary.ID, child.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	vr, err := f.svc.Validate(ctx, owner, parent.ID, tickets.ID)
	require.NoError(t, err)
	assert.True(t, vr.IsValid, "%v", codesOf(vr))
	stored, err := f.svc.Get(ctx, owner, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusAccounted, stored.FindEntry(tickets.ID).Status)

	require.NoError(t, f.svc.Cancel(ctx, owner, child.ID))
	_, err = f.svc.Get(ctx, owner, child.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	stored, err = f.svc.Get(ctx, owner, parent.ID)
	require.NoError(t, err)
	e := stored.FindEntry(tickets.ID)
	assert.Empty(t, e.SplitDraftID)
	assert.Equal(t, domain.EntryStatusOpen, e.Status)
}

// holdingLocker keeps every lock for a while so concurrent callers overlap.
type holdingLocker struct {
	lock.Locker
	hold time.Duration
}

func (l holdingLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return l.Locker.WithLock(ctx, key, func(ctx context.Context) error {
		time.Sleep(l.hold)
		return fn(ctx)
	})
}

func TestService_CancelMutualSplitDrafts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.importApril(t)
	split, err := f.svc.Import(ctx, ImportRequest{
		OwnerID:  owner,
		FileName: "paypal.csv",
		Data:     []byte("Datum;Empfänger;Verwendungszweck;Betrag\n08.04.2024;Shop GmbH;Tickets;-80,00\n"),
	})
	require.NoError(t, err)
	b := split.Drafts[0]

	_, err = f.svc.SetEntrySplitDraft(ctx, owner, a.ID, entryBySubject(t, a, "Concert tickets").ID, b.ID)
	require.NoError(t, err)
	_, err = f.svc.SetEntrySplitDraft(ctx, owner, b.ID, b.Entries[0].ID, a.ID)
	require.NoError(t, err)

	f.svc.locker = holdingLocker{Locker: lock.NewLocal(), hold: 50 * time.Millisecond}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	errs := make(chan error, 2)
	for _, id := range []string{a.ID, b.ID} {
		go func(id string) { errs <- f.svc.Cancel(ctx, owner, id) }(id)
	}
	for i := 0; i < 2; i++ {
		assert.NoError(t, <-errs)
	}

	open, err := f.svc.ListOpen(context.Background(), owner)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestService_EntryMutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.SaveSavingsPlan(ctx, &domain.SavingsPlan{ID: "plan", OwnerID: owner, Name: "Holiday", IsActive: true, Type: domain.SavingsPlanOpen}))
	require.NoError(t, f.repo.SaveSecurity(ctx, &domain.Security{ID: "acme", OwnerID: owner, Name: "ACME Corp", Identifier: "DE000ACME001", IsActive: true}))
	d := f.importApril(t)
	e := entryBySubject(t, d, "Salary April")

	_, err := f.svc.SetEntrySavingsPlan(ctx, owner, d.ID, e.ID, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	got, err := f.svc.SetEntrySavingsPlan(ctx, owner, d.ID, e.ID, "plan")
	require.NoError(t, err)
	assert.Equal(t, "plan", got.SavingsPlanID)

	got, err = f.svc.SetEntryFlags(ctx, owner, d.ID, e.ID, EntryFlags{IsCostNeutral: true, ArchiveSavingsPlanOnBooking: true})
	require.NoError(t, err)
	assert.True(t, got.IsCostNeutral)
	assert.True(t, got.ArchiveSavingsPlanOnBooking)

	_, err = f.svc.SetEntrySecurity(ctx, owner, d.ID, e.ID, SecurityAssignment{SecurityID: "acme", TransactionType: "buy"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	got, err = f.svc.SetEntrySecurity(ctx, owner, d.ID, e.ID, SecurityAssignment{
		SecurityID:      "acme",
		TransactionType: "Buy",
		Quantity:        decimal.NewNullDecimal(decimal.NewFromInt(5)),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SecurityTransactionBuy, got.SecurityTransactionType)

	got, err = f.svc.SetEntryContact(ctx, owner, d.ID, e.ID, "employer")
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusAccounted, got.Status)

	got, err = f.svc.ResetEntry(ctx, owner, d.ID, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusOpen, got.Status)
	assert.Empty(t, got.ContactID)
	assert.Empty(t, got.SavingsPlanID)
	assert.Empty(t, got.SecurityID)
	assert.False(t, got.IsCostNeutral)

	_, err = f.svc.SetEntryContact(ctx, owner, d.ID, "missing", "employer")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.SetEntryContact(ctx, "owner-2", d.ID, e.ID, "employer")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_Contacts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateContact(ctx, owner, ContactInput{Name: "Me again", Type: "Self"})
	assert.ErrorIs(t, err, domain.ErrSelfContactImmutable)
	_, err = f.svc.CreateContact(ctx, owner, ContactInput{Name: " ", Type: "Person"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = f.svc.CreateContact(ctx, owner, ContactInput{Name: "Bob", Type: "Robot"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	c, err := f.svc.CreateContact(ctx, owner, ContactInput{Name: "Bob", Type: "Person"})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)

	_, err = f.svc.UpdateContact(ctx, owner, c.ID, ContactInput{Name: "Bob", Type: "Self"})
	assert.ErrorIs(t, err, domain.ErrSelfContactImmutable)
	_, err = f.svc.UpdateContact(ctx, owner, "self", ContactInput{Name: "Jordan", Type: "Person"})
	assert.ErrorIs(t, err, domain.ErrSelfContactImmutable)
	renamed, err := f.svc.UpdateContact(ctx, owner, "self", ContactInput{Name: "Jordan", Type: "Self"})
	require.NoError(t, err)
	assert.Equal(t, "Jordan", renamed.Name)

	assert.ErrorIs(t, f.svc.DeleteContact(ctx, owner, "self"), domain.ErrSelfContactImmutable)
	require.NoError(t, f.svc.DeleteContact(ctx, owner, c.ID))
	assert.ErrorIs(t, f.svc.DeleteContact(ctx, owner, c.ID), domain.ErrNotFound)

	withAlias, err := f.svc.AddAlias(ctx, owner, "shop", "SHOP*")
	require.NoError(t, err)
	withAlias, err = f.svc.AddAlias(ctx, owner, "shop", "shop*")
	require.NoError(t, err)
	assert.Equal(t, []string{"SHOP*"}, withAlias.AliasPatterns)
	_, err = f.svc.AddAlias(ctx, owner, "shop", "  ")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	withoutAlias, err := f.svc.RemoveAlias(ctx, owner, "shop", "shop*")
	require.NoError(t, err)
	assert.Empty(t, withoutAlias.AliasPatterns)
}

// busyLocker reports every lock as held elsewhere.
type busyLocker struct{}

func (busyLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return lock.ErrLockBusy
}

func TestService_LockBusy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.importApril(t)

	f.svc.locker = busyLocker{}
	_, err := f.svc.Book(ctx, owner, d.ID, "", false)
	assert.True(t, errors.Is(err, lock.ErrLockBusy))

	count, err := f.svc.ClassifyAllOpen(ctx, owner)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func codesOf(r *domain.ValidationResult) []string {
	var out []string
	for _, m := range r.Messages {
		out = append(out, m.Code)
	}
	return out
}
