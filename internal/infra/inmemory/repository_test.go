package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-booking/internal/domain"
)

func newDraft(id, owner string, created time.Time) *domain.StatementDraft {
	d := &domain.StatementDraft{
		ID:            id,
		OwnerID:       owner,
		UploadGroupID: "g1",
		Status:        domain.DraftStatusDraft,
		CreatedAt:     created,
	}
	d.Entries = []*domain.StatementDraftEntry{{
		ID:      id + "-e1",
		DraftID: id,
		Amount:  decimal.NewFromInt(-10),
		Subject: "Coffee",
		Status:  domain.EntryStatusOpen,
	}}
	return d
}

func TestRepository_DraftVersioning(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	d := newDraft("A", "owner-1", time.Now())
	require.NoError(t, repo.CreateDraft(ctx, d))
	assert.Equal(t, int64(1), d.Version)

	first, err := repo.GetDraft(ctx, "owner-1", "A")
	require.NoError(t, err)
	second, err := repo.GetDraft(ctx, "owner-1", "A")
	require.NoError(t, err)

	first.Description = "edited"
	require.NoError(t, repo.SaveDraft(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.Description = "lost update"
	err = repo.SaveDraft(ctx, second)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	stored, err := repo.GetDraft(ctx, "owner-1", "A")
	require.NoError(t, err)
	assert.Equal(t, "edited", stored.Description)
}

func TestRepository_DraftCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	d := newDraft("A", "owner-1", time.Now())
	require.NoError(t, repo.CreateDraft(ctx, d))

	d.Entries[0].Subject = "mutated after create"
	got, err := repo.GetDraft(ctx, "owner-1", "A")
	require.NoError(t, err)
	assert.Equal(t, "Coffee", got.Entries[0].Subject)

	got.Entries[0].Status = domain.EntryStatusAccounted
	again, err := repo.GetDraft(ctx, "owner-1", "A")
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusOpen, again.Entries[0].Status)
}

func TestRepository_OwnerScoping(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	require.NoError(t, repo.CreateDraft(ctx, newDraft("A", "owner-1", time.Now())))

	_, err := repo.GetDraft(ctx, "owner-2", "A")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, repo.DeleteDraft(ctx, "owner-2", "A"), domain.ErrNotFound)

	foreign := newDraft("A", "owner-2", time.Now())
	foreign.Version = 1
	assert.ErrorIs(t, repo.SaveDraft(ctx, foreign), domain.ErrNotFound)

	c := &domain.Contact{OwnerID: "owner-1", Name: "Shop", Type: domain.ContactTypeOrganization}
	require.NoError(t, repo.SaveContact(ctx, c))
	_, err = repo.GetContact(ctx, "owner-2", c.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	hijack := &domain.Contact{ID: c.ID, OwnerID: "owner-2", Name: "Mine now"}
	assert.ErrorIs(t, repo.SaveContact(ctx, hijack), domain.ErrNotFound)
}

func TestRepository_DraftQueries(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	base := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	b := newDraft("B", "owner-1", base.Add(time.Hour))
	a := newDraft("A", "owner-1", base)
	c := newDraft("C", "owner-1", base.Add(2*time.Hour))
	c.Status = domain.DraftStatusCommitted
	other := newDraft("X", "owner-2", base)
	for _, d := range []*domain.StatementDraft{b, a, c, other} {
		require.NoError(t, repo.CreateDraft(ctx, d))
	}

	open, err := repo.ListOpenDrafts(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "A", open[0].ID)
	assert.Equal(t, "B", open[1].ID)

	group, err := repo.ListDraftsByUploadGroup(ctx, "owner-1", "g1")
	require.NoError(t, err)
	assert.Len(t, group, 3)

	owners, err := repo.ListOwnersWithOpenDrafts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"owner-1", "owner-2"}, owners)

	a.Entries[0].SplitDraftID = "B"
	require.NoError(t, repo.SaveDraft(ctx, a))
	refs, err := repo.ListSplitReferences(ctx, "owner-1", "B")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, domain.SplitReference{EntryID: "A-e1", DraftID: "A", Amount: decimal.NewFromInt(-10)}, refs[0])
}

func TestRepository_FindAccount(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	acc := &domain.Account{OwnerID: "owner-1", Name: "Giro", IBAN: "DE89 3704 0044 0532 0130 00", AccountNumber: "0532013000"}
	require.NoError(t, repo.SaveAccount(ctx, acc))

	got, err := repo.FindAccount(ctx, "owner-1", "de89370400440532013000", "")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.ID)

	got, err = repo.FindAccount(ctx, "owner-1", "", "0532013000")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.ID)

	_, err = repo.FindAccount(ctx, "owner-2", "DE89370400440532013000", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = repo.FindAccount(ctx, "owner-1", "", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRepository_PostingsAndAggregates(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository()
	april := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)
	may := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

	postings := []domain.Posting{
		{ID: "p1", OwnerID: "o", Kind: domain.PostingKindBank, AccountID: "acc", BookingDate: april, Amount: decimal.NewFromInt(-100)},
		{ID: "p2", OwnerID: "o", Kind: domain.PostingKindSavingsPlan, SavingsPlanID: "plan", BookingDate: april, Amount: decimal.NewFromInt(100)},
		{ID: "p3", OwnerID: "o", Kind: domain.PostingKindBank, AccountID: "acc", BookingDate: may, Amount: decimal.NewFromInt(-30)},
		{ID: "p4", OwnerID: "o", Kind: domain.PostingKindSavingsPlan, SavingsPlanID: "plan", BookingDate: may, Amount: decimal.NewFromInt(30)},
	}
	require.NoError(t, repo.CreatePostings(ctx, postings))
	for _, p := range postings {
		require.NoError(t, repo.UpsertForPosting(ctx, p))
	}

	bank, err := repo.ListBankPostings(ctx, "o", "acc", may)
	require.NoError(t, err)
	require.Len(t, bank, 1)
	assert.Equal(t, "p3", bank[0].ID)

	sum, err := repo.SumSavingsPlanPostings(ctx, "o", "plan")
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(130)))

	balances, err := repo.SavingsPlanBalances(ctx, "o")
	require.NoError(t, err)
	assert.True(t, balances["plan"].Equal(decimal.NewFromInt(130)))

	aggs, err := repo.ListAggregates(ctx, "o", domain.PostingKindBank, "acc")
	require.NoError(t, err)
	require.Len(t, aggs, 2)
	assert.Equal(t, "2024-04", aggs[0].Period)
	assert.Equal(t, "2024-05", aggs[1].Period)
	assert.True(t, aggs[1].Amount.Equal(decimal.NewFromInt(-30)))
	assert.Equal(t, 1, aggs[1].Count)
}
