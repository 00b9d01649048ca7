package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-booking/internal/domain"
	"github.com/dvloznov/statement-booking/internal/infra/inmemory"
	"github.com/dvloznov/statement-booking/internal/logger"
	"github.com/dvloznov/statement-booking/internal/pipeline"
)

// MockStorageService is a mock implementation of pipeline.StatementFetcher.
type MockStorageService struct {
	FetchFromGCSFunc              func(ctx context.Context, gcsURI string) ([]byte, error)
	ExtractFilenameFromGCSURIFunc func(uri string) string
}

func (m *MockStorageService) FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	if m.FetchFromGCSFunc != nil {
		return m.FetchFromGCSFunc(ctx, gcsURI)
	}
	return nil, nil
}

func (m *MockStorageService) ExtractFilenameFromGCSURI(uri string) string {
	if m.ExtractFilenameFromGCSURIFunc != nil {
		return m.ExtractFilenameFromGCSURIFunc(uri)
	}
	return ""
}

// MockParser is a mock implementation of pipeline.StatementParser.
type MockParser struct {
	ParseFunc func(ctx context.Context, fileName string, data []byte) (*domain.ParsedStatement, error)
}

func (m *MockParser) Parse(ctx context.Context, fileName string, data []byte) (*domain.ParsedStatement, error) {
	if m.ParseFunc != nil {
		return m.ParseFunc(ctx, fileName, data)
	}
	return &domain.ParsedStatement{}, nil
}

// MockClassifier is a mock implementation of pipeline.DraftClassifier.
type MockClassifier struct {
	ClassifyDraftFunc func(ctx context.Context, d *domain.StatementDraft) error
}

func (m *MockClassifier) ClassifyDraft(ctx context.Context, d *domain.StatementDraft) error {
	if m.ClassifyDraftFunc != nil {
		return m.ClassifyDraftFunc(ctx, d)
	}
	return nil
}

func movement(day time.Time, subject string, amount int64) domain.StatementMovement {
	return domain.StatementMovement{
		BookingDate:  day,
		Amount:       decimal.NewFromInt(amount),
		CurrencyCode: "EUR",
		Subject:      subject,
	}
}

func statement(iban string) *domain.ParsedStatement {
	march := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	april := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)
	return &domain.ParsedStatement{
		Header: domain.StatementHeader{AccountIBAN: iban},
		Movements: []domain.StatementMovement{
			movement(april, "Rent", -900),
			movement(march, "Salary", 2500),
			movement(april, "Groceries", -40),
		},
	}
}

func TestImportPipeline_MonthlySplit(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewRepository()
	acc := &domain.Account{OwnerID: "owner-1", Name: "Giro", IBAN: "DE89370400440532013000"}
	require.NoError(t, repo.SaveAccount(ctx, acc))

	var fetched string
	storage := &MockStorageService{
		FetchFromGCSFunc: func(ctx context.Context, gcsURI string) ([]byte, error) {
			fetched = gcsURI
			return []byte("data"), nil
		},
		ExtractFilenameFromGCSURIFunc: func(uri string) string { return "april.csv" },
	}
	parser := &MockParser{ParseFunc: func(ctx context.Context, fileName string, data []byte) (*domain.ParsedStatement, error) {
		assert.Equal(t, "april.csv", fileName)
		assert.Equal(t, []byte("data"), data)
		return statement("DE89 3704 0044 0532 0130 00"), nil
	}}
	var classified []string
	classifier := &MockClassifier{ClassifyDraftFunc: func(ctx context.Context, d *domain.StatementDraft) error {
		classified = append(classified, d.ID)
		return nil
	}}

	p := pipeline.NewImportPipeline(pipeline.Dependencies{
		Storage:    storage,
		Parser:     parser,
		Accounts:   repo,
		Drafts:     repo,
		Classifier: classifier,
		Settings:   domain.SplitSettings{Mode: domain.SplitModeMonthly, MaxEntriesPerDraft: 250, MinEntriesPerDraft: 1},
	})

	state := &pipeline.PipelineState{OwnerID: "owner-1", GCSURI: "gs://bucket/april.csv"}
	require.NoError(t, p.Execute(ctx, state))

	assert.Equal(t, "gs://bucket/april.csv", fetched)
	require.Len(t, state.Drafts, 2)
	assert.Equal(t, 2, state.SplitInfo.DraftCount)
	assert.True(t, state.SplitInfo.EffectiveMonthly)

	march, april := state.Drafts[0], state.Drafts[1]
	assert.Equal(t, "april.csv (2024-03)", march.Description)
	assert.Equal(t, "april.csv (2024-04)", april.Description)
	assert.Equal(t, 2, april.ImportedEntryCount)
	assert.Equal(t, "Groceries", april.Entries[0].Subject)
	for _, d := range state.Drafts {
		assert.Equal(t, acc.ID, d.DetectedAccountID)
		assert.Equal(t, state.UploadGroupID, d.UploadGroupID)
	}
	assert.Equal(t, []string{march.ID, april.ID}, classified)

	stored, err := repo.ListDraftsByUploadGroup(ctx, "owner-1", state.UploadGroupID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestImportPipeline_UnknownAccount(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := logger.WithContext(context.Background(), logger.NewWithWriter(buf))
	repo := inmemory.NewRepository()

	parsed := statement("DE00000000000000000000")
	parsed.Header.Description = "Giro April"
	p := pipeline.NewImportPipeline(pipeline.Dependencies{
		Parser: &MockParser{ParseFunc: func(context.Context, string, []byte) (*domain.ParsedStatement, error) {
			return parsed, nil
		}},
		Accounts: repo,
		Drafts:   repo,
		Settings: domain.SplitSettings{Mode: domain.SplitModeMonthlyOrFixed, MaxEntriesPerDraft: 250, MonthlySplitThreshold: 250, MinEntriesPerDraft: 8},
	})

	state := &pipeline.PipelineState{OwnerID: "owner-1", FileName: "upload.csv", Data: []byte("x")}
	require.NoError(t, p.Execute(ctx, state))

	require.Len(t, state.Drafts, 1)
	d := state.Drafts[0]
	assert.False(t, d.HasDetectedAccount())
	assert.Equal(t, "Giro April", d.Description)
	assert.Len(t, d.Entries, 3)
	assert.False(t, state.SplitInfo.EffectiveMonthly)

	assert.Contains(t, buf.String(), "No account matches the statement header")
	assert.Contains(t, buf.String(), `"drafts":1`)
}

func TestImportPipeline_Failures(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewRepository()

	t.Run("no data and no uri", func(t *testing.T) {
		p := pipeline.NewImportPipeline(pipeline.Dependencies{Parser: &MockParser{}, Accounts: repo, Drafts: repo})
		err := p.Execute(ctx, &pipeline.PipelineState{OwnerID: "owner-1"})
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("parser error stops before drafts are created", func(t *testing.T) {
		boom := errors.New("unreadable")
		p := pipeline.NewImportPipeline(pipeline.Dependencies{
			Parser: &MockParser{ParseFunc: func(context.Context, string, []byte) (*domain.ParsedStatement, error) {
				return nil, boom
			}},
			Accounts: repo,
			Drafts:   repo,
		})
		err := p.Execute(ctx, &pipeline.PipelineState{OwnerID: "owner-1", FileName: "x.csv", Data: []byte("x")})
		assert.ErrorIs(t, err, boom)

		open, err := repo.ListOpenDrafts(ctx, "owner-1")
		require.NoError(t, err)
		assert.Empty(t, open)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		p := pipeline.NewImportPipeline(pipeline.Dependencies{Parser: &MockParser{}, Accounts: repo, Drafts: repo})
		err := p.Execute(cctx, &pipeline.PipelineState{OwnerID: "owner-1", Data: []byte("x")})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
