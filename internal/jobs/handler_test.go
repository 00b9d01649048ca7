package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-booking/internal/domain"
	"github.com/dvloznov/statement-booking/internal/drafts"
)

type MockImporter struct {
	ImportFunc func(ctx context.Context, req drafts.ImportRequest) (*drafts.ImportResult, error)
}

func (m *MockImporter) Import(ctx context.Context, req drafts.ImportRequest) (*drafts.ImportResult, error) {
	return m.ImportFunc(ctx, req)
}

type otherJob struct{}

func (otherJob) GetID() string        { return "x" }
func (otherJob) GetType() JobType     { return "other" }
func (otherJob) GetStatus() JobStatus { return JobStatusPending }

func TestImportHandler_Success(t *testing.T) {
	var got drafts.ImportRequest
	importer := &MockImporter{
		ImportFunc: func(ctx context.Context, req drafts.ImportRequest) (*drafts.ImportResult, error) {
			got = req
			return &drafts.ImportResult{
				UploadGroupID: "group-1",
				Drafts:        []*domain.StatementDraft{{ID: "d1"}, {ID: "d2"}},
			}, nil
		},
	}
	handler := NewImportHandler(importer, zerolog.Nop())

	job := &ImportStatementJob{JobID: "j1", OwnerID: "o1", GCSURI: "gs://bucket/o1/april.csv", FileName: "april.csv"}
	require.NoError(t, handler(context.Background(), job))

	assert.Equal(t, drafts.ImportRequest{OwnerID: "o1", FileName: "april.csv", GCSURI: "gs://bucket/o1/april.csv"}, got)
	assert.Equal(t, "group-1", job.UploadGroupID)
	assert.Equal(t, []string{"d1", "d2"}, job.DraftIDs)
}

func TestImportHandler_Errors(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantPermanent bool
	}{
		{"invalid input", fmt.Errorf("parse: %w", domain.ErrInvalidArgument), true},
		{"transient", errors.New("storage unavailable"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			importer := &MockImporter{
				ImportFunc: func(ctx context.Context, req drafts.ImportRequest) (*drafts.ImportResult, error) {
					return nil, tt.err
				},
			}
			err := NewImportHandler(importer, zerolog.Nop())(context.Background(), &ImportStatementJob{JobID: "j1"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.wantPermanent, errors.Is(err, ErrPermanent))
		})
	}
}

func TestImportHandler_UnknownJobType(t *testing.T) {
	handler := NewImportHandler(&MockImporter{}, zerolog.Nop())
	assert.ErrorIs(t, handler(context.Background(), otherJob{}), ErrPermanent)
}
