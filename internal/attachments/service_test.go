package attachments

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-booking/internal/domain"
	"github.com/dvloznov/statement-booking/internal/infra/inmemory"
)

// MockStorageService is a mock implementation of gcs.StorageService.
type MockStorageService struct {
	UploadFunc func(ctx context.Context, bucketName, objectName string, data []byte, contentType string) (string, error)
}

func (m *MockStorageService) Upload(ctx context.Context, bucketName, objectName string, data []byte, contentType string) (string, error) {
	return m.UploadFunc(ctx, bucketName, objectName, data, contentType)
}

func (m *MockStorageService) FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (m *MockStorageService) ExtractFilenameFromGCSURI(uri string) string {
	return ""
}

func TestService_UploadReassignReference(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewRepository()
	var uploaded string
	storage := &MockStorageService{
		UploadFunc: func(ctx context.Context, bucketName, objectName string, data []byte, contentType string) (string, error) {
			uploaded = objectName
			assert.Equal(t, "receipts", bucketName)
			assert.Equal(t, "application/pdf", contentType)
			return "gs://" + bucketName + "/" + objectName, nil
		},
	}
	svc := NewService(repo, storage, "receipts")

	a, err := svc.Upload(ctx, "owner-1", domain.AttachmentEntityEntry, "entry-1", "dir/receipt.pdf", "application/pdf", []byte("%PDF"))
	require.NoError(t, err)
	assert.Contains(t, uploaded, "attachments/owner-1/")
	assert.Contains(t, uploaded, "/receipt.pdf")
	assert.Equal(t, "gs://receipts/"+uploaded, a.ObjectURI)

	require.NoError(t, svc.Reassign(ctx, "owner-1", domain.AttachmentEntityEntry, "entry-1", domain.AttachmentEntityPosting, "posting-1"))
	moved, err := svc.List(ctx, "owner-1", domain.AttachmentEntityPosting, "posting-1")
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, a.ID, moved[0].ID)

	left, err := svc.List(ctx, "owner-1", domain.AttachmentEntityEntry, "entry-1")
	require.NoError(t, err)
	assert.Empty(t, left)

	require.NoError(t, svc.CreateReference(ctx, "owner-1", a.ID, domain.AttachmentEntityPosting, "posting-2"))
	refs, err := svc.List(ctx, "owner-1", domain.AttachmentEntityPosting, "posting-2")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, a.ID, refs[0].ReferenceAttachmentID)
	assert.Empty(t, refs[0].ObjectURI)
}

func TestService_UploadErrors(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewRepository()

	_, err := NewService(repo, nil, "b").Upload(ctx, "o", domain.AttachmentEntityDraft, "d", "f.pdf", "application/pdf", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	failing := &MockStorageService{
		UploadFunc: func(ctx context.Context, bucketName, objectName string, data []byte, contentType string) (string, error) {
			return "", errors.New("bucket unavailable")
		},
	}
	_, err = NewService(repo, failing, "b").Upload(ctx, "o", domain.AttachmentEntityDraft, "d", "f.pdf", "application/pdf", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unavailable")

	list, err := repo.ListAttachments(ctx, "o", domain.AttachmentEntityDraft, "d")
	require.NoError(t, err)
	assert.Empty(t, list)
}
