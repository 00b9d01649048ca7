// Package attachments stores files linked to drafts, entries and postings.
// Metadata lives in the repository; blobs live in object storage.
package attachments

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/statement-booking/internal/domain"
	"github.com/dvloznov/statement-booking/internal/gcs"
	"github.com/dvloznov/statement-booking/internal/repository"
)

// Service implements the attachment operations the booking engine and the API need.
type Service struct {
	repo    repository.AttachmentRepository
	storage gcs.Uploader
	bucket  string
	now     func() time.Time
}

// NewService creates an attachment service. storage may be nil when uploads are not needed.
func NewService(repo repository.AttachmentRepository, storage gcs.Uploader, bucket string) *Service {
	return &Service{repo: repo, storage: storage, bucket: bucket, now: time.Now}
}

// Upload stores the blob and records an attachment for the entity.
func (s *Service) Upload(ctx context.Context, ownerID string, kind domain.AttachmentEntityKind, entityID, fileName, contentType string, data []byte) (*domain.Attachment, error) {
	if s.storage == nil {
		return nil, fmt.Errorf("Upload: no object storage configured: %w", domain.ErrInvalidArgument)
	}
	a := &domain.Attachment{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		EntityKind:  kind,
		EntityID:    entityID,
		FileName:    fileName,
		ContentType: contentType,
		CreatedAt:   s.now(),
	}

	object := path.Join("attachments", ownerID, a.ID, path.Base(fileName))
	uri, err := s.storage.Upload(ctx, s.bucket, object, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("Upload: store blob %s: %w", object, err)
	}
	a.ObjectURI = uri

	if err := s.repo.CreateAttachment(ctx, a); err != nil {
		return nil, fmt.Errorf("Upload: %w", err)
	}
	return a, nil
}

// List returns the attachments of an entity.
func (s *Service) List(ctx context.Context, ownerID string, kind domain.AttachmentEntityKind, entityID string) ([]domain.Attachment, error) {
	out, err := s.repo.ListAttachments(ctx, ownerID, kind, entityID)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return out, nil
}

// Reassign moves every attachment of one entity to another.
func (s *Service) Reassign(ctx context.Context, ownerID string, fromKind domain.AttachmentEntityKind, fromID string, toKind domain.AttachmentEntityKind, toID string) error {
	if err := s.repo.ReassignAttachments(ctx, ownerID, fromKind, fromID, toKind, toID); err != nil {
		return fmt.Errorf("Reassign: %w", err)
	}
	return nil
}

// CreateReference links an entity to an existing attachment without copying the blob.
func (s *Service) CreateReference(ctx context.Context, ownerID, masterAttachmentID string, kind domain.AttachmentEntityKind, entityID string) error {
	ref := &domain.Attachment{
		ID:                    uuid.NewString(),
		OwnerID:               ownerID,
		EntityKind:            kind,
		EntityID:              entityID,
		ReferenceAttachmentID: masterAttachmentID,
		CreatedAt:             s.now(),
	}
	if err := s.repo.CreateAttachment(ctx, ref); err != nil {
		return fmt.Errorf("CreateReference: %w", err)
	}
	return nil
}
