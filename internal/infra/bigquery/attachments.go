package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"

	"github.com/dvloznov/statement-booking/internal/domain"
)

// CreateAttachment stores attachment metadata. The blob itself lives in Cloud Storage.
func (r *Repository) CreateAttachment(ctx context.Context, a *domain.Attachment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	q := r.query(`
		INSERT INTO {attachments} (
			attachment_id, owner_id, entity_kind, entity_id, file_name,
			content_type, object_uri, reference_attachment_id, created_ts
		)
		VALUES (
			@attachment_id, @owner_id, @entity_kind, @entity_id, @file_name,
			@content_type, @object_uri, @reference_attachment_id, @created_ts
		)
	`,
		bigquery.QueryParameter{Name: "attachment_id", Value: a.ID},
		ownerParam(a.OwnerID),
		bigquery.QueryParameter{Name: "entity_kind", Value: string(a.EntityKind)},
		bigquery.QueryParameter{Name: "entity_id", Value: a.EntityID},
		bigquery.QueryParameter{Name: "file_name", Value: a.FileName},
		bigquery.QueryParameter{Name: "content_type", Value: a.ContentType},
		bigquery.QueryParameter{Name: "object_uri", Value: a.ObjectURI},
		bigquery.QueryParameter{Name: "reference_attachment_id", Value: a.ReferenceAttachmentID},
		bigquery.QueryParameter{Name: "created_ts", Value: a.CreatedAt},
	)
	if err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("CreateAttachment: %w", err)
	}
	return nil
}

// ListAttachments returns the attachments of one entity.
func (r *Repository) ListAttachments(ctx context.Context, ownerID string, kind domain.AttachmentEntityKind, entityID string) ([]domain.Attachment, error) {
	q := r.query(`
		SELECT
			attachment_id,
			owner_id,
			entity_kind,
			entity_id,
			file_name,
			content_type,
			object_uri,
			reference_attachment_id,
			created_ts
		FROM {attachments}
		WHERE owner_id = @owner_id AND entity_kind = @entity_kind AND entity_id = @entity_id
		ORDER BY attachment_id
	`,
		ownerParam(ownerID),
		bigquery.QueryParameter{Name: "entity_kind", Value: string(kind)},
		bigquery.QueryParameter{Name: "entity_id", Value: entityID},
	)

	rows, err := readAll[AttachmentRow](ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListAttachments: %w", err)
	}
	attachments := make([]domain.Attachment, 0, len(rows))
	for i := range rows {
		attachments = append(attachments, rows[i].toDomain())
	}
	return attachments, nil
}

// ReassignAttachments moves every attachment of one entity to another.
func (r *Repository) ReassignAttachments(ctx context.Context, ownerID string, fromKind domain.AttachmentEntityKind, fromID string, toKind domain.AttachmentEntityKind, toID string) error {
	q := r.query(`
		UPDATE {attachments}
		SET entity_kind = @to_kind, entity_id = @to_id
		WHERE owner_id = @owner_id AND entity_kind = @from_kind AND entity_id = @from_id
	`,
		ownerParam(ownerID),
		bigquery.QueryParameter{Name: "from_kind", Value: string(fromKind)},
		bigquery.QueryParameter{Name: "from_id", Value: fromID},
		bigquery.QueryParameter{Name: "to_kind", Value: string(toKind)},
		bigquery.QueryParameter{Name: "to_id", Value: toID},
	)
	if err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("ReassignAttachments: %w", err)
	}
	return nil
}
