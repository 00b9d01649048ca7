// Package handlers exposes the draft service over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-booking/internal/api/middleware"
	"github.com/dvloznov/statement-booking/internal/domain"
	"github.com/dvloznov/statement-booking/internal/drafts"
	"github.com/dvloznov/statement-booking/internal/gcs"
	"github.com/dvloznov/statement-booking/internal/jobs"
)

// MaxUploadBytes limits statement and attachment uploads.
const MaxUploadBytes = 20 << 20

// DraftService is the part of drafts.Service the API calls.
type DraftService interface {
	Import(ctx context.Context, req drafts.ImportRequest) (*drafts.ImportResult, error)
	Get(ctx context.Context, ownerID, draftID string) (*domain.StatementDraft, error)
	ListOpen(ctx context.Context, ownerID string) ([]*domain.StatementDraft, error)
	Classify(ctx context.Context, ownerID, draftID string) (*drafts.ClassifyResult, error)
	Validate(ctx context.Context, ownerID, draftID, entryID string) (*domain.ValidationResult, error)
	Book(ctx context.Context, ownerID, draftID, entryID string, forceWarnings bool) (*domain.BookingResult, error)
	Cancel(ctx context.Context, ownerID, draftID string) error

	SetEntryContact(ctx context.Context, ownerID, draftID, entryID, contactID string) (*domain.StatementDraftEntry, error)
	SetEntrySavingsPlan(ctx context.Context, ownerID, draftID, entryID, planID string) (*domain.StatementDraftEntry, error)
	SetEntrySplitDraft(ctx context.Context, ownerID, draftID, entryID, splitDraftID string) (*domain.StatementDraftEntry, error)
	SetEntrySecurity(ctx context.Context, ownerID, draftID, entryID string, a drafts.SecurityAssignment) (*domain.StatementDraftEntry, error)
	SetEntryFlags(ctx context.Context, ownerID, draftID, entryID string, flags drafts.EntryFlags) (*domain.StatementDraftEntry, error)
	ResetEntry(ctx context.Context, ownerID, draftID, entryID string) (*domain.StatementDraftEntry, error)

	ListContacts(ctx context.Context, ownerID string) ([]domain.Contact, error)
	CreateContact(ctx context.Context, ownerID string, in drafts.ContactInput) (*domain.Contact, error)
	UpdateContact(ctx context.Context, ownerID, contactID string, in drafts.ContactInput) (*domain.Contact, error)
	DeleteContact(ctx context.Context, ownerID, contactID string) error
	AddAlias(ctx context.Context, ownerID, contactID, pattern string) (*domain.Contact, error)
	RemoveAlias(ctx context.Context, ownerID, contactID, pattern string) (*domain.Contact, error)
}

// AttachmentService stores and lists attachment files.
type AttachmentService interface {
	Upload(ctx context.Context, ownerID string, kind domain.AttachmentEntityKind, entityID, fileName, contentType string, data []byte) (*domain.Attachment, error)
	List(ctx context.Context, ownerID string, kind domain.AttachmentEntityKind, entityID string) ([]domain.Attachment, error)
}

// Dependencies groups what the handlers need. Publisher, Storage and Attachments are optional;
// the endpoints using them answer 503 when they are missing.
type Dependencies struct {
	Drafts      DraftService
	Attachments AttachmentService
	Publisher   jobs.Publisher
	Jobs        jobs.JobStore
	Storage     gcs.StorageService
	Bucket      string
}

// Register adds every API route to mux.
func Register(mux *http.ServeMux, deps Dependencies, log zerolog.Logger) {
	d := NewDraftsHandler(deps.Drafts, deps.Attachments, log)
	i := NewImportsHandler(deps.Drafts, deps.Publisher, deps.Storage, deps.Bucket, log)
	j := NewJobsHandler(deps.Jobs, log)
	c := NewContactsHandler(deps.Drafts, log)

	mux.HandleFunc("GET /api/drafts", d.ListDrafts)
	mux.HandleFunc("GET /api/drafts/{id}", d.GetDraft)
	mux.HandleFunc("DELETE /api/drafts/{id}", d.CancelDraft)
	mux.HandleFunc("POST /api/drafts/{id}/classify", d.ClassifyDraft)
	mux.HandleFunc("POST /api/drafts/{id}/validate", d.ValidateDraft)
	mux.HandleFunc("POST /api/drafts/{id}/book", d.BookDraft)
	mux.HandleFunc("GET /api/drafts/{id}/attachments", d.ListAttachments)
	mux.HandleFunc("POST /api/drafts/{id}/attachments", d.UploadAttachment)

	mux.HandleFunc("PUT /api/drafts/{id}/entries/{entryId}/contact", d.SetEntryContact)
	mux.HandleFunc("PUT /api/drafts/{id}/entries/{entryId}/savings-plan", d.SetEntrySavingsPlan)
	mux.HandleFunc("PUT /api/drafts/{id}/entries/{entryId}/split-draft", d.SetEntrySplitDraft)
	mux.HandleFunc("PUT /api/drafts/{id}/entries/{entryId}/security", d.SetEntrySecurity)
	mux.HandleFunc("PUT /api/drafts/{id}/entries/{entryId}/flags", d.SetEntryFlags)
	mux.HandleFunc("POST /api/drafts/{id}/entries/{entryId}/reset", d.ResetEntry)

	mux.HandleFunc("POST /api/imports", i.ImportStatement)
	mux.HandleFunc("POST /api/imports/async", i.UploadAndEnqueue)
	mux.HandleFunc("POST /api/imports/jobs", i.EnqueueImport)

	mux.HandleFunc("GET /api/jobs", j.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", j.GetJob)

	mux.HandleFunc("GET /api/contacts", c.ListContacts)
	mux.HandleFunc("POST /api/contacts", c.CreateContact)
	mux.HandleFunc("PUT /api/contacts/{id}", c.UpdateContact)
	mux.HandleFunc("DELETE /api/contacts/{id}", c.DeleteContact)
	mux.HandleFunc("POST /api/contacts/{id}/aliases", c.AddAlias)
	mux.HandleFunc("DELETE /api/contacts/{id}/aliases", c.RemoveAlias)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %v: %w", err, domain.ErrInvalidArgument)
	}
	return nil
}

type draftResponse struct {
	ID                 string          `json:"id"`
	FileName           string          `json:"file_name"`
	Description        string          `json:"description"`
	AccountID          string          `json:"account_id,omitempty"`
	UploadGroupID      string          `json:"upload_group_id"`
	Status             string          `json:"status"`
	ImportedEntryCount int             `json:"imported_entry_count"`
	Version            int64           `json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	Entries            []entryResponse `json:"entries"`
}

type entryResponse struct {
	ID                          string              `json:"id"`
	BookingDate                 string              `json:"booking_date"`
	ValutaDate                  string              `json:"valuta_date,omitempty"`
	Amount                      decimal.Decimal     `json:"amount"`
	Currency                    string              `json:"currency"`
	Subject                     string              `json:"subject"`
	RecipientName               string              `json:"recipient_name,omitempty"`
	BookingDescription          string              `json:"booking_description,omitempty"`
	Status                      string              `json:"status"`
	IsAnnounced                 bool                `json:"is_announced"`
	IsCostNeutral               bool                `json:"is_cost_neutral"`
	ArchiveSavingsPlanOnBooking bool                `json:"archive_savings_plan_on_booking"`
	ContactID                   string              `json:"contact_id,omitempty"`
	SavingsPlanID               string              `json:"savings_plan_id,omitempty"`
	SplitDraftID                string              `json:"split_draft_id,omitempty"`
	SecurityID                  string              `json:"security_id,omitempty"`
	SecurityTransactionType     string              `json:"security_transaction_type,omitempty"`
	SecurityQuantity            decimal.NullDecimal `json:"security_quantity"`
	SecurityFee                 decimal.NullDecimal `json:"security_fee"`
	SecurityTax                 decimal.NullDecimal `json:"security_tax"`
}

type contactResponse struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	Type                  string   `json:"type"`
	IsPaymentIntermediary bool     `json:"is_payment_intermediary"`
	AliasPatterns         []string `json:"alias_patterns"`
}

type attachmentResponse struct {
	ID                    string    `json:"id"`
	EntityKind            string    `json:"entity_kind"`
	EntityID              string    `json:"entity_id"`
	FileName              string    `json:"file_name"`
	ContentType           string    `json:"content_type"`
	ObjectURI             string    `json:"object_uri"`
	ReferenceAttachmentID string    `json:"reference_attachment_id,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

func toDraft(d *domain.StatementDraft) draftResponse {
	out := draftResponse{
		ID:                 d.ID,
		FileName:           d.OriginalFileName,
		Description:        d.Description,
		AccountID:          d.DetectedAccountID,
		UploadGroupID:      d.UploadGroupID,
		Status:             string(d.Status),
		ImportedEntryCount: d.ImportedEntryCount,
		Version:            d.Version,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
		Entries:            make([]entryResponse, 0, len(d.Entries)),
	}
	for _, e := range d.Entries {
		out.Entries = append(out.Entries, toEntry(e))
	}
	return out
}

func toDrafts(ds []*domain.StatementDraft) []draftResponse {
	out := make([]draftResponse, 0, len(ds))
	for _, d := range ds {
		out = append(out, toDraft(d))
	}
	return out
}

func toEntry(e *domain.StatementDraftEntry) entryResponse {
	out := entryResponse{
		ID:                          e.ID,
		BookingDate:                 e.BookingDate.Format(time.DateOnly),
		Amount:                      e.Amount,
		Currency:                    e.CurrencyCode,
		Subject:                     e.Subject,
		RecipientName:               e.RecipientName,
		BookingDescription:          e.BookingDescription,
		Status:                      string(e.Status),
		IsAnnounced:                 e.IsAnnounced,
		IsCostNeutral:               e.IsCostNeutral,
		ArchiveSavingsPlanOnBooking: e.ArchiveSavingsPlanOnBooking,
		ContactID:                   e.ContactID,
		SavingsPlanID:               e.SavingsPlanID,
		SplitDraftID:                e.SplitDraftID,
		SecurityID:                  e.SecurityID,
		SecurityTransactionType:     string(e.SecurityTransactionType),
		SecurityQuantity:            e.SecurityQuantity,
		SecurityFee:                 e.SecurityFeeAmount,
		SecurityTax:                 e.SecurityTaxAmount,
	}
	if e.ValutaDate != nil {
		out.ValutaDate = e.ValutaDate.Format(time.DateOnly)
	}
	return out
}

func toContact(c domain.Contact) contactResponse {
	aliases := c.AliasPatterns
	if aliases == nil {
		aliases = []string{}
	}
	return contactResponse{
		ID:                    c.ID,
		Name:                  c.Name,
		Type:                  string(c.Type),
		IsPaymentIntermediary: c.IsPaymentIntermediary,
		AliasPatterns:         aliases,
	}
}

func toAttachment(a domain.Attachment) attachmentResponse {
	return attachmentResponse{
		ID:                    a.ID,
		EntityKind:            string(a.EntityKind),
		EntityID:              a.EntityID,
		FileName:              a.FileName,
		ContentType:           a.ContentType,
		ObjectURI:             a.ObjectURI,
		ReferenceAttachmentID: a.ReferenceAttachmentID,
		CreatedAt:             a.CreatedAt,
	}
}
