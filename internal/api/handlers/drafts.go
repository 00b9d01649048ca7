package handlers

import (
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-booking/internal/api/middleware"
	"github.com/dvloznov/statement-booking/internal/domain"
	"github.com/dvloznov/statement-booking/internal/drafts"
)

// DraftsHandler handles draft and entry endpoints.
type DraftsHandler struct {
	svc         DraftService
	attachments AttachmentService
	log         zerolog.Logger
}

// NewDraftsHandler creates a new drafts handler.
func NewDraftsHandler(svc DraftService, attachments AttachmentService, log zerolog.Logger) *DraftsHandler {
	return &DraftsHandler{svc: svc, attachments: attachments, log: log}
}

// ListDrafts handles GET /api/drafts
func (h *DraftsHandler) ListDrafts(w http.ResponseWriter, r *http.Request) {
	open, err := h.svc.ListOpen(r.Context(), middleware.OwnerID(r.Context()))
	if err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"drafts": toDrafts(open),
		"count":  len(open),
	})
}

// GetDraft handles GET /api/drafts/{id}
func (h *DraftsHandler) GetDraft(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Get(r.Context(), middleware.OwnerID(r.Context()), r.PathValue("id"))
	if err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toDraft(d))
}

// CancelDraft handles DELETE /api/drafts/{id}
func (h *DraftsHandler) CancelDraft(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Cancel(r.Context(), middleware.OwnerID(r.Context()), r.PathValue("id")); err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClassifyDraft handles POST /api/drafts/{id}/classify
func (h *DraftsHandler) ClassifyDraft(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Classify(r.Context(), middleware.OwnerID(r.Context()), r.PathValue("id"))
	if err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"draft":      toDraft(res.Draft),
		"duplicates": res.Duplicates,
		"stats":      res.Stats,
	})
}

// ValidateDraft handles POST /api/drafts/{id}/validate?entry_id=
func (h *DraftsHandler) ValidateDraft(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Validate(r.Context(), middleware.OwnerID(r.Context()), r.PathValue("id"), r.URL.Query().Get("entry_id"))
	if err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

// BookDraft handles POST /api/drafts/{id}/book. A refused booking answers 200 with
// success=false and the validation messages.
func (h *DraftsHandler) BookDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntryID       string `json:"entry_id"`
		ForceWarnings bool   `json:"force_warnings"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			middleware.WriteServiceError(w, r, err)
			return
		}
	}

	res, err := h.svc.Book(r.Context(), middleware.OwnerID(r.Context()), r.PathValue("id"), req.EntryID, req.ForceWarnings)
	if err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

// ListAttachments handles GET /api/drafts/{id}/attachments?entry_id=
func (h *DraftsHandler) ListAttachments(w http.ResponseWriter, r *http.Request) {
	if h.attachments == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Attachments are not configured")
		return
	}
	owner := middleware.OwnerID(r.Context())
	kind, entityID, err := h.attachmentTarget(r)
	if err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}

	list, err := h.attachments.List(r.Context(), owner, kind, entityID)
	if err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}
	out := make([]attachmentResponse, 0, len(list))
	for _, a := range list {
		out = append(out, toAttachment(a))
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"attachments": out,
		"count":       len(out),
	})
}

// UploadAttachment handles POST /api/drafts/{id}/attachments?filename=&entry_id=
// The request body is the file content.
func (h *DraftsHandler) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	if h.attachments == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Attachments are not configured")
		return
	}
	owner := middleware.OwnerID(r.Context())
	fileName := path.Base(strings.TrimSpace(r.URL.Query().Get("filename")))
	if fileName == "" || fileName == "." || fileName == "/" {
		middleware.WriteError(w, http.StatusBadRequest, "filename is required")
		return
	}
	kind, entityID, err := h.attachmentTarget(r)
	if err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxUploadBytes))
	if err != nil {
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Attachment is too large")
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	a, err := h.attachments.Upload(r.Context(), owner, kind, entityID, fileName, contentType, data)
	if err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}
	h.log.Info().
		Str("attachment_id", a.ID).
		Str("entity_kind", string(kind)).
		Str("entity_id", entityID).
		Int("bytes", len(data)).
		Msg("Attachment uploaded")
	middleware.WriteJSON(w, http.StatusCreated, toAttachment(*a))
}

// attachmentTarget resolves the draft or entry named by the request, checking ownership.
func (h *DraftsHandler) attachmentTarget(r *http.Request) (domain.AttachmentEntityKind, string, error) {
	d, err := h.svc.Get(r.Context(), middleware.OwnerID(r.Context()), r.PathValue("id"))
	if err != nil {
		return "", "", err
	}
	entryID := r.URL.Query().Get("entry_id")
	if entryID == "" {
		return domain.AttachmentEntityDraft, d.ID, nil
	}
	if d.FindEntry(entryID) == nil {
		return "", "", fmt.Errorf("entry %s: %w", entryID, domain.ErrNotFound)
	}
	return domain.AttachmentEntityEntry, entryID, nil
}

func (h *DraftsHandler) writeEntry(w http.ResponseWriter, r *http.Request, e *domain.StatementDraftEntry, err error) {
	if err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toEntry(e))
}

// SetEntryContact handles PUT /api/drafts/{id}/entries/{entryId}/contact
func (h *DraftsHandler) SetEntryContact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContactID string `json:"contact_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}
	e, err := h.svc.SetEntryContact(r.Context(), middleware.OwnerID(r.Context()), r.PathValue("id"), r.PathValue("entryId"), req.ContactID)
	h.writeEntry(w, r, e, err)
}

// SetEntrySavingsPlan handles PUT /api/drafts/{id}/entries/{entryId}/savings-plan
func (h *DraftsHandler) SetEntrySavingsPlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SavingsPlanID string `json:"savings_plan_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}
	e, err := h.svc.SetEntrySavingsPlan(r.Context(), middleware.OwnerID(r.Context()), r.PathValue("id"), r.PathValue("entryId"), req.SavingsPlanID)
	h.writeEntry(w, r, e, err)
}

// SetEntrySplitDraft handles PUT /api/drafts/{id}/entries/{entryId}/split-draft
func (h *DraftsHandler) SetEntrySplitDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SplitDraftID string `json:"split_draft_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}
	e, err := h.svc.SetEntrySplitDraft(r.Context(), middleware.OwnerID(r.Context()), r.PathValue("id"), r.PathValue("entryId"), req.SplitDraftID)
	h.writeEntry(w, r, e, err)
}

// SetEntrySecurity handles PUT /api/drafts/{id}/entries/{entryId}/security
func (h *DraftsHandler) SetEntrySecurity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SecurityID      string              `json:"security_id"`
		TransactionType string              `json:"transaction_type"`
		Quantity        decimal.NullDecimal `json:"quantity"`
		Fee             decimal.NullDecimal `json:"fee"`
		Tax             decimal.NullDecimal `json:"tax"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}
	e, err := h.svc.SetEntrySecurity(r.Context(), middleware.OwnerID(r.Context()), r.PathValue("id"), r.PathValue("entryId"), drafts.SecurityAssignment{
		SecurityID:      req.SecurityID,
		TransactionType: req.TransactionType,
		Quantity:        req.Quantity,
		Fee:             req.Fee,
		Tax:             req.Tax,
	})
	h.writeEntry(w, r, e, err)
}

// SetEntryFlags handles PUT /api/drafts/{id}/entries/{entryId}/flags
func (h *DraftsHandler) SetEntryFlags(w http.ResponseWriter, r *http.Request) {
	var flags drafts.EntryFlags
	if err := decodeJSON(w, r, &flags); err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}
	e, err := h.svc.SetEntryFlags(r.Context(), middleware.OwnerID(r.Context()), r.PathValue("id"), r.PathValue("entryId"), flags)
	h.writeEntry(w, r, e, err)
}

// ResetEntry handles POST /api/drafts/{id}/entries/{entryId}/reset
func (h *DraftsHandler) ResetEntry(w http.ResponseWriter, r *http.Request) {
	e, err := h.svc.ResetEntry(r.Context(), middleware.OwnerID(r.Context()), r.PathValue("id"), r.PathValue("entryId"))
	h.writeEntry(w, r, e, err)
}
