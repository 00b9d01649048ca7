package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-booking/internal/api/middleware"
	"github.com/dvloznov/statement-booking/internal/domain"
	"github.com/dvloznov/statement-booking/internal/drafts"
)

// ContactsHandler handles contact and alias endpoints.
type ContactsHandler struct {
	svc DraftService
	log zerolog.Logger
}

// NewContactsHandler creates a new contacts handler.
func NewContactsHandler(svc DraftService, log zerolog.Logger) *ContactsHandler {
	return &ContactsHandler{svc: svc, log: log}
}

func (h *ContactsHandler) writeContact(w http.ResponseWriter, r *http.Request, status int, c *domain.Contact, err error) {
	if err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}
	middleware.WriteJSON(w, status, toContact(*c))
}

// ListContacts handles GET /api/contacts
func (h *ContactsHandler) ListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := h.svc.ListContacts(r.Context(), middleware.OwnerID(r.Context()))
	if err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}
	out := make([]contactResponse, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, toContact(c))
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"contacts": out,
		"count":    len(out),
	})
}

// CreateContact handles POST /api/contacts
func (h *ContactsHandler) CreateContact(w http.ResponseWriter, r *http.Request) {
	var in drafts.ContactInput
	if err := decodeJSON(w, r, &in); err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}
	c, err := h.svc.CreateContact(r.Context(), middleware.OwnerID(r.Context()), in)
	h.writeContact(w, r, http.StatusCreated, c, err)
}

// UpdateContact handles PUT /api/contacts/{id}
func (h *ContactsHandler) UpdateContact(w http.ResponseWriter, r *http.Request) {
	var in drafts.ContactInput
	if err := decodeJSON(w, r, &in); err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}
	c, err := h.svc.UpdateContact(r.Context(), middleware.OwnerID(r.Context()), r.PathValue("id"), in)
	h.writeContact(w, r, http.StatusOK, c, err)
}

// DeleteContact handles DELETE /api/contacts/{id}
func (h *ContactsHandler) DeleteContact(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteContact(r.Context(), middleware.OwnerID(r.Context()), r.PathValue("id")); err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddAlias handles POST /api/contacts/{id}/aliases
func (h *ContactsHandler) AddAlias(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pattern string `json:"pattern"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteServiceError(w, r, err)
		return
	}
	c, err := h.svc.AddAlias(r.Context(), middleware.OwnerID(r.Context()), r.PathValue("id"), req.Pattern)
	h.writeContact(w, r, http.StatusOK, c, err)
}

// RemoveAlias handles DELETE /api/contacts/{id}/aliases?pattern=
func (h *ContactsHandler) RemoveAlias(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.RemoveAlias(r.Context(), middleware.OwnerID(r.Context()), r.PathValue("id"), r.URL.Query().Get("pattern"))
	h.writeContact(w, r, http.StatusOK, c, err)
}
