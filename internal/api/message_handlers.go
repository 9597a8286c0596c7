package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/inapp-messaging/internal/catalog"
	"github.com/shehryarbajwa/inapp-messaging/pkg/models"
)

// MessageHandler holds dependencies for catalog HTTP handlers
type MessageHandler struct {
	catalog *catalog.Catalog
}

// NewMessageHandler creates a new catalog HTTP handler
func NewMessageHandler(c *catalog.Catalog) *MessageHandler {
	return &MessageHandler{
		catalog: c,
	}
}

// PutMessage handles POST /v1/messages
func (h *MessageHandler) PutMessage(w http.ResponseWriter, r *http.Request) {
	var msg models.Message
	if !decode(w, r, &msg) {
		return
	}

	stored, err := h.catalog.Put(msg)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, stored)
}

// ListMessages handles GET /v1/messages
func (h *MessageHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.catalog.List())
}

// GetMessage handles GET /v1/messages/{id}
func (h *MessageHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.catalog.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, msg)
}

// DeleteMessage handles DELETE /v1/messages/{id}
func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Delete(mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
