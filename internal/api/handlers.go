package api

import (
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/inapp-messaging/internal/policy"
	"github.com/shehryarbajwa/inapp-messaging/internal/session"
	"github.com/shehryarbajwa/inapp-messaging/pkg/models"
)

// Handler holds dependencies for session HTTP handlers
type Handler struct {
	sessionMgr *session.Manager
}

// NewHandler creates a new HTTP handler
func NewHandler(sessionMgr *session.Manager) *Handler {
	return &Handler{
		sessionMgr: sessionMgr,
	}
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetConfig handles GET /v1/config
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessionMgr.Config())
}

// CreateSession handles POST /v1/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Subject == "" {
		req.Subject = getSubject(r)
	}

	s, err := h.sessionMgr.CreateSession(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, s)
}

// GetSession handles GET /v1/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessionMgr.GetSession(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, s)
}

// ListSessions handles GET /v1/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessionMgr.ListSessions(r.URL.Query().Get("subjectId"))
	if sessions == nil {
		sessions = []*models.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// DeleteSession handles DELETE /v1/sessions/{id}
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessionMgr.DeleteSession(mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Evaluate handles POST /v1/sessions/{id}/evaluate
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req models.EvaluateRequest
	if !decode(w, r, &req) {
		return
	}
	msg := policy.Normalize(req.Message)

	decision, err := h.sessionMgr.Evaluate(r.Context(), mux.Vars(r)["id"], msg, req.Authenticated)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.EvaluateResponse{Decision: decision, MessageID: msg.MessageID})
}

// CommitDisplay handles POST /v1/sessions/{id}/display
func (h *Handler) CommitDisplay(w http.ResponseWriter, r *http.Request) {
	var req models.DisplayRequest
	if !decode(w, r, &req) {
		return
	}

	s, err := h.sessionMgr.CommitDisplay(r.Context(), mux.Vars(r)["id"], req.Message)
	if errors.Is(err, session.ErrDailyCapReached) {
		writeJSON(w, http.StatusConflict, models.Rejected(models.ReasonDailyCapReached))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, s)
}

// NextMessage handles GET /v1/sessions/{id}/next?authenticated=true
func (h *Handler) NextMessage(w http.ResponseWriter, r *http.Request) {
	authenticated, _ := strconv.ParseBool(r.URL.Query().Get("authenticated"))

	msg, decision, err := h.sessionMgr.NextMessage(r.Context(), mux.Vars(r)["id"], authenticated)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.NextMessageResponse{Message: msg, Decision: decision})
}

// RecordAction handles POST /v1/sessions/{id}/actions
func (h *Handler) RecordAction(w http.ResponseWriter, r *http.Request) {
	var action models.Action
	if !decode(w, r, &action) {
		return
	}

	if err := h.sessionMgr.RecordAction(r.Context(), mux.Vars(r)["id"], action); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// Suppress handles PUT /v1/sessions/{id}/suppress
func (h *Handler) Suppress(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.sessionMgr.Suppress)
}

// SetDataCollection handles PUT /v1/sessions/{id}/data-collection
func (h *Handler) SetDataCollection(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.sessionMgr.SetDataCollection)
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request, set func(id string, value bool) error) {
	var req models.ToggleRequest
	if !decode(w, r, &req) {
		return
	}

	id := mux.Vars(r)["id"]
	if err := set(id, req.Value); err != nil {
		writeError(w, r, err)
		return
	}

	h.GetSession(w, r)
}

// ResetSession handles POST /v1/sessions/{id}/reset
func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessionMgr.ResetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, s)
}

// rateLimitKey identifies who a session request counts against: the subject
// named on the request, else the subject owning the session in the path, else
// the client address.
func (h *Handler) rateLimitKey(r *http.Request) string {
	if subject := getSubject(r); subject != "" {
		return subject
	}
	if id := mux.Vars(r)["id"]; id != "" {
		if s, err := h.sessionMgr.GetSession(id); err == nil {
			return s.Subject
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
