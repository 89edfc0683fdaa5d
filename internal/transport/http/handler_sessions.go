package httptransport

import (
	"net/http"

	"stream-billing/internal/command"
	"stream-billing/internal/session"
	"stream-billing/internal/store"

	"github.com/go-chi/chi/v5"
)

type SessionHandlers struct {
	sessions *session.Manager
}

func NewSessionHandlers(m *session.Manager) *SessionHandlers {
	return &SessionHandlers{sessions: m}
}

func (h *SessionHandlers) Start() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metricSessionStartTotal.Add(1)
		var cmd command.StartSession
		if !decodeJSON(w, r, &cmd) {
			return
		}
		sess, err := h.sessions.StartSession(r.Context(), cmd)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, sess)
	}
}

func (h *SessionHandlers) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "session_id")
		sess, err := h.sessions.GetSession(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		items, err := h.sessions.ListAttendances(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": sess, "attendances": items})
	}
}

func (h *SessionHandlers) End() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cmd := command.EndSession{SessionID: chi.URLParam(r, "session_id")}
		if !decodeJSON(w, r, &cmd) {
			return
		}
		cmd.SessionID = chi.URLParam(r, "session_id")
		if err := command.Validate(cmd); err != nil {
			writeError(w, r, err)
			return
		}
		sess, err := h.sessions.EndSession(r.Context(), cmd.SessionID, store.EndKind(cmd.Kind))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func (h *SessionHandlers) Enter() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metricEnterTotal.Add(1)
		var cmd command.EnterSession
		if !decodeJSON(w, r, &cmd) {
			return
		}
		cmd.SessionID = chi.URLParam(r, "session_id")
		a, err := h.sessions.Enter(r.Context(), cmd)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, a)
	}
}

func (h *SessionHandlers) Exit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metricExitTotal.Add(1)
		a, err := h.sessions.Exit(r.Context(), chi.URLParam(r, "attendance_id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func (h *SessionHandlers) Kick() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Reason string `json:"reason"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		a, err := h.sessions.Kick(r.Context(), chi.URLParam(r, "attendance_id"), body.Reason)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}
