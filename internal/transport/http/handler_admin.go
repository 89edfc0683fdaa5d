package httptransport

import (
	"context"
	"net/http"

	"stream-billing/internal/command"
	"stream-billing/internal/pricing"
	"stream-billing/internal/room"

	"github.com/shopspring/decimal"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type AdminHandlers struct {
	db      Pinger
	pricing *pricing.Admin
	rooms   *room.Machine
}

func NewAdminHandlers(db Pinger, p *pricing.Admin, rooms *room.Machine) *AdminHandlers {
	return &AdminHandlers{db: db, pricing: p, rooms: rooms}
}

func (h *AdminHandlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.db.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "db": "down"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "db": "up"})
	}
}

func (h *AdminHandlers) UpdateCam2CamPricing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cmd command.UpdateCam2CamPricing
		if !decodeJSON(w, r, &cmd) {
			return
		}
		tier, err := h.pricing.UpdateTier(r.Context(), cmd)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tier)
	}
}

func (h *AdminHandlers) ListCam2CamRooms() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pageNum, err := queryPage(r, "page")
		if err != nil {
			writeError(w, r, err)
			return
		}
		pageSize, err := queryPage(r, "page_size")
		if err != nil {
			writeError(w, r, err)
			return
		}
		cmd := command.ListCam2CamRooms{
			Page:     pageNum,
			PageSize: pageSize,
			Search:   r.URL.Query().Get("search"),
		}
		page, err := h.pricing.ListRooms(r.Context(), cmd)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func (h *AdminHandlers) ListPyramidRooms() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := h.rooms.List(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	}
}

func (h *AdminHandlers) CreatePyramidRoom() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Position int             `json:"position"`
			Rate     decimal.Decimal `json:"rate"`
			Pinned   bool            `json:"pinned"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		rm, err := h.rooms.Create(r.Context(), body.Position, body.Rate, body.Pinned)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, rm)
	}
}

func (h *AdminHandlers) UpdatePyramidRoom() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cmd command.UpdatePyramidRoom
		if !decodeJSON(w, r, &cmd) {
			return
		}
		id, err := pathID(r, "room_id")
		if err != nil {
			writeError(w, r, err)
			return
		}
		cmd.RoomID = id
		rm, err := h.rooms.Update(r.Context(), cmd)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rm)
	}
}

func (h *AdminHandlers) ActivatePyramidRoom() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			StreamerID int64 `json:"streamer_id"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		id, err := pathID(r, "room_id")
		if err != nil {
			writeError(w, r, err)
			return
		}
		rm, err := h.rooms.Activate(r.Context(), id, body.StreamerID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rm)
	}
}

func (h *AdminHandlers) DeactivatePyramidRoom() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "room_id")
		if err != nil {
			writeError(w, r, err)
			return
		}
		rm, err := h.rooms.Deactivate(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rm)
	}
}

func (h *AdminHandlers) DeletePyramidRoom() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "room_id")
		if err != nil {
			writeError(w, r, err)
			return
		}
		rm, err := h.rooms.Delete(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rm)
	}
}
