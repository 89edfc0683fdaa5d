package httptransport

import (
	"net/http"

	"stream-billing/internal/command"
	"stream-billing/internal/purchase"

	"github.com/go-chi/chi/v5"
)

type PurchaseHandlers struct {
	purchases *purchase.Reconciler
}

func NewPurchaseHandlers(r *purchase.Reconciler) *PurchaseHandlers {
	return &PurchaseHandlers{purchases: r}
}

func (h *PurchaseHandlers) Create() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cmd command.CreatePurchase
		if !decodeJSON(w, r, &cmd) {
			return
		}
		p, err := h.purchases.CreatePending(r.Context(), cmd)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func (h *PurchaseHandlers) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := h.purchases.Get(r.Context(), chi.URLParam(r, "purchase_id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// Event applies a payment confirmation delivered over HTTP instead of the
// broker.
func (h *PurchaseHandlers) Event() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metricPaymentEvents.Add(1)
		var ev command.PaymentEvent
		if !decodeJSON(w, r, &ev) {
			return
		}
		p, err := h.purchases.Apply(r.Context(), ev)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func (h *PurchaseHandlers) RetryDeficit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := h.purchases.RetryDeficit(r.Context(), chi.URLParam(r, "purchase_id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}
