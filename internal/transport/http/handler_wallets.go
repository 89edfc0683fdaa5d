package httptransport

import (
	"net/http"
	"strconv"

	"stream-billing/internal/ledger"
	"stream-billing/internal/store"
)

type WalletHandlers struct {
	ledger *ledger.Ledger
}

func NewWalletHandlers(l *ledger.Ledger) *WalletHandlers {
	return &WalletHandlers{ledger: l}
}

func (h *WalletHandlers) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "account_id")
		if err != nil {
			writeError(w, r, err)
			return
		}
		wallet, err := h.ledger.Wallet(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, wallet)
	}
}

func (h *WalletHandlers) ClearHalt() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "account_id")
		if err != nil {
			writeError(w, r, err)
			return
		}
		wallet, err := h.ledger.ClearHalt(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, wallet)
	}
}

func (h *WalletHandlers) Ledger() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := ParsePagination(r)
		q := r.URL.Query()
		f := store.LedgerFilter{Op: store.LedgerOp(q.Get("op")), RefType: q.Get("ref_type"), RefID: q.Get("ref_id")}
		if v := q.Get("account_id"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				f.AccountID = n
			}
		}
		items, err := h.ledger.Entries(r.Context(), f, limit, offset)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "limit": limit, "offset": offset})
	}
}
