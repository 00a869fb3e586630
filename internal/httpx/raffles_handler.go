package httpx

import (
	"context"
	"github.com/ariefcatur/go-rifa/internal/rifa"
	"github.com/go-chi/chi/v5"
	"net/http"
	"time"
)

func (a *API) listRaffles(w http.ResponseWriter, r *http.Request) {
	status := rifa.RaffleStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown status", Field: "status"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	rs, err := a.Store.ListRaffles(ctx, status)
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	if rs == nil {
		rs = []rifa.Raffle{}
	}
	writeJSON(w, http.StatusOK, rs)
}

func (a *API) getRaffle(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	raf, err := a.Store.GetRaffle(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, raf)
}

func (a *API) available(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	nums, err := a.Availability.Available(ctx, id)
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"raffle_id": id, "numbers": nums, "count": len(nums)})
}

type quickPickReq struct {
	Count int `json:"count"`
}

func (a *API) quickPick(w http.ResponseWriter, r *http.Request) {
	req := quickPickReq{Count: 1}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
			return
		}
	}
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	nums, err := a.Availability.QuickPick(ctx, id, req.Count)
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"raffle_id": id, "numbers": nums})
}
