package httpx

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-rifa/internal/payment"
	"github.com/ariefcatur/go-rifa/internal/reconcile"
	"github.com/ariefcatur/go-rifa/internal/rifa"
	"github.com/go-chi/chi/v5"
	"net/http"
	"strconv"
	"time"
)

type createRaffleReq struct {
	Title            string `json:"title"`
	MinNumber        int    `json:"min_number"`
	MaxNumber        int    `json:"max_number"`
	TicketPriceCents int    `json:"ticket_price_cents"`
}

func (a *API) createRaffle(w http.ResponseWriter, r *http.Request) {
	var req createRaffleReq
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	raf, err := a.Store.CreateRaffle(ctx, rifa.Raffle{
		Title:            req.Title,
		MinNumber:        req.MinNumber,
		MaxNumber:        req.MaxNumber,
		TicketPriceCents: req.TicketPriceCents,
	})
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	a.Log.WithField("raffle_id", raf.ID).Info("raffle created")
	writeJSON(w, http.StatusCreated, raf)
}

func (a *API) closeRaffle(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	raf, err := a.Draws.Close(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, raf)
}

func (a *API) drawRaffle(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := a.Draws.Draw(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) listEntries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if _, err := a.Store.GetRaffle(ctx, id); err != nil {
		writeError(w, a.Log, err)
		return
	}
	entries, err := a.Store.ListEntries(ctx, id)
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	if entries == nil {
		entries = []rifa.ConfirmedEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// stalePending lists reservations still pending after older_than (default
// 30m): candidates for a manual re-drive or a refund check.
func (a *API) stalePending(w http.ResponseWriter, r *http.Request) {
	olderThan := 30 * time.Minute
	if v := r.URL.Query().Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid duration", Field: "older_than"})
			return
		}
		olderThan = d
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid limit", Field: "limit"})
			return
		}
		limit = n
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := a.Store.ListStalePending(ctx, time.Now().Add(-olderThan), limit)
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	if res == nil {
		res = []rifa.PendingReservation{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) auditTrail(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "reference")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if _, err := a.Store.GetReservation(ctx, ref); err != nil {
		writeError(w, a.Log, err)
		return
	}
	recs, err := a.Store.ListAudit(ctx, ref)
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	if recs == nil {
		recs = []rifa.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

type redriveReq struct {
	PaymentID string `json:"payment_id"`
}

// redrive re-runs reconciliation for a reservation with a payment id obtained
// out of band (provider dashboard, customer receipt).
func (a *API) redrive(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "reference")
	var req redriveReq
	if err := decodeJSON(r, &req); err != nil || req.PaymentID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "payment_id required", Field: "payment_id"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if _, err := a.Store.GetReservation(ctx, ref); err != nil {
		writeError(w, a.Log, err)
		return
	}
	out, err := a.Reconciler.Reconcile(ctx, req.PaymentID)
	if out.ExternalReference != "" && out.ExternalReference != ref {
		writeJSON(w, http.StatusConflict, errorBody{Error: "payment belongs to another reservation", ExternalReference: out.ExternalReference})
		return
	}
	var gwErr *payment.GatewayError
	switch {
	case reconcile.Recorded(err):
		writeJSON(w, http.StatusOK, map[string]any{"outcome": out, "error": errString(err)})
	case errors.As(err, &gwErr):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
	default:
		writeError(w, a.Log, err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
