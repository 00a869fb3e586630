package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/ariefcatur/go-rifa/internal/payment"
	"github.com/ariefcatur/go-rifa/internal/reconcile"
	"github.com/ariefcatur/go-rifa/internal/rifa"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"net/http"
	"time"
)

func (a *API) createCheckout(w http.ResponseWriter, r *http.Request) {
	var req reconcile.InitiateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	key := req.UserID
	if key == "" {
		key = r.RemoteAddr
	}
	if !a.Limiter.Allow(key) {
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many checkout attempts"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	co, err := a.Reconciler.Initiate(ctx, req)
	if err != nil {
		writeError(w, a.Log.WithField("request_id", middleware.GetReqID(r.Context())), err)
		return
	}
	writeJSON(w, http.StatusCreated, co)
}

type reservationStatus struct {
	ExternalReference string                 `json:"external_reference"`
	RaffleID          string                 `json:"raffle_id"`
	Numbers           []int                  `json:"numbers"`
	AmountCents       int                    `json:"amount_cents"`
	Status            rifa.ReservationStatus `json:"status"`
	PaymentProviderID string                 `json:"payment_provider_id,omitempty"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

func (a *API) getCheckout(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "reference")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	if a.StatusCache != nil {
		if b, ok := a.StatusCache.Get(ctx, ref); ok {
			writeJSON(w, http.StatusOK, json.RawMessage(b))
			return
		}
	}

	// 2) store
	res, err := a.Store.GetReservation(ctx, ref)
	if err != nil {
		writeError(w, a.Log, err)
		return
	}
	body, _ := json.Marshal(reservationStatus{
		ExternalReference: res.ExternalReference,
		RaffleID:          res.RaffleID,
		Numbers:           res.Numbers,
		AmountCents:       res.AmountCents,
		Status:            res.Status,
		PaymentProviderID: res.PaymentProviderID,
		UpdatedAt:         res.UpdatedAt,
	})
	if a.StatusCache != nil {
		a.StatusCache.Set(ctx, ref, body)
	}
	writeJSON(w, http.StatusOK, json.RawMessage(body))
}

// paymentWebhook acknowledges (2xx) once the outcome is durable, and asks the
// provider to retry (5xx) when it is not.
func (a *API) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	n, err := payment.ParseNotification(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if !n.IsPayment() {
		writeJSON(w, http.StatusOK, map[string]any{"ignored": true, "type": n.Type})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	out, err := a.Reconciler.Reconcile(ctx, n.PaymentID)
	var gwErr *payment.GatewayError
	switch {
	case reconcile.Recorded(err):
		writeJSON(w, http.StatusOK, out)
	case errors.As(err, &gwErr):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
	case errors.Is(err, rifa.ErrReservationNotFound):
		if out.Retryable {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "reservation not found yet"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ignored": true, "payment_id": n.PaymentID})
	default:
		a.Log.WithError(err).WithField("payment_id", n.PaymentID).Error("webhook reconcile failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
