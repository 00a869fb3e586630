package httpx

import (
	"context"
	"github.com/ariefcatur/go-rifa/internal/payment"
	"net/http"
	"time"
)

type sandboxPaymentReq struct {
	ExternalReference string `json:"external_reference"`
	Status            string `json:"status"` // provider status, e.g. approved, in_process, rejected
	AmountCents       int    `json:"amount_cents"`
	PaymentID         string `json:"payment_id,omitempty"`
	// Notify runs the webhook flow right away, as the provider would.
	Notify bool `json:"notify"`
}

func (a *API) sandboxPayment(w http.ResponseWriter, r *http.Request) {
	var req sandboxPaymentReq
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	if req.ExternalReference == "" || req.Status == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "external_reference and status required"})
		return
	}
	st := a.Sandbox.SetPayment(payment.Status{
		PaymentID:         req.PaymentID,
		RawStatus:         req.Status,
		State:             payment.MapStatus(req.Status),
		ExternalReference: req.ExternalReference,
		AmountCents:       req.AmountCents,
	})
	resp := map[string]any{"payment_id": st.PaymentID, "status": st.RawStatus}

	if req.Notify {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		out, err := a.Reconciler.Reconcile(ctx, st.PaymentID)
		resp["outcome"] = out
		if err != nil {
			resp["error"] = err.Error()
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}
