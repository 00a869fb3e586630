package httpx

import (
	"errors"
	"github.com/ariefcatur/go-rifa/internal/payment"
	"github.com/ariefcatur/go-rifa/internal/reconcile"
	"github.com/ariefcatur/go-rifa/internal/rifa"
	"github.com/sirupsen/logrus"
	"net/http"
)

type errorBody struct {
	Error             string `json:"error"`
	Field             string `json:"field,omitempty"`
	ExternalReference string `json:"external_reference,omitempty"`
	Numbers           []int  `json:"numbers,omitempty"`
}

func statusFor(err error) int {
	var (
		valErr      *rifa.ValidationError
		conflictErr *rifa.NumberConflictError
		gwErr       *payment.GatewayError
	)
	switch {
	case errors.As(err, &valErr):
		return http.StatusBadRequest
	case errors.Is(err, rifa.ErrRaffleNotFound), errors.Is(err, rifa.ErrReservationNotFound):
		return http.StatusNotFound
	case errors.As(err, &conflictErr),
		errors.Is(err, rifa.ErrRaffleNotOpen),
		errors.Is(err, rifa.ErrRaffleNotClosed),
		errors.Is(err, rifa.ErrAlreadyDrawn),
		errors.Is(err, rifa.ErrNoParticipants),
		errors.Is(err, rifa.ErrDuplicateReference),
		errors.Is(err, rifa.ErrReservationSettled):
		return http.StatusConflict
	case errors.As(err, &gwErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps domain errors to HTTP. Internal errors are logged and
// replaced with a generic message.
func writeError(w http.ResponseWriter, log *logrus.Entry, err error) {
	code := statusFor(err)
	body := errorBody{Error: err.Error()}

	var (
		valErr      *rifa.ValidationError
		conflictErr *rifa.NumberConflictError
		coErr       *reconcile.CheckoutError
	)
	if errors.As(err, &valErr) {
		body.Field = valErr.Field
	}
	if errors.As(err, &conflictErr) {
		body.Numbers = conflictErr.Numbers
	}
	if errors.As(err, &coErr) {
		body.ExternalReference = coErr.Reference
	}
	if code == http.StatusInternalServerError {
		log.WithError(err).Error("request failed")
		body = errorBody{Error: "internal error"}
	}
	writeJSON(w, code, body)
}
