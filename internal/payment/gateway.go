// Package payment is the boundary to the external payment provider. Nothing
// here persists state.
package payment

import (
	"context"
	"fmt"
	"time"
)

type State string

const (
	StateApproved State = "approved"
	StatePending  State = "pending"
	StateRejected State = "rejected"
)

type CheckoutRequest struct {
	Description       string
	AmountCents       int
	Quantity          int
	ExternalReference string
	NotifyURL         string
}

type Checkout struct {
	PreferenceID string `json:"preference_id"`
	RedirectURL  string `json:"redirect_url"`
}

// Status is the provider's authoritative view of a payment.
type Status struct {
	PaymentID         string
	State             State
	RawStatus         string // provider status before mapping, e.g. "in_process"
	ExternalReference string
	AmountCents       int
	CreatedAt         time.Time
}

type Gateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error)
	PaymentStatus(ctx context.Context, paymentID string) (Status, error)
}

// GatewayError wraps any failure talking to the provider. Callers must not
// infer a payment state from it.
type GatewayError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("payment gateway %s: http %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("payment gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// MapStatus folds provider statuses into the three states the reconciler acts on.
func MapStatus(raw string) State {
	switch raw {
	case "approved":
		return StateApproved
	case "rejected", "cancelled", "refunded", "charged_back":
		return StateRejected
	default: // pending, in_process, authorized, in_mediation, unknown
		return StatePending
	}
}
