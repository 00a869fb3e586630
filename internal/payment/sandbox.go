package payment

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"sync"
	"time"
)

// Sandbox is an in-memory Gateway. Payments are injected with SetPayment,
// either by tests or by the sandbox HTTP endpoint.
type Sandbox struct {
	mu          sync.Mutex
	BaseURL     string
	payments    map[string]Status
	preferences map[string]CheckoutRequest

	// FailCheckout / FailStatus force GatewayErrors.
	FailCheckout bool
	FailStatus   bool
}

func NewSandbox(baseURL string) *Sandbox {
	return &Sandbox{
		BaseURL:     baseURL,
		payments:    make(map[string]Status),
		preferences: make(map[string]CheckoutRequest),
	}
}

var _ Gateway = (*Sandbox)(nil)

func (s *Sandbox) CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailCheckout {
		return Checkout{}, &GatewayError{Op: "create_checkout", Err: errors.New("sandbox: checkout unavailable")}
	}
	id := "pref-" + uuid.NewString()
	s.preferences[id] = req
	return Checkout{
		PreferenceID: id,
		RedirectURL:  fmt.Sprintf("%s/sandbox/checkout/%s", s.BaseURL, id),
	}, nil
}

func (s *Sandbox) PaymentStatus(ctx context.Context, paymentID string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailStatus {
		return Status{}, &GatewayError{Op: "payment_status", Err: errors.New("sandbox: status unavailable")}
	}
	st, ok := s.payments[paymentID]
	if !ok {
		return Status{}, &GatewayError{Op: "payment_status", StatusCode: 404, Err: fmt.Errorf("payment %s not found", paymentID)}
	}
	return st, nil
}

// SetPayment registers or overwrites a payment. An empty PaymentID gets a
// generated one; the stored status is returned.
func (s *Sandbox) SetPayment(st Status) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.PaymentID == "" {
		st.PaymentID = uuid.NewString()
	}
	if st.RawStatus == "" {
		st.RawStatus = string(st.State)
	}
	if st.State == "" {
		st.State = MapStatus(st.RawStatus)
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	s.payments[st.PaymentID] = st
	return st
}

// Preference returns the checkout request a preference was created from.
func (s *Sandbox) Preference(id string) (CheckoutRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.preferences[id]
	return req, ok
}
