package rifa

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/google/uuid"
	"time"
)

const (
	EventReservationCreated  = "ReservationCreated"
	EventEntryConfirmed      = "EntryConfirmed"
	EventReservationRejected = "ReservationRejected"
	EventRaffleClosed        = "RaffleClosed"
	EventRaffleDrawn         = "RaffleDrawn"
)

const (
	ReasonPaymentRejected = "PAYMENT_REJECTED"
	ReasonNumberConflict  = "NUMBER_CONFLICT"
	ReasonRaffleCompleted = "RAFFLE_COMPLETED"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // external_reference or raffle_id
	Payload       json.RawMessage `json:"payload"`
}

type ReservationCreatedPayload struct {
	ExternalReference string `json:"external_reference"`
	RaffleID          string `json:"raffle_id"`
	UserID            string `json:"user_id"`
	Numbers           []int  `json:"numbers"`
	AmountCents       int    `json:"amount_cents"`
}

type EntryConfirmedPayload struct {
	EntryID           string `json:"entry_id"`
	ExternalReference string `json:"external_reference"`
	RaffleID          string `json:"raffle_id"`
	UserID            string `json:"user_id"`
	Numbers           []int  `json:"numbers"`
	PaymentID         string `json:"payment_id"`
	AmountCents       int    `json:"amount_cents"`
}

// ReservationRejectedPayload with RefundRequired set needs a human to refund the payment.
type ReservationRejectedPayload struct {
	ExternalReference string  `json:"external_reference"`
	RaffleID          string  `json:"raffle_id"`
	UserID            string  `json:"user_id"`
	Contact           Contact `json:"contact"`
	PaymentID         string  `json:"payment_id"`
	AmountCents       int     `json:"amount_cents"`
	Reason            string  `json:"reason"`
	ConflictNumbers   []int   `json:"conflict_numbers,omitempty"`
	RefundRequired    bool    `json:"refund_required"`
}

type RaffleClosedPayload struct {
	RaffleID string `json:"raffle_id"`
	Title    string `json:"title"`
}

type RaffleDrawnPayload struct {
	RaffleID       string    `json:"raffle_id"`
	Title          string    `json:"title"`
	WinningEntryID string    `json:"winning_entry_id"`
	WinningNumber  int       `json:"winning_number"`
	WinnerUserID   string    `json:"winner_user_id"`
	DrawnAt        time.Time `json:"drawn_at"`
}

// Publisher hands domain events to the broker. Events of one raffle share a
// partition, so raffleID doubles as the ordering key.
type Publisher interface {
	Publish(ctx context.Context, raffleID string, env Envelope) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Envelope) error { return nil }

// NewEnvelope wraps payload in a v1 envelope with a fresh event id.
func NewEnvelope(eventType, producer, correlationID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}
