package rifa

import (
	"context"
	"time"
)

type RaffleStore interface {
	CreateRaffle(ctx context.Context, r Raffle) (Raffle, error)
	GetRaffle(ctx context.Context, id string) (Raffle, error)
	// ListRaffles lists every raffle when status is empty.
	ListRaffles(ctx context.Context, status RaffleStatus) ([]Raffle, error)
	CloseRaffle(ctx context.Context, id string) (Raffle, error)
	// CompleteDraw locks the raffle, hands its entries to choose and persists the
	// result as one unit. Nothing is written when choose fails.
	CompleteDraw(ctx context.Context, raffleID string, choose ChooseWinner) (Raffle, error)
}

type ChooseWinner func(r Raffle, entries []ConfirmedEntry) (DrawResult, error)

type ReservationStore interface {
	CreateReservation(ctx context.Context, r PendingReservation) (PendingReservation, error)
	GetReservation(ctx context.Context, externalReference string) (PendingReservation, error)
	AttachPreference(ctx context.Context, id, preferenceID string) error
	// RecordPayment stores the provider payment id while the reservation is pending.
	RecordPayment(ctx context.Context, id, paymentID string) error
	// RejectReservation moves a pending reservation to rejected and writes its
	// REJECTED audit row in the same transaction. It reports false, writing
	// nothing, when the reservation was already terminal.
	RejectReservation(ctx context.Context, id, paymentID string, note AuditNote) (bool, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]PendingReservation, error)
}

type EntryStore interface {
	// ConfirmReservation creates the entry and marks the reservation processed
	// in one transaction. Returns *NumberConflictError (reservation rejected),
	// ErrAlreadyDrawn (reservation rejected) or ErrReservationSettled. Every
	// path that changes the reservation writes its audit row (CONFIRMED,
	// NUMBER_CONFLICT or REJECTED) in the same transaction; ErrReservationSettled
	// writes nothing.
	ConfirmReservation(ctx context.Context, reservationID, paymentID string, amountCents int, note AuditNote) (ConfirmedEntry, error)
	ListEntries(ctx context.Context, raffleID string) ([]ConfirmedEntry, error)
	TakenNumbers(ctx context.Context, raffleID string) ([]int, error)
}

type AuditStore interface {
	AppendAudit(ctx context.Context, rec AuditRecord) error
	ListAudit(ctx context.Context, externalReference string) ([]AuditRecord, error)
}

// AuditNote is what the caller observed. The store completes it into the audit
// row written together with a reservation transition.
type AuditNote struct {
	ObservedStatus string
	Detail         string
}

func (n AuditNote) record(res PendingReservation, paymentID string, outcome AuditOutcome, detail string) AuditRecord {
	if paymentID == "" {
		paymentID = res.PaymentProviderID
	}
	return AuditRecord{
		ReservationID:     res.ID,
		ExternalReference: res.ExternalReference,
		PaymentProviderID: paymentID,
		ObservedStatus:    n.ObservedStatus,
		Outcome:           outcome,
		Detail:            detail,
	}
}

type Store interface {
	RaffleStore
	ReservationStore
	EntryStore
	AuditStore
}
