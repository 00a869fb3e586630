package rifa

import "time"

type Raffle struct {
	ID               string       `json:"id"`
	Title            string       `json:"title"`
	MinNumber        int          `json:"min_number"`
	MaxNumber        int          `json:"max_number"`
	TicketPriceCents int          `json:"ticket_price_cents"`
	Status           RaffleStatus `json:"status"`
	WinnerEntryID    string       `json:"winner_entry_id,omitempty"`
	WinnerNumber     int          `json:"winner_number,omitempty"`
	DrawnAt          *time.Time   `json:"drawn_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Size is the count of numbers in the inclusive range.
func (r Raffle) Size() int { return r.MaxNumber - r.MinNumber + 1 }

func (r Raffle) Contains(n int) bool { return n >= r.MinNumber && n <= r.MaxNumber }

type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type PendingReservation struct {
	ID                string            `json:"id"`
	ExternalReference string            `json:"external_reference"`
	UserID            string            `json:"user_id"`
	RaffleID          string            `json:"raffle_id"`
	Numbers           []int             `json:"numbers"`
	Contact           Contact           `json:"contact"`
	AmountCents       int               `json:"amount_cents"`
	Status            ReservationStatus `json:"status"`
	PreferenceID      string            `json:"preference_id,omitempty"`
	PaymentProviderID string            `json:"payment_provider_id,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// ConfirmedEntry is immutable once written; it is the source of truth
// for number ownership inside a raffle.
type ConfirmedEntry struct {
	ID                string    `json:"id"`
	ReservationID     string    `json:"reservation_id"`
	UserID            string    `json:"user_id"`
	RaffleID          string    `json:"raffle_id"`
	Numbers           []int     `json:"numbers"`
	PaymentProviderID string    `json:"payment_provider_id"`
	AmountCents       int       `json:"amount_cents"`
	CreatedAt         time.Time `json:"created_at"`
}

type AuditOutcome string

const (
	OutcomeConfirmed AuditOutcome = "CONFIRMED"
	OutcomePending   AuditOutcome = "PENDING"
	OutcomeRejected  AuditOutcome = "REJECTED"
	OutcomeConflict  AuditOutcome = "NUMBER_CONFLICT"
	OutcomeDuplicate AuditOutcome = "DUPLICATE"
	OutcomeFailed    AuditOutcome = "FAILED"
)

type AuditRecord struct {
	ID                int64        `json:"id"`
	ReservationID     string       `json:"reservation_id"`
	ExternalReference string       `json:"external_reference"`
	PaymentProviderID string       `json:"payment_provider_id"`
	ObservedStatus    string       `json:"observed_status"`
	Outcome           AuditOutcome `json:"outcome"`
	Detail            string       `json:"detail,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
}

// DrawResult is what gets persisted when a closed raffle completes.
type DrawResult struct {
	WinnerEntryID string
	WinnerNumber  int
	DrawnAt       time.Time
}
