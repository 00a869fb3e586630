package rifa

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for local runs and tests. A single mutex
// stands in for the row locks and unique keys of the Postgres schema.
type MemoryStore struct {
	mu           sync.Mutex
	raffles      map[string]Raffle
	reservations map[string]PendingReservation // by id
	byReference  map[string]string             // external_reference -> id
	entries      map[string][]ConfirmedEntry    // by raffle
	numbers      map[string]map[int]string      // raffle -> number -> entry id
	audit        []AuditRecord
	now          func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		raffles:      make(map[string]Raffle),
		reservations: make(map[string]PendingReservation),
		byReference:  make(map[string]string),
		entries:      make(map[string][]ConfirmedEntry),
		numbers:      make(map[string]map[int]string),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

var _ Store = (*MemoryStore)(nil)

func cloneInts(ns []int) []int { return append([]int(nil), ns...) }

func cloneReservation(r PendingReservation) PendingReservation {
	r.Numbers = cloneInts(r.Numbers)
	return r
}

func cloneEntry(e ConfirmedEntry) ConfirmedEntry {
	e.Numbers = cloneInts(e.Numbers)
	return e
}

func (s *MemoryStore) CreateRaffle(ctx context.Context, r Raffle) (Raffle, error) {
	r.Status = RaffleOpen
	if err := ValidateRaffle(r); err != nil {
		return Raffle{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, ok := s.raffles[r.ID]; ok {
		return Raffle{}, fmt.Errorf("raffle %s already exists", r.ID)
	}
	now := s.now()
	r.CreatedAt, r.UpdatedAt = now, now
	s.raffles[r.ID] = r
	return r, nil
}

func (s *MemoryStore) GetRaffle(ctx context.Context, id string) (Raffle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.raffles[id]
	if !ok {
		return Raffle{}, ErrRaffleNotFound
	}
	return r, nil
}

func (s *MemoryStore) ListRaffles(ctx context.Context, status RaffleStatus) ([]Raffle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Raffle
	for _, r := range s.raffles {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CloseRaffle(ctx context.Context, id string) (Raffle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.raffles[id]
	if !ok {
		return Raffle{}, ErrRaffleNotFound
	}
	if !CanTransitionRaffle(r.Status, RaffleClosed) {
		return r, fmt.Errorf("close raffle %s (%s): %w", id, r.Status, ErrRaffleNotOpen)
	}
	r.Status = RaffleClosed
	r.UpdatedAt = s.now()
	s.raffles[id] = r
	return r, nil
}

func (s *MemoryStore) CompleteDraw(ctx context.Context, raffleID string, choose ChooseWinner) (Raffle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.raffles[raffleID]
	if !ok {
		return Raffle{}, ErrRaffleNotFound
	}
	switch r.Status {
	case RaffleCompleted:
		return r, ErrAlreadyDrawn
	case RaffleOpen:
		return r, ErrRaffleNotClosed
	}
	entries := s.entries[raffleID]
	if len(entries) == 0 {
		return r, ErrNoParticipants
	}
	snapshot := make([]ConfirmedEntry, len(entries))
	for i, e := range entries {
		snapshot[i] = cloneEntry(e)
	}

	res, err := choose(r, snapshot)
	if err != nil {
		return r, err
	}
	if res.DrawnAt.IsZero() {
		res.DrawnAt = s.now()
	}
	drawnAt := res.DrawnAt
	r.Status = RaffleCompleted
	r.WinnerEntryID = res.WinnerEntryID
	r.WinnerNumber = res.WinnerNumber
	r.DrawnAt = &drawnAt
	r.UpdatedAt = s.now()
	s.raffles[raffleID] = r
	return r, nil
}

func (s *MemoryStore) CreateReservation(ctx context.Context, in PendingReservation) (PendingReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.byReference[in.ExternalReference]; dup {
		return PendingReservation{}, ErrDuplicateReference
	}
	if _, ok := s.raffles[in.RaffleID]; !ok {
		return PendingReservation{}, ErrRaffleNotFound
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	now := s.now()
	in.Status = ReservationPending
	in.CreatedAt, in.UpdatedAt = now, now
	in = cloneReservation(in)
	s.reservations[in.ID] = in
	s.byReference[in.ExternalReference] = in.ID
	return cloneReservation(in), nil
}

func (s *MemoryStore) GetReservation(ctx context.Context, externalReference string) (PendingReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byReference[externalReference]
	if !ok {
		return PendingReservation{}, ErrReservationNotFound
	}
	return cloneReservation(s.reservations[id]), nil
}

func (s *MemoryStore) AttachPreference(ctx context.Context, id, preferenceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[id]
	if !ok {
		return ErrReservationNotFound
	}
	r.PreferenceID = preferenceID
	r.UpdatedAt = s.now()
	s.reservations[id] = r
	return nil
}

func (s *MemoryStore) RecordPayment(ctx context.Context, id, paymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[id]
	if !ok || r.Status != ReservationPending {
		return nil
	}
	r.PaymentProviderID = paymentID
	r.UpdatedAt = s.now()
	s.reservations[id] = r
	return nil
}

func (s *MemoryStore) RejectReservation(ctx context.Context, id, paymentID string, note AuditNote) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed, err := s.rejectLocked(id, paymentID)
	if changed {
		s.appendLocked(note.record(s.reservations[id], paymentID, OutcomeRejected, note.Detail))
	}
	return changed, err
}

func (s *MemoryStore) rejectLocked(id, paymentID string) (bool, error) {
	r, ok := s.reservations[id]
	if !ok {
		return false, ErrReservationNotFound
	}
	if r.Status != ReservationPending {
		return false, nil
	}
	r.Status = ReservationRejected
	if paymentID != "" {
		r.PaymentProviderID = paymentID
	}
	r.UpdatedAt = s.now()
	s.reservations[id] = r
	return true, nil
}

func (s *MemoryStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]PendingReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []PendingReservation
	for _, r := range s.reservations {
		if r.Status == ReservationPending && r.CreatedAt.Before(before) {
			out = append(out, cloneReservation(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ConfirmReservation(ctx context.Context, reservationID, paymentID string, amountCents int, note AuditNote) (ConfirmedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[reservationID]
	if !ok {
		return ConfirmedEntry{}, ErrReservationNotFound
	}
	raf, ok := s.raffles[res.RaffleID]
	if !ok {
		return ConfirmedEntry{}, ErrRaffleNotFound
	}
	if res.Status.Terminal() {
		return ConfirmedEntry{}, ErrReservationSettled
	}
	if raf.Status == RaffleCompleted {
		_, _ = s.rejectLocked(res.ID, paymentID)
		s.appendLocked(note.record(res, paymentID, OutcomeRejected, ErrAlreadyDrawn.Error()))
		return ConfirmedEntry{}, ErrAlreadyDrawn
	}

	owned := s.numbers[res.RaffleID]
	if owned == nil {
		owned = make(map[int]string)
		s.numbers[res.RaffleID] = owned
	}
	var conflict []int
	for _, n := range res.Numbers {
		if _, taken := owned[n]; taken {
			conflict = append(conflict, n)
		}
	}
	if len(conflict) > 0 {
		sort.Ints(conflict)
		_, _ = s.rejectLocked(res.ID, paymentID)
		cerr := &NumberConflictError{RaffleID: res.RaffleID, Numbers: conflict}
		s.appendLocked(note.record(res, paymentID, OutcomeConflict, cerr.Error()))
		return ConfirmedEntry{}, cerr
	}

	entry := ConfirmedEntry{
		ID:                uuid.NewString(),
		ReservationID:     res.ID,
		UserID:            res.UserID,
		RaffleID:          res.RaffleID,
		Numbers:           cloneInts(res.Numbers),
		PaymentProviderID: paymentID,
		AmountCents:       amountCents,
		CreatedAt:         s.now(),
	}
	for _, n := range entry.Numbers {
		owned[n] = entry.ID
	}
	s.entries[res.RaffleID] = append(s.entries[res.RaffleID], entry)

	res.Status = ReservationProcessed
	res.PaymentProviderID = paymentID
	res.UpdatedAt = s.now()
	s.reservations[res.ID] = res
	s.appendLocked(note.record(res, paymentID, OutcomeConfirmed, note.Detail))
	return cloneEntry(entry), nil
}

func (s *MemoryStore) ListEntries(ctx context.Context, raffleID string) ([]ConfirmedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ConfirmedEntry, 0, len(s.entries[raffleID]))
	for _, e := range s.entries[raffleID] {
		out = append(out, cloneEntry(e))
	}
	return out, nil
}

func (s *MemoryStore) TakenNumbers(ctx context.Context, raffleID string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]int, 0, len(s.numbers[raffleID]))
	for n := range s.numbers[raffleID] {
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

func (s *MemoryStore) AppendAudit(ctx context.Context, rec AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(rec)
	return nil
}

func (s *MemoryStore) appendLocked(rec AuditRecord) {
	rec.ID = int64(len(s.audit) + 1)
	rec.CreatedAt = s.now()
	s.audit = append(s.audit, rec)
}


func (s *MemoryStore) ListAudit(ctx context.Context, externalReference string) ([]AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []AuditRecord
	for _, a := range s.audit {
		if a.ExternalReference == externalReference {
			out = append(out, a)
		}
	}
	return out, nil
}
