package rifa

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRaffle(t *testing.T, s *MemoryStore) Raffle {
	t.Helper()
	r, err := s.CreateRaffle(context.Background(), Raffle{Title: "Rifa", MinNumber: 1, MaxNumber: 10, TicketPriceCents: 1000})
	require.NoError(t, err)
	return r
}

func seedReservation(t *testing.T, s *MemoryStore, raffleID, ref string, numbers ...int) PendingReservation {
	t.Helper()
	res, err := s.CreateReservation(context.Background(), PendingReservation{
		ExternalReference: ref,
		UserID:            "user-" + ref,
		RaffleID:          raffleID,
		Numbers:           numbers,
		Contact:           Contact{Name: "n", Phone: "p"},
		AmountCents:       1000 * len(numbers),
	})
	require.NoError(t, err)
	return res
}

func TestMemoryStore_ReferenceIsUnique(t *testing.T) {
	s := NewMemoryStore()
	r := seedRaffle(t, s)
	seedReservation(t, s, r.ID, "ref-1", 1)

	_, err := s.CreateReservation(context.Background(), PendingReservation{
		ExternalReference: "ref-1", RaffleID: r.ID, Numbers: []int{2},
	})
	assert.ErrorIs(t, err, ErrDuplicateReference)
}

func TestMemoryStore_ConfirmThenConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := seedRaffle(t, s)
	a := seedReservation(t, s, r.ID, "a", 3, 7)
	b := seedReservation(t, s, r.ID, "b", 7, 9)

	entry, err := s.ConfirmReservation(ctx, a.ID, "pay-a", 2000, AuditNote{})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 7}, entry.Numbers)

	_, err = s.ConfirmReservation(ctx, b.ID, "pay-b", 2000, AuditNote{})
	var conflict *NumberConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, []int{7}, conflict.Numbers)

	got, err := s.GetReservation(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, ReservationRejected, got.Status)
	assert.Equal(t, "pay-b", got.PaymentProviderID)

	_, err = s.ConfirmReservation(ctx, a.ID, "pay-a", 2000, AuditNote{})
	assert.ErrorIs(t, err, ErrReservationSettled)

	taken, err := s.TakenNumbers(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 7}, taken)
}

func TestMemoryStore_TransitionsWriteTheirAuditRow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := seedRaffle(t, s)
	a := seedReservation(t, s, r.ID, "a", 1)
	b := seedReservation(t, s, r.ID, "b", 1)
	c := seedReservation(t, s, r.ID, "c", 2)

	_, err := s.ConfirmReservation(ctx, a.ID, "pay-a", 1000, AuditNote{ObservedStatus: "approved", Detail: "amount mismatch"})
	require.NoError(t, err)
	_, err = s.ConfirmReservation(ctx, b.ID, "pay-b", 1000, AuditNote{ObservedStatus: "approved"})
	require.Error(t, err)
	changed, err := s.RejectReservation(ctx, c.ID, "pay-c", AuditNote{ObservedStatus: "rejected"})
	require.NoError(t, err)
	require.True(t, changed)

	// no transition, no row
	_, err = s.ConfirmReservation(ctx, a.ID, "pay-a", 1000, AuditNote{ObservedStatus: "approved"})
	require.ErrorIs(t, err, ErrReservationSettled)
	changed, err = s.RejectReservation(ctx, c.ID, "pay-c", AuditNote{ObservedStatus: "rejected"})
	require.NoError(t, err)
	require.False(t, changed)

	for ref, want := range map[string]AuditRecord{
		"a": {ReservationID: a.ID, PaymentProviderID: "pay-a", ObservedStatus: "approved", Outcome: OutcomeConfirmed, Detail: "amount mismatch"},
		"b": {ReservationID: b.ID, PaymentProviderID: "pay-b", ObservedStatus: "approved", Outcome: OutcomeConflict},
		"c": {ReservationID: c.ID, PaymentProviderID: "pay-c", ObservedStatus: "rejected", Outcome: OutcomeRejected},
	} {
		audit, err := s.ListAudit(ctx, ref)
		require.NoError(t, err)
		require.Len(t, audit, 1, ref)
		got := audit[0]
		assert.Equal(t, want.ReservationID, got.ReservationID, ref)
		assert.Equal(t, ref, got.ExternalReference)
		assert.Equal(t, want.PaymentProviderID, got.PaymentProviderID, ref)
		assert.Equal(t, want.ObservedStatus, got.ObservedStatus, ref)
		assert.Equal(t, want.Outcome, got.Outcome, ref)
		if want.Outcome == OutcomeConflict {
			assert.Contains(t, got.Detail, "already confirmed", ref)
		} else {
			assert.Equal(t, want.Detail, got.Detail, ref)
		}
	}
}

func TestMemoryStore_ConcurrentConfirmNeverDoubleAllocates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := seedRaffle(t, s)

	const n = 20
	others := []int{1, 2, 3, 4, 6, 7, 8, 9, 10}
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = seedReservation(t, s, r.ID, fmt.Sprintf("ref-%d", i), 5, others[i%len(others)]).ID
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	confirmed := 0
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := s.ConfirmReservation(ctx, id, "pay-"+id, 2000, AuditNote{}); err == nil {
				mu.Lock()
				confirmed++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, confirmed)
	entries, err := s.ListEntries(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestMemoryStore_CompleteDrawPreconditions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := seedRaffle(t, s)
	pick := func(Raffle, []ConfirmedEntry) (DrawResult, error) {
		return DrawResult{WinnerEntryID: "x", WinnerNumber: 1}, nil
	}

	_, err := s.CompleteDraw(ctx, r.ID, pick)
	assert.ErrorIs(t, err, ErrRaffleNotClosed)

	_, err = s.CloseRaffle(ctx, r.ID)
	require.NoError(t, err)
	_, err = s.CloseRaffle(ctx, r.ID)
	assert.ErrorIs(t, err, ErrRaffleNotOpen)

	_, err = s.CompleteDraw(ctx, r.ID, pick)
	assert.ErrorIs(t, err, ErrNoParticipants)

	res := seedReservation(t, s, r.ID, "late", 4)
	_, err = s.ConfirmReservation(ctx, res.ID, "pay", 1000, AuditNote{})
	require.NoError(t, err, "closed raffles still accept confirmations of paid reservations")

	done, err := s.CompleteDraw(ctx, r.ID, pick)
	require.NoError(t, err)
	assert.Equal(t, RaffleCompleted, done.Status)
	require.NotNil(t, done.DrawnAt)

	_, err = s.CompleteDraw(ctx, r.ID, pick)
	assert.ErrorIs(t, err, ErrAlreadyDrawn)

	late := seedReservation(t, s, r.ID, "after-draw", 6)
	_, err = s.ConfirmReservation(ctx, late.ID, "pay-2", 1000, AuditNote{})
	assert.ErrorIs(t, err, ErrAlreadyDrawn)
	got, _ := s.GetReservation(ctx, "after-draw")
	assert.Equal(t, ReservationRejected, got.Status)
}

func TestMemoryStore_ListStalePending(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := seedRaffle(t, s)
	old := seedReservation(t, s, r.ID, "old", 1)
	seedReservation(t, s, r.ID, "done", 2)
	_, err := s.ConfirmReservation(ctx, s.byReference["done"], "p", 1000, AuditNote{})
	require.NoError(t, err)

	stale, err := s.ListStalePending(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)

	stale, err = s.ListStalePending(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, stale)
}
