package rifa

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/ariefcatur/go-rifa/internal/postgres"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// Runs against a real database when POSTGRES_TEST_DSN is set.
func testPGStore(t *testing.T) *PGStore {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := postgres.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.Migrate(ctx, pool))
	return NewPGStore(pool)
}

func TestPGStore_ConfirmLifecycle(t *testing.T) {
	s := testPGStore(t)
	ctx := context.Background()

	r, err := s.CreateRaffle(ctx, Raffle{Title: "pg", MinNumber: 1, MaxNumber: 10, TicketPriceCents: 1000})
	require.NoError(t, err)
	assert.Equal(t, RaffleOpen, r.Status)

	mk := func(nums ...int) PendingReservation {
		res, err := s.CreateReservation(ctx, PendingReservation{
			ExternalReference: uuid.NewString(), UserID: "u", RaffleID: r.ID, Numbers: nums,
			Contact: Contact{Name: "n", Phone: "p"}, AmountCents: 1000 * len(nums),
		})
		require.NoError(t, err)
		return res
	}
	a, b := mk(3, 7), mk(7, 9)

	_, err = s.CreateReservation(ctx, PendingReservation{
		ExternalReference: a.ExternalReference, UserID: "u", RaffleID: r.ID, Numbers: []int{1},
		Contact: Contact{Name: "n", Phone: "p"}, AmountCents: 1000,
	})
	assert.ErrorIs(t, err, ErrDuplicateReference)

	entry, err := s.ConfirmReservation(ctx, a.ID, "pay-a", 2000, AuditNote{ObservedStatus: "approved"})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 7}, entry.Numbers)

	_, err = s.ConfirmReservation(ctx, b.ID, "pay-b", 2000, AuditNote{ObservedStatus: "approved"})
	var conflict *NumberConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, []int{7}, conflict.Numbers)

	got, err := s.GetReservation(ctx, b.ExternalReference)
	require.NoError(t, err)
	assert.Equal(t, ReservationRejected, got.Status)

	_, err = s.ConfirmReservation(ctx, a.ID, "pay-a", 2000, AuditNote{})
	assert.ErrorIs(t, err, ErrReservationSettled)

	taken, err := s.TakenNumbers(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 7}, taken)

	audit, err := s.ListAudit(ctx, a.ExternalReference)
	require.NoError(t, err)
	require.Len(t, audit, 1, "the settled retry writes no row")
	assert.Equal(t, OutcomeConfirmed, audit[0].Outcome)
	assert.Equal(t, "pay-a", audit[0].PaymentProviderID)

	audit, err = s.ListAudit(ctx, b.ExternalReference)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, OutcomeConflict, audit[0].Outcome)
	assert.Equal(t, "approved", audit[0].ObservedStatus)

	require.NoError(t, s.AppendAudit(ctx, AuditRecord{
		ReservationID: a.ID, ExternalReference: a.ExternalReference, PaymentProviderID: "pay-a",
		ObservedStatus: "approved", Outcome: OutcomeDuplicate,
	}))
	audit, err = s.ListAudit(ctx, a.ExternalReference)
	require.NoError(t, err)
	assert.Len(t, audit, 2)

	stale, err := s.ListStalePending(ctx, time.Now().Add(time.Minute), 0)
	require.NoError(t, err)
	for _, p := range stale {
		assert.Equal(t, ReservationPending, p.Status)
	}
}

func TestPGStore_ConcurrentConfirm(t *testing.T) {
	s := testPGStore(t)
	ctx := context.Background()

	r, err := s.CreateRaffle(ctx, Raffle{Title: "pg-race", MinNumber: 0, MaxNumber: 99, TicketPriceCents: 500})
	require.NoError(t, err)

	const n = 16
	ids := make([]string, n)
	for i := range ids {
		res, err := s.CreateReservation(ctx, PendingReservation{
			ExternalReference: fmt.Sprintf("race-%s-%d", r.ID, i), UserID: "u", RaffleID: r.ID,
			Numbers: []int{42, i + 50}, Contact: Contact{Name: "n", Phone: "p"}, AmountCents: 1000,
		})
		require.NoError(t, err)
		ids[i] = res.ID
	}

	results := make([]error, n)
	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			_, results[i] = s.ConfirmReservation(ctx, id, "pay-"+id, 1000, AuditNote{})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	ok := 0
	for _, err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, IsConflict(err), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, ok)

	entries, err := s.ListEntries(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPGStore_Draw(t *testing.T) {
	s := testPGStore(t)
	ctx := context.Background()

	r, err := s.CreateRaffle(ctx, Raffle{Title: "pg-draw", MinNumber: 1, MaxNumber: 5, TicketPriceCents: 100})
	require.NoError(t, err)
	pick := func(r Raffle, es []ConfirmedEntry) (DrawResult, error) {
		return DrawResult{WinnerEntryID: es[0].ID, WinnerNumber: es[0].Numbers[0]}, nil
	}

	_, err = s.CompleteDraw(ctx, r.ID, pick)
	assert.ErrorIs(t, err, ErrRaffleNotClosed)
	_, err = s.CloseRaffle(ctx, r.ID)
	require.NoError(t, err)
	_, err = s.CompleteDraw(ctx, r.ID, pick)
	assert.ErrorIs(t, err, ErrNoParticipants)

	res, err := s.CreateReservation(ctx, PendingReservation{
		ExternalReference: uuid.NewString(), UserID: "u", RaffleID: r.ID, Numbers: []int{2},
		Contact: Contact{Name: "n", Phone: "p"}, AmountCents: 100,
	})
	require.NoError(t, err)
	entry, err := s.ConfirmReservation(ctx, res.ID, "p", 100, AuditNote{})
	require.NoError(t, err)

	done, err := s.CompleteDraw(ctx, r.ID, pick)
	require.NoError(t, err)
	assert.Equal(t, RaffleCompleted, done.Status)
	assert.Equal(t, entry.ID, done.WinnerEntryID)
	assert.Equal(t, 2, done.WinnerNumber)

	_, err = s.CompleteDraw(ctx, r.ID, pick)
	assert.ErrorIs(t, err, ErrAlreadyDrawn)
}
