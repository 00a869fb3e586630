package draw

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/go-rifa/internal/logging"
	"github.com/ariefcatur/go-rifa/internal/rifa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func seed(t *testing.T, s *rifa.MemoryStore, raffleID, ref string, nums ...int) rifa.ConfirmedEntry {
	t.Helper()
	ctx := context.Background()
	res, err := s.CreateReservation(ctx, rifa.PendingReservation{
		ExternalReference: ref, UserID: "user-" + ref, RaffleID: raffleID, Numbers: nums,
		Contact: rifa.Contact{Name: "n", Phone: "p"},
	})
	require.NoError(t, err)
	e, err := s.ConfirmReservation(ctx, res.ID, "pay-"+ref, 100, rifa.AuditNote{})
	require.NoError(t, err)
	return e
}

func newEngine(s *rifa.MemoryStore) *Engine {
	return &Engine{Store: s, Log: logging.Discard(), Service: "test"}
}

func TestDraw_Preconditions(t *testing.T) {
	ctx := context.Background()
	s := rifa.NewMemoryStore()
	r, err := s.CreateRaffle(ctx, rifa.Raffle{Title: "r", MinNumber: 1, MaxNumber: 10, TicketPriceCents: 100})
	require.NoError(t, err)
	eng := newEngine(s)

	_, err = eng.Draw(ctx, "missing")
	assert.ErrorIs(t, err, rifa.ErrRaffleNotFound)

	_, err = eng.Draw(ctx, r.ID)
	assert.ErrorIs(t, err, rifa.ErrRaffleNotClosed)

	_, err = eng.Close(ctx, r.ID)
	require.NoError(t, err)
	_, err = eng.Draw(ctx, r.ID)
	assert.ErrorIs(t, err, rifa.ErrNoParticipants)

	got, err := s.GetRaffle(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, rifa.RaffleClosed, got.Status, "failed draw leaves the raffle closed")

	seed(t, s, r.ID, "a", 3, 7)
	res, err := eng.Draw(ctx, r.ID)
	require.NoError(t, err)
	assert.Contains(t, []int{3, 7}, res.WinningNumber)
	assert.Equal(t, "user-a", res.UserID)

	_, err = eng.Draw(ctx, r.ID)
	assert.ErrorIs(t, err, rifa.ErrAlreadyDrawn)
}

func TestDraw_PicksEntryThenNumber(t *testing.T) {
	ctx := context.Background()
	s := rifa.NewMemoryStore()
	r, err := s.CreateRaffle(ctx, rifa.Raffle{Title: "r", MinNumber: 1, MaxNumber: 10, TicketPriceCents: 100})
	require.NoError(t, err)
	seed(t, s, r.ID, "a", 1)
	b := seed(t, s, r.ID, "b", 4, 5, 6)
	_, err = s.CloseRaffle(ctx, r.ID)
	require.NoError(t, err)

	drawnAt := time.Date(2024, 12, 24, 20, 0, 0, 0, time.UTC)
	eng := newEngine(s)
	eng.Now = func() time.Time { return drawnAt }
	eng.IntN = func(n int) int { return n - 1 }

	res, err := eng.Draw(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, res.WinningEntryID)
	assert.Equal(t, 6, res.WinningNumber)
	assert.Equal(t, drawnAt, res.DrawnAt)

	got, err := s.GetRaffle(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, rifa.RaffleCompleted, got.Status)
	assert.Equal(t, b.ID, got.WinnerEntryID)
	assert.Equal(t, 6, got.WinnerNumber)
}

func TestDraw_ConcurrentTriggersCompleteOnce(t *testing.T) {
	ctx := context.Background()
	s := rifa.NewMemoryStore()
	r, err := s.CreateRaffle(ctx, rifa.Raffle{Title: "r", MinNumber: 1, MaxNumber: 10, TicketPriceCents: 100})
	require.NoError(t, err)
	seed(t, s, r.ID, "a", 2)
	_, err = s.CloseRaffle(ctx, r.ID)
	require.NoError(t, err)
	eng := newEngine(s)

	results := make([]error, 8)
	var g errgroup.Group
	for i := range results {
		i := i
		g.Go(func() error {
			_, results[i] = eng.Draw(ctx, r.ID)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	won := 0
	for _, err := range results {
		if err == nil {
			won++
			continue
		}
		assert.ErrorIs(t, err, rifa.ErrAlreadyDrawn)
	}
	assert.Equal(t, 1, won)
}
