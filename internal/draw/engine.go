package draw

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-rifa/internal/metrics"
	"github.com/ariefcatur/go-rifa/internal/rifa"
	"github.com/sirupsen/logrus"
	"math/rand/v2"
	"time"
)

type Result struct {
	RaffleID       string    `json:"raffle_id"`
	WinningEntryID string    `json:"winning_entry_id"`
	WinningNumber  int       `json:"winning_number"`
	UserID         string    `json:"user_id"`
	DrawnAt        time.Time `json:"drawn_at"`
}

type Engine struct {
	Store   rifa.RaffleStore
	Events  rifa.Publisher
	Log     *logrus.Entry
	Service string
	// IntN returns a uniform int in [0,n). Defaults to math/rand/v2.
	IntN func(n int) int
	Now  func() time.Time
}

func (e *Engine) intN(n int) int {
	if e.IntN != nil {
		return e.IntN(n)
	}
	return rand.IntN(n)
}

func (e *Engine) logger() *logrus.Entry {
	if e.Log != nil {
		return e.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// Draw picks a winner among the confirmed entries of a closed raffle: an entry
// uniformly, then one of its numbers uniformly. Selection and the
// closed -> completed transition happen under the same raffle lock.
func (e *Engine) Draw(ctx context.Context, raffleID string) (Result, error) {
	var res Result
	var drawnUser string
	raffle, err := e.Store.CompleteDraw(ctx, raffleID, func(r rifa.Raffle, entries []rifa.ConfirmedEntry) (rifa.DrawResult, error) {
		if len(entries) == 0 {
			return rifa.DrawResult{}, rifa.ErrNoParticipants
		}
		winner := entries[e.intN(len(entries))]
		if len(winner.Numbers) == 0 {
			return rifa.DrawResult{}, fmt.Errorf("entry %s has no numbers", winner.ID)
		}
		drawnUser = winner.UserID
		out := rifa.DrawResult{
			WinnerEntryID: winner.ID,
			WinnerNumber:  winner.Numbers[e.intN(len(winner.Numbers))],
		}
		if e.Now != nil {
			out.DrawnAt = e.Now()
		}
		return out, nil
	})
	if err != nil {
		metrics.RecordDraw(drawLabel(err))
		return res, err
	}

	res = Result{
		RaffleID:       raffle.ID,
		WinningEntryID: raffle.WinnerEntryID,
		WinningNumber:  raffle.WinnerNumber,
		UserID:         drawnUser,
	}
	if raffle.DrawnAt != nil {
		res.DrawnAt = *raffle.DrawnAt
	}
	metrics.RecordDraw("completed")
	e.logger().WithFields(logrus.Fields{
		"raffle_id": raffle.ID,
		"entry_id":  res.WinningEntryID,
		"number":    res.WinningNumber,
	}).Info("raffle drawn")

	e.publish(ctx, raffle.ID, rifa.EventRaffleDrawn, rifa.RaffleDrawnPayload{
		RaffleID:       raffle.ID,
		Title:          raffle.Title,
		WinningEntryID: res.WinningEntryID,
		WinningNumber:  res.WinningNumber,
		WinnerUserID:   res.UserID,
		DrawnAt:        res.DrawnAt,
	})
	return res, nil
}

// Close stops a raffle from accepting new checkouts. Reservations already
// paid can still be confirmed until the draw.
func (e *Engine) Close(ctx context.Context, raffleID string) (rifa.Raffle, error) {
	r, err := e.Store.CloseRaffle(ctx, raffleID)
	if err != nil {
		return r, err
	}
	e.logger().WithField("raffle_id", r.ID).Info("raffle closed")
	e.publish(ctx, r.ID, rifa.EventRaffleClosed, rifa.RaffleClosedPayload{RaffleID: r.ID, Title: r.Title})
	return r, nil
}

func (e *Engine) publish(ctx context.Context, raffleID, eventType string, payload any) {
	if e.Events == nil {
		return
	}
	env, err := rifa.NewEnvelope(eventType, e.Service, raffleID, payload)
	if err == nil {
		err = e.Events.Publish(ctx, raffleID, env)
	}
	if err != nil {
		e.logger().WithError(err).WithField("event_type", eventType).Error("publish event failed")
	}
}

func drawLabel(err error) string {
	switch {
	case errors.Is(err, rifa.ErrRaffleNotClosed):
		return "not_closed"
	case errors.Is(err, rifa.ErrAlreadyDrawn):
		return "already_drawn"
	case errors.Is(err, rifa.ErrNoParticipants):
		return "no_participants"
	case errors.Is(err, rifa.ErrRaffleNotFound):
		return "not_found"
	default:
		return "error"
	}
}
