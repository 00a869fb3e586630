package rifa

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type EntryRepo struct{ DB *pgxpool.Pool }

const entryColumns = `id, reservation_id, user_id, raffle_id, numbers, payment_provider_id, amount_cents, created_at`

func scanEntry(row pgx.Row) (ConfirmedEntry, error) {
	var e ConfirmedEntry
	var numbers []int32
	if err := row.Scan(&e.ID, &e.ReservationID, &e.UserID, &e.RaffleID, &numbers,
		&e.PaymentProviderID, &e.AmountCents, &e.CreatedAt); err != nil {
		return ConfirmedEntry{}, err
	}
	e.Numbers = toInts(numbers)
	return e, nil
}

func listEntries(ctx context.Context, q querier, raffleID string) ([]ConfirmedEntry, error) {
	rows, err := q.Query(ctx, `SELECT `+entryColumns+` FROM confirmed_entries
		WHERE raffle_id=$1 ORDER BY created_at, id`, raffleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConfirmedEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *EntryRepo) ListEntries(ctx context.Context, raffleID string) ([]ConfirmedEntry, error) {
	return listEntries(ctx, r.DB, raffleID)
}

func (r *EntryRepo) TakenNumbers(ctx context.Context, raffleID string) ([]int, error) {
	rows, err := r.DB.Query(ctx, `SELECT number FROM confirmed_entry_numbers WHERE raffle_id=$1 ORDER BY number`, raffleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ConfirmReservation: lock raffle (FOR UPDATE) -> lock reservation -> conflict
// check -> insert entry + one row per number -> mark PROCESSED. The raffle lock
// serialises confirmations and draws of the same raffle across processes; the
// (raffle_id, number) primary key is the backstop if anything bypasses it.
func (r *EntryRepo) ConfirmReservation(ctx context.Context, reservationID, paymentID string, amountCents int, note AuditNote) (ConfirmedEntry, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ConfirmedEntry{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var raffleID string
	err = tx.QueryRow(ctx, `SELECT raffle_id FROM pending_reservations WHERE id=$1`, reservationID).Scan(&raffleID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ConfirmedEntry{}, ErrReservationNotFound
	}
	if err != nil {
		return ConfirmedEntry{}, err
	}

	var raffleStatus string
	if err := tx.QueryRow(ctx, `SELECT status FROM raffles WHERE id=$1 FOR UPDATE`, raffleID).Scan(&raffleStatus); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ConfirmedEntry{}, ErrRaffleNotFound
		}
		return ConfirmedEntry{}, err
	}

	res, err := scanReservation(tx.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM pending_reservations WHERE id=$1 FOR UPDATE`, reservationID))
	if err != nil {
		return ConfirmedEntry{}, err
	}
	if res.Status.Terminal() {
		return ConfirmedEntry{}, ErrReservationSettled
	}

	if RaffleStatus(raffleStatus) == RaffleCompleted {
		rec := note.record(res, paymentID, OutcomeRejected, ErrAlreadyDrawn.Error())
		if err := rejectAndCommit(ctx, tx, res.ID, paymentID, rec); err != nil {
			return ConfirmedEntry{}, err
		}
		return ConfirmedEntry{}, ErrAlreadyDrawn
	}

	rows, err := tx.Query(ctx, `SELECT number FROM confirmed_entry_numbers
		WHERE raffle_id=$1 AND number = ANY($2) ORDER BY number`, raffleID, toInt32s(res.Numbers))
	if err != nil {
		return ConfirmedEntry{}, err
	}
	taken, err := pgx.CollectRows(rows, pgx.RowTo[int32])
	if err != nil {
		return ConfirmedEntry{}, err
	}
	if len(taken) > 0 {
		cerr := &NumberConflictError{RaffleID: raffleID, Numbers: toInts(taken)}
		if err := rejectAndCommit(ctx, tx, res.ID, paymentID, note.record(res, paymentID, OutcomeConflict, cerr.Error())); err != nil {
			return ConfirmedEntry{}, err
		}
		return ConfirmedEntry{}, cerr
	}

	entry, err := scanEntry(tx.QueryRow(ctx, `
		INSERT INTO confirmed_entries(id, reservation_id, user_id, raffle_id, numbers, payment_provider_id, amount_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+entryColumns,
		uuid.NewString(), res.ID, res.UserID, raffleID, toInt32s(res.Numbers), paymentID, amountCents))
	if err != nil {
		return ConfirmedEntry{}, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO confirmed_entry_numbers(raffle_id, number, entry_id)
		SELECT $1, n, $3 FROM unnest($2::int[]) AS n`,
		raffleID, toInt32s(res.Numbers), entry.ID); err != nil {
		if isUniqueViolation(err) {
			// tx is aborted; settle the reservation in a fresh one
			_ = tx.Rollback(ctx)
			cerr := &NumberConflictError{RaffleID: raffleID, Numbers: res.Numbers}
			rec := note.record(res, paymentID, OutcomeConflict, cerr.Error())
			if rerr := pgx.BeginFunc(ctx, r.DB, func(tx pgx.Tx) error {
				changed, err := rejectReservation(ctx, tx, res.ID, paymentID)
				if err != nil || !changed {
					return err
				}
				return insertAudit(ctx, tx, rec)
			}); rerr != nil {
				return ConfirmedEntry{}, rerr
			}
			return ConfirmedEntry{}, cerr
		}
		return ConfirmedEntry{}, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE pending_reservations SET status='PROCESSED', payment_provider_id=$2, updated_at=now()
		WHERE id=$1 AND status='PENDING'`, res.ID, paymentID); err != nil {
		return ConfirmedEntry{}, err
	}
	if err := insertAudit(ctx, tx, note.record(res, paymentID, OutcomeConfirmed, note.Detail)); err != nil {
		return ConfirmedEntry{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ConfirmedEntry{}, err
	}
	return entry, nil
}

func rejectAndCommit(ctx context.Context, tx pgx.Tx, reservationID, paymentID string, rec AuditRecord) error {
	if _, err := rejectReservation(ctx, tx, reservationID, paymentID); err != nil {
		return err
	}
	if err := insertAudit(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
