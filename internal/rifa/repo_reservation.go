package rifa

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"time"
)

// SQLSTATE unique_violation.
const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func toInt32s(ns []int) []int32 {
	out := make([]int32, len(ns))
	for i, n := range ns {
		out[i] = int32(n)
	}
	return out
}

func toInts(ns []int32) []int {
	out := make([]int, len(ns))
	for i, n := range ns {
		out[i] = int(n)
	}
	return out
}

type ReservationRepo struct{ DB *pgxpool.Pool }

const reservationColumns = `id, external_reference, user_id, raffle_id, numbers, contact_name, contact_phone,
	amount_cents, status, COALESCE(preference_id, ''), COALESCE(payment_provider_id, ''), created_at, updated_at`

func scanReservation(row pgx.Row) (PendingReservation, error) {
	var r PendingReservation
	var numbers []int32
	var status string
	err := row.Scan(&r.ID, &r.ExternalReference, &r.UserID, &r.RaffleID, &numbers, &r.Contact.Name, &r.Contact.Phone,
		&r.AmountCents, &status, &r.PreferenceID, &r.PaymentProviderID, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PendingReservation{}, ErrReservationNotFound
	}
	if err != nil {
		return PendingReservation{}, err
	}
	r.Numbers = toInts(numbers)
	r.Status = ReservationStatus(status)
	if !r.Status.Valid() || len(r.Numbers) == 0 {
		return PendingReservation{}, fmt.Errorf("reservation %s: corrupt row (status=%q numbers=%d)", r.ID, status, len(numbers))
	}
	return r, nil
}

// CreateReservation inserts a PENDING row. The external reference is unique;
// a clash surfaces as ErrDuplicateReference.
func (r *ReservationRepo) CreateReservation(ctx context.Context, in PendingReservation) (PendingReservation, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	out, err := scanReservation(r.DB.QueryRow(ctx, `
		INSERT INTO pending_reservations(id, external_reference, user_id, raffle_id, numbers,
			contact_name, contact_phone, amount_cents, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'PENDING')
		RETURNING `+reservationColumns,
		in.ID, in.ExternalReference, in.UserID, in.RaffleID, toInt32s(in.Numbers),
		in.Contact.Name, in.Contact.Phone, in.AmountCents))
	if isUniqueViolation(err) {
		return PendingReservation{}, ErrDuplicateReference
	}
	return out, err
}

func (r *ReservationRepo) GetReservation(ctx context.Context, externalReference string) (PendingReservation, error) {
	return scanReservation(r.DB.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM pending_reservations WHERE external_reference=$1`, externalReference))
}

func (r *ReservationRepo) AttachPreference(ctx context.Context, id, preferenceID string) error {
	ct, err := r.DB.Exec(ctx, `UPDATE pending_reservations SET preference_id=$2, updated_at=now() WHERE id=$1`, id, preferenceID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrReservationNotFound
	}
	return nil
}

func (r *ReservationRepo) RecordPayment(ctx context.Context, id, paymentID string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE pending_reservations SET payment_provider_id=$2, updated_at=now()
		WHERE id=$1 AND status='PENDING'`, id, paymentID)
	return err
}

func (r *ReservationRepo) RejectReservation(ctx context.Context, id, paymentID string, note AuditNote) (bool, error) {
	var changed bool
	err := pgx.BeginFunc(ctx, r.DB, func(tx pgx.Tx) error {
		res, err := scanReservation(tx.QueryRow(ctx,
			`SELECT `+reservationColumns+` FROM pending_reservations WHERE id=$1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if changed, err = rejectReservation(ctx, tx, id, paymentID); err != nil || !changed {
			return err
		}
		return insertAudit(ctx, tx, note.record(res, paymentID, OutcomeRejected, note.Detail))
	})
	return changed, err
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func rejectReservation(ctx context.Context, db execer, id, paymentID string) (bool, error) {
	ct, err := db.Exec(ctx, `
		UPDATE pending_reservations
		SET status='REJECTED', payment_provider_id=COALESCE(NULLIF($2, ''), payment_provider_id), updated_at=now()
		WHERE id=$1 AND status='PENDING'`, id, paymentID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *ReservationRepo) ListStalePending(ctx context.Context, before time.Time, limit int) ([]PendingReservation, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+reservationColumns+` FROM pending_reservations
		WHERE status='PENDING' AND created_at < $1
		ORDER BY created_at ASC LIMIT NULLIF($2, 0)`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingReservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
