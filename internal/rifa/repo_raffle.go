package rifa

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"time"
)

type RaffleRepo struct{ DB *pgxpool.Pool }

const raffleColumns = `id, title, min_number, max_number, ticket_price_cents, status,
	COALESCE(winner_entry_id, ''), COALESCE(winner_number, 0), drawn_at, created_at, updated_at`

func scanRaffle(row pgx.Row) (Raffle, error) {
	var r Raffle
	var status string
	err := row.Scan(&r.ID, &r.Title, &r.MinNumber, &r.MaxNumber, &r.TicketPriceCents, &status,
		&r.WinnerEntryID, &r.WinnerNumber, &r.DrawnAt, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Raffle{}, ErrRaffleNotFound
	}
	if err != nil {
		return Raffle{}, err
	}
	r.Status = RaffleStatus(status)
	if err := ValidateRaffle(r); err != nil {
		return Raffle{}, fmt.Errorf("raffle %s: corrupt row: %w", r.ID, err)
	}
	return r, nil
}

func (r *RaffleRepo) CreateRaffle(ctx context.Context, in Raffle) (Raffle, error) {
	in.Status = RaffleOpen
	if err := ValidateRaffle(in); err != nil {
		return Raffle{}, err
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	return scanRaffle(r.DB.QueryRow(ctx, `
		INSERT INTO raffles(id, title, min_number, max_number, ticket_price_cents, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+raffleColumns,
		in.ID, in.Title, in.MinNumber, in.MaxNumber, in.TicketPriceCents, string(in.Status)))
}

func (r *RaffleRepo) GetRaffle(ctx context.Context, id string) (Raffle, error) {
	return scanRaffle(r.DB.QueryRow(ctx, `SELECT `+raffleColumns+` FROM raffles WHERE id=$1`, id))
}

func (r *RaffleRepo) ListRaffles(ctx context.Context, status RaffleStatus) ([]Raffle, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+raffleColumns+` FROM raffles
		WHERE $1 = '' OR status = $1 ORDER BY created_at DESC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Raffle
	for rows.Next() {
		raf, err := scanRaffle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, raf)
	}
	return out, rows.Err()
}

func (r *RaffleRepo) CloseRaffle(ctx context.Context, id string) (Raffle, error) {
	raf, err := scanRaffle(r.DB.QueryRow(ctx, `
		UPDATE raffles SET status='CLOSED', updated_at=now()
		WHERE id=$1 AND status='OPEN'
		RETURNING `+raffleColumns, id))
	if !errors.Is(err, ErrRaffleNotFound) {
		return raf, err
	}
	// no row updated: either missing or not open any more
	cur, err := r.GetRaffle(ctx, id)
	if err != nil {
		return Raffle{}, err
	}
	return cur, fmt.Errorf("close raffle %s (%s): %w", id, cur.Status, ErrRaffleNotOpen)
}

func (r *RaffleRepo) CompleteDraw(ctx context.Context, raffleID string, choose ChooseWinner) (Raffle, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Raffle{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	raf, err := scanRaffle(tx.QueryRow(ctx, `SELECT `+raffleColumns+` FROM raffles WHERE id=$1 FOR UPDATE`, raffleID))
	if err != nil {
		return Raffle{}, err
	}
	switch raf.Status {
	case RaffleCompleted:
		return raf, ErrAlreadyDrawn
	case RaffleOpen:
		return raf, ErrRaffleNotClosed
	}

	entries, err := listEntries(ctx, tx, raffleID)
	if err != nil {
		return Raffle{}, err
	}
	if len(entries) == 0 {
		return raf, ErrNoParticipants
	}

	res, err := choose(raf, entries)
	if err != nil {
		return raf, err
	}
	if res.DrawnAt.IsZero() {
		res.DrawnAt = time.Now().UTC()
	}

	raf, err = scanRaffle(tx.QueryRow(ctx, `
		UPDATE raffles
		SET status='COMPLETED', winner_entry_id=$2, winner_number=$3, drawn_at=$4, updated_at=now()
		WHERE id=$1 AND status='CLOSED'
		RETURNING `+raffleColumns,
		raffleID, res.WinnerEntryID, res.WinnerNumber, res.DrawnAt))
	if err != nil {
		return Raffle{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Raffle{}, err
	}
	return raf, nil
}
