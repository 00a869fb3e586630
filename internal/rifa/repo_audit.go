package rifa

import (
	"context"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AuditRepo struct{ DB *pgxpool.Pool }

// AppendAudit is insert-only; audit rows are never updated or deleted.
func (r *AuditRepo) AppendAudit(ctx context.Context, rec AuditRecord) error {
	return insertAudit(ctx, r.DB, rec)
}

func insertAudit(ctx context.Context, db execer, rec AuditRecord) error {
	_, err := db.Exec(ctx, `
		INSERT INTO reconciliation_audit(reservation_id, external_reference, provider_payment_id,
			observed_status, outcome, detail)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ReservationID, rec.ExternalReference, rec.PaymentProviderID,
		rec.ObservedStatus, string(rec.Outcome), rec.Detail)
	return err
}

func (r *AuditRepo) ListAudit(ctx context.Context, externalReference string) ([]AuditRecord, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, reservation_id, external_reference, provider_payment_id, observed_status, outcome, detail, created_at
		FROM reconciliation_audit WHERE external_reference=$1 ORDER BY id`, externalReference)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (AuditRecord, error) {
		var a AuditRecord
		var outcome string
		err := row.Scan(&a.ID, &a.ReservationID, &a.ExternalReference, &a.PaymentProviderID,
			&a.ObservedStatus, &outcome, &a.Detail, &a.CreatedAt)
		a.Outcome = AuditOutcome(outcome)
		return a, err
	})
}

// PGStore bundles the Postgres repos behind the Store interface.
type PGStore struct {
	*RaffleRepo
	*ReservationRepo
	*EntryRepo
	*AuditRepo
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{
		RaffleRepo:      &RaffleRepo{DB: db},
		ReservationRepo: &ReservationRepo{DB: db},
		EntryRepo:       &EntryRepo{DB: db},
		AuditRepo:       &AuditRepo{DB: db},
	}
}

var _ Store = (*PGStore)(nil)
