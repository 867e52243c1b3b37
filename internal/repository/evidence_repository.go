package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/maintenance-service/internal/domain"
)

// EvidenceRepository persists ticket images.
type EvidenceRepository interface {
	CreateMany(ctx context.Context, items []domain.Evidence) ([]domain.Evidence, error)
	ListByTicket(ctx context.Context, ticketID int64) ([]domain.Evidence, error)
	DeleteForTicket(ctx context.Context, ticketID int64, ids []int64) ([]domain.Evidence, error)
	MarkExpired(ctx context.Context, ids []int64, placeholder string) (int64, error)
}

type evidenceRepository struct {
	db DBTX
}

// NewEvidenceRepository constructs repository.
func NewEvidenceRepository(db DBTX) EvidenceRepository {
	return &evidenceRepository{db: db}
}

func (r *evidenceRepository) CreateMany(ctx context.Context, items []domain.Evidence) ([]domain.Evidence, error) {
	const query = `
        INSERT INTO ticket_evidence (ticket_id, history_id, url, purpose)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at`
	out := make([]domain.Evidence, 0, len(items))
	for _, item := range items {
		if err := r.db.QueryRow(ctx, query,
			item.TicketID,
			item.HistoryID,
			item.URL,
			item.Purpose,
		).Scan(&item.ID, &item.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *evidenceRepository) ListByTicket(ctx context.Context, ticketID int64) ([]domain.Evidence, error) {
	const query = `
        SELECT id, ticket_id, history_id, url, purpose, created_at
        FROM ticket_evidence WHERE ticket_id=$1 ORDER BY id ASC`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvidence(rows)
}

// DeleteForTicket removes the given rows only when they belong to ticketID
// and returns what was removed.
func (r *evidenceRepository) DeleteForTicket(ctx context.Context, ticketID int64, ids []int64) ([]domain.Evidence, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const query = `
        DELETE FROM ticket_evidence WHERE ticket_id=$1 AND id = ANY($2)
        RETURNING id, ticket_id, history_id, url, purpose, created_at`
	rows, err := r.db.Query(ctx, query, ticketID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvidence(rows)
}

// MarkExpired swaps the URL for placeholder and tags rows EXPIRED. Rows
// already expired are left alone.
func (r *evidenceRepository) MarkExpired(ctx context.Context, ids []int64, placeholder string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	cmd, err := r.db.Exec(ctx, `
        UPDATE ticket_evidence SET url=$2, purpose=$3
        WHERE id = ANY($1) AND purpose <> $3`, ids, placeholder, domain.EvidenceExpired)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func scanEvidence(rows pgx.Rows) ([]domain.Evidence, error) {
	var result []domain.Evidence
	for rows.Next() {
		var ev domain.Evidence
		if err := rows.Scan(
			&ev.ID,
			&ev.TicketID,
			&ev.HistoryID,
			&ev.URL,
			&ev.Purpose,
			&ev.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}
