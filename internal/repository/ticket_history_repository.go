package repository

import (
	"context"

	"github.com/spec-kit/maintenance-service/internal/domain"
)

// TicketHistoryRepository stores the append-only ticket trail.
type TicketHistoryRepository interface {
	Create(ctx context.Context, history *domain.TicketHistory) error
	ListByTicket(ctx context.Context, ticketID int64) ([]domain.TicketHistory, error)
}

type ticketHistoryRepository struct {
	db DBTX
}

// NewTicketHistoryRepository builds repository.
func NewTicketHistoryRepository(db DBTX) TicketHistoryRepository {
	return &ticketHistoryRepository{db: db}
}

func (r *ticketHistoryRepository) Create(ctx context.Context, history *domain.TicketHistory) error {
	const query = `
        INSERT INTO ticket_history (ticket_id, actor_id, event_type, status_before, status_after, note, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,COALESCE($7, NOW()))
        RETURNING id, created_at`
	var createdAt any
	if !history.CreatedAt.IsZero() {
		createdAt = history.CreatedAt
	}
	return r.db.QueryRow(ctx, query,
		history.TicketID,
		history.ActorID,
		history.EventType,
		history.StatusBefore,
		history.StatusAfter,
		history.Note,
		createdAt,
	).Scan(&history.ID, &history.CreatedAt)
}

// ListByTicket returns entries newest first.
func (r *ticketHistoryRepository) ListByTicket(ctx context.Context, ticketID int64) ([]domain.TicketHistory, error) {
	const query = `
        SELECT id, ticket_id, actor_id, event_type, status_before, status_after, note, created_at
        FROM ticket_history WHERE ticket_id=$1 ORDER BY created_at DESC, id DESC`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TicketHistory
	for rows.Next() {
		var history domain.TicketHistory
		if err := rows.Scan(
			&history.ID,
			&history.TicketID,
			&history.ActorID,
			&history.EventType,
			&history.StatusBefore,
			&history.StatusAfter,
			&history.Note,
			&history.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, history)
	}
	return result, rows.Err()
}
