package repository

import (
	"context"

	"github.com/spec-kit/maintenance-service/internal/domain"
)

// WorkIntervalRepository stores spans of active work.
type WorkIntervalRepository interface {
	Open(ctx context.Context, interval *domain.WorkInterval) error
	LatestOpenForUpdate(ctx context.Context, ticketID int64) (*domain.WorkInterval, error)
	Close(ctx context.Context, interval *domain.WorkInterval) error
	ListByTicket(ctx context.Context, ticketID int64) ([]domain.WorkInterval, error)
}

type workIntervalRepository struct {
	db DBTX
}

// NewWorkIntervalRepository builds repository.
func NewWorkIntervalRepository(db DBTX) WorkIntervalRepository {
	return &workIntervalRepository{db: db}
}

// Open inserts a new interval. A second open interval on the same ticket
// violates uq_work_intervals_one_open.
func (r *workIntervalRepository) Open(ctx context.Context, interval *domain.WorkInterval) error {
	const query = `
        INSERT INTO work_intervals (ticket_id, actor_id, started_at, status)
        VALUES ($1,$2,$3,$4)
        RETURNING id`
	return r.db.QueryRow(ctx, query,
		interval.TicketID,
		interval.ActorID,
		interval.Start,
		interval.Status,
	).Scan(&interval.ID)
}

func (r *workIntervalRepository) LatestOpenForUpdate(ctx context.Context, ticketID int64) (*domain.WorkInterval, error) {
	const query = `
        SELECT id, ticket_id, actor_id, started_at, ended_at, duration_minutes, status
        FROM work_intervals
        WHERE ticket_id=$1 AND ended_at IS NULL
        ORDER BY started_at DESC
        LIMIT 1
        FOR UPDATE`
	var iv domain.WorkInterval
	if err := r.db.QueryRow(ctx, query, ticketID).Scan(
		&iv.ID,
		&iv.TicketID,
		&iv.ActorID,
		&iv.Start,
		&iv.End,
		&iv.DurationMinutes,
		&iv.Status,
	); err != nil {
		return nil, notFound(err)
	}
	return &iv, nil
}

// Close persists end and duration. Already-closed rows are not touched so
// a double close surfaces as ErrNotFound.
func (r *workIntervalRepository) Close(ctx context.Context, interval *domain.WorkInterval) error {
	cmd, err := r.db.Exec(ctx, `
        UPDATE work_intervals SET ended_at=$1, duration_minutes=$2
        WHERE id=$3 AND ended_at IS NULL`,
		interval.End, interval.DurationMinutes, interval.ID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *workIntervalRepository) ListByTicket(ctx context.Context, ticketID int64) ([]domain.WorkInterval, error) {
	const query = `
        SELECT id, ticket_id, actor_id, started_at, ended_at, duration_minutes, status
        FROM work_intervals WHERE ticket_id=$1 ORDER BY started_at ASC`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.WorkInterval
	for rows.Next() {
		var iv domain.WorkInterval
		if err := rows.Scan(
			&iv.ID,
			&iv.TicketID,
			&iv.ActorID,
			&iv.Start,
			&iv.End,
			&iv.DurationMinutes,
			&iv.Status,
		); err != nil {
			return nil, err
		}
		result = append(result, iv)
	}
	return result, rows.Err()
}
