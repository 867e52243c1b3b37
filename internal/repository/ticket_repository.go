package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/maintenance-service/internal/domain"
)

// TicketFilter captures list and metrics search parameters. ScopeCreatorID
// and ScopeAssigneeID carry role scoping and are always ANDed with the
// caller-supplied filters.
type TicketFilter struct {
	ScopeCreatorID  *int64
	ScopeAssigneeID *int64

	AssigneeID      *int64
	Statuses        []domain.TicketStatus
	Priorities      []domain.TicketPriority
	Types           []domain.TicketType
	Classifications []domain.Classification
	SearchTerm      string
	CreatedFrom     *time.Time
	CreatedTo       *time.Time
	Orphaned        bool
	OverdueAt       *time.Time

	Limit   int
	Offset  int
	Unpaged bool
}

// TicketRepository encapsulates ticket persistence. Returned tickets carry
// their assignee ids but no evidence, history or intervals.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	Update(ctx context.Context, ticket *domain.Ticket) error
	AddDuration(ctx context.Context, id int64, minutes int) error
	ReplaceAssignees(ctx context.Context, ticketID int64, userIDs []int64) error
	GetByID(ctx context.Context, id int64) (*domain.Ticket, error)
	GetByIDForUpdate(ctx context.Context, id int64) (*domain.Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	Count(ctx context.Context, filter TicketFilter) (int, error)
	ListExpirable(ctx context.Context, cutoff time.Time, placeholder string, limit int) ([]int64, error)
}

type ticketRepository struct {
	db DBTX
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(db DBTX) TicketRepository {
	return &ticketRepository{db: db}
}

const ticketColumns = `t.id, t.type, t.classification, t.priority, t.status, t.title, t.description,
       t.category, t.plant, t.area, t.notes, t.creator_id, t.department_id,
       t.estimated_minutes, t.actual_duration_minutes, t.created_at, t.updated_at,
       t.due_at, t.started_at, t.finished_at,
       COALESCE((SELECT array_agg(a.user_id ORDER BY a.user_id) FROM ticket_assignees a WHERE a.ticket_id = t.id), '{}'::bigint[])`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (type, classification, priority, status, title, description, category, plant, area,
            notes, creator_id, department_id, estimated_minutes, due_at, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)
        RETURNING id, created_at, updated_at`
	createdAt := ticket.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if err := r.db.QueryRow(ctx, query,
		ticket.Type,
		ticket.Classification,
		ticket.Priority,
		ticket.Status,
		ticket.Title,
		ticket.Description,
		ticket.Category,
		ticket.Plant,
		ticket.Area,
		ticket.Notes,
		ticket.CreatorID,
		ticket.DepartmentID,
		ticket.EstimatedMinutes,
		ticket.DueAt,
		createdAt,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt); err != nil {
		return err
	}
	return r.ReplaceAssignees(ctx, ticket.ID, ticket.AssigneeIDs)
}

// Update writes every mutable scalar column. actual_duration_minutes is
// only touched through AddDuration.
func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET type=$1, classification=$2, priority=$3, status=$4, title=$5, description=$6,
            category=$7, plant=$8, area=$9, notes=$10, department_id=$11, estimated_minutes=$12,
            due_at=$13, started_at=$14, finished_at=$15, updated_at=NOW()
        WHERE id=$16
        RETURNING updated_at`
	err := r.db.QueryRow(ctx, query,
		ticket.Type,
		ticket.Classification,
		ticket.Priority,
		ticket.Status,
		ticket.Title,
		ticket.Description,
		ticket.Category,
		ticket.Plant,
		ticket.Area,
		ticket.Notes,
		ticket.DepartmentID,
		ticket.EstimatedMinutes,
		ticket.DueAt,
		ticket.StartedAt,
		ticket.FinishedAt,
		ticket.ID,
	).Scan(&ticket.UpdatedAt)
	return notFound(err)
}

func (r *ticketRepository) AddDuration(ctx context.Context, id int64, minutes int) error {
	if minutes < 0 {
		return fmt.Errorf("negative duration %d", minutes)
	}
	cmd, err := r.db.Exec(ctx,
		`UPDATE tickets SET actual_duration_minutes = actual_duration_minutes + $1 WHERE id=$2`,
		minutes, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ticketRepository) ReplaceAssignees(ctx context.Context, ticketID int64, userIDs []int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM ticket_assignees WHERE ticket_id=$1`, ticketID); err != nil {
		return err
	}
	if len(userIDs) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `
        INSERT INTO ticket_assignees (ticket_id, user_id)
        SELECT $1, UNNEST($2::bigint[])
        ON CONFLICT DO NOTHING`, ticketID, userIDs)
	return err
}

func (r *ticketRepository) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets t WHERE t.id=$1`
	return r.fetchSingle(ctx, query, id)
}

// GetByIDForUpdate locks the ticket row until the surrounding transaction
// ends. Concurrent status changes on the same ticket serialize here.
func (r *ticketRepository) GetByIDForUpdate(ctx context.Context, id int64) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets t WHERE t.id=$1 FOR UPDATE OF t`
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Ticket, error) {
	ticket, err := scanTicket(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		return nil, notFound(err)
	}
	return ticket, nil
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	where, args := buildTicketWhere(filter)
	query := fmt.Sprintf(`SELECT %s FROM tickets t WHERE %s ORDER BY t.created_at DESC, t.id DESC`, ticketColumns, where)

	if !filter.Unpaged {
		limit := filter.Limit
		if limit <= 0 {
			limit = 20
		}
		offset := filter.Offset
		if offset < 0 {
			offset = 0
		}
		query += fmt.Sprintf(` LIMIT %d OFFSET %d`, limit, offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) Count(ctx context.Context, filter TicketFilter) (int, error) {
	where, args := buildTicketWhere(filter)
	var total int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM tickets t WHERE `+where, args...).Scan(&total)
	return total, err
}

// ListExpirable returns finished tickets older than cutoff that still hold
// evidence not yet replaced by placeholder.
func (r *ticketRepository) ListExpirable(ctx context.Context, cutoff time.Time, placeholder string, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
        SELECT t.id FROM tickets t
        WHERE t.status IN ('RESOLVED','CLOSED','CANCELLED','REJECTED')
          AND t.finished_at IS NOT NULL AND t.finished_at < $1
          AND EXISTS (
              SELECT 1 FROM ticket_evidence e
              WHERE e.ticket_id = t.id AND e.purpose <> 'EXPIRED' AND strpos(e.url, $2) = 0
          )
        ORDER BY t.finished_at ASC
        LIMIT $3`
	rows, err := r.db.Query(ctx, query, cutoff, placeholder, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var activeStatuses = []domain.TicketStatus{
	domain.TicketStatusPending,
	domain.TicketStatusAssigned,
	domain.TicketStatusInProgress,
	domain.TicketStatusPaused,
}

func buildTicketWhere(filter TicketFilter) (string, []any) {
	clauses := []string{"1=1"}
	args := []any{}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.ScopeCreatorID != nil {
		clauses = append(clauses, "t.creator_id="+next(*filter.ScopeCreatorID))
	}
	if filter.ScopeAssigneeID != nil {
		clauses = append(clauses, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM ticket_assignees sa WHERE sa.ticket_id=t.id AND sa.user_id=%s)",
			next(*filter.ScopeAssigneeID)))
	}
	if filter.AssigneeID != nil {
		clauses = append(clauses, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM ticket_assignees fa WHERE fa.ticket_id=t.id AND fa.user_id=%s)",
			next(*filter.AssigneeID)))
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "t.status = ANY("+next(toStrings(filter.Statuses))+")")
	}
	if len(filter.Priorities) > 0 {
		clauses = append(clauses, "t.priority = ANY("+next(toStrings(filter.Priorities))+")")
	}
	if len(filter.Types) > 0 {
		clauses = append(clauses, "t.type = ANY("+next(toStrings(filter.Types))+")")
	}
	if len(filter.Classifications) > 0 {
		clauses = append(clauses, "t.classification = ANY("+next(toStrings(filter.Classifications))+")")
	}
	if filter.CreatedFrom != nil {
		clauses = append(clauses, "t.created_at >= "+next(*filter.CreatedFrom))
	}
	if filter.CreatedTo != nil {
		clauses = append(clauses, "t.created_at <= "+next(*filter.CreatedTo))
	}
	if filter.Orphaned {
		clauses = append(clauses,
			"t.status = "+next(string(domain.TicketStatusPending)),
			"NOT EXISTS (SELECT 1 FROM ticket_assignees oa WHERE oa.ticket_id=t.id)")
	}
	if filter.OverdueAt != nil {
		clauses = append(clauses,
			"t.due_at < "+next(*filter.OverdueAt),
			"t.status = ANY("+next(toStrings(activeStatuses))+")")
	}
	if term := strings.TrimSpace(filter.SearchTerm); term != "" {
		p := next("%" + term + "%")
		or := []string{
			"t.title ILIKE " + p,
			"t.description ILIKE " + p,
			"t.plant ILIKE " + p,
			"t.area ILIKE " + p,
			"EXISTS (SELECT 1 FROM users cu WHERE cu.id=t.creator_id AND cu.name ILIKE " + p + ")",
		}
		if id, err := strconv.ParseInt(term, 10, 64); err == nil {
			or = append(or, "t.id = "+next(id))
		}
		clauses = append(clauses, "("+strings.Join(or, " OR ")+")")
	}

	return strings.Join(clauses, " AND "), args
}

func toStrings[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.Type,
		&ticket.Classification,
		&ticket.Priority,
		&ticket.Status,
		&ticket.Title,
		&ticket.Description,
		&ticket.Category,
		&ticket.Plant,
		&ticket.Area,
		&ticket.Notes,
		&ticket.CreatorID,
		&ticket.DepartmentID,
		&ticket.EstimatedMinutes,
		&ticket.ActualDurationMinutes,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.DueAt,
		&ticket.StartedAt,
		&ticket.FinishedAt,
		&ticket.AssigneeIDs,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}
