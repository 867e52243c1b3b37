package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/maintenance-service/internal/api/dto"
	"github.com/spec-kit/maintenance-service/internal/auth"
	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/service"
	apperrors "github.com/spec-kit/maintenance-service/pkg/util/errorutil"
)

// TicketWorkflow is the ticket engine as seen by HTTP handlers.
type TicketWorkflow interface {
	Create(ctx context.Context, actor domain.Actor, draft service.TicketDraft) (*domain.Ticket, error)
	Update(ctx context.Context, actor domain.Actor, id int64, patch service.TicketPatch) (*domain.Ticket, error)
	ChangeStatus(ctx context.Context, actor domain.Actor, id int64, change service.StatusChange) (*domain.Ticket, error)
	Get(ctx context.Context, actor domain.Actor, id int64) (*domain.Ticket, error)
	List(ctx context.Context, actor domain.Actor, q service.TicketQuery) (*service.TicketPage, error)
	Metrics(ctx context.Context, actor domain.Actor, q service.TicketQuery) (*service.TicketMetrics, error)
}

// TicketsHandler manages ticket endpoints.
type TicketsHandler struct {
	service TicketWorkflow
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService TicketWorkflow) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	due, err := parseDate("due_date", req.DueDate)
	if err != nil {
		return err
	}
	files, err := readEvidence(c)
	if err != nil {
		return err
	}

	ticket, err := h.service.Create(c.UserContext(), actor, service.TicketDraft{
		Title:            req.Title,
		Description:      req.Description,
		Category:         req.Category,
		Plant:            req.Plant,
		Area:             req.Area,
		Notes:            req.Notes,
		Type:             req.Type,
		Classification:   req.Classification,
		Priority:         req.Priority,
		AssigneeIDs:      req.AssigneeIDs,
		DueDate:          due,
		EstimatedMinutes: req.EstimatedMinutes,
		Evidence:         files,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": ticketDetail(ticket)})
}

// UpdateTicket PATCH /tickets/:id.
func (h *TicketsHandler) UpdateTicket(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req dto.UpdateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if isMultipart(c) {
		if req.AssigneeIDs, err = formAssignees(c); err != nil {
			return err
		}
	}
	files, err := readEvidence(c)
	if err != nil {
		return err
	}

	patch := service.TicketPatch{
		Title:            req.Title,
		Description:      req.Description,
		Category:         req.Category,
		Plant:            req.Plant,
		Area:             req.Area,
		Priority:         req.Priority,
		AssigneeIDs:      req.AssigneeIDs,
		Type:             req.Type,
		Classification:   req.Classification,
		EstimatedMinutes: req.EstimatedMinutes,
		Evidence:         files,
		RemoveEvidence:   req.RemoveEvidenceIDs,
	}
	if req.DueDate != nil {
		if patch.DueDate, err = parseDate("due_date", *req.DueDate); err != nil {
			return err
		}
	}

	ticket, err := h.service.Update(c.UserContext(), actor, id, patch)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(ticket)})
}

// ChangeStatus PATCH /tickets/:id/status.
func (h *TicketsHandler) ChangeStatus(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req dto.StatusChangeRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Status == "" {
		return apperrors.NewValidationError("status required", nil)
	}
	files, err := readEvidence(c)
	if err != nil {
		return err
	}

	ticket, err := h.service.ChangeStatus(c.UserContext(), actor, id, service.StatusChange{
		Status:   domain.TicketStatus(strings.ToUpper(string(req.Status))),
		Note:     req.Note,
		Evidence: files,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(ticket)})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	ticket, err := h.service.Get(c.UserContext(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(ticket)})
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	q, err := parseTicketQuery(c)
	if err != nil {
		return err
	}
	page, err := h.service.List(c.UserContext(), actor, q)
	if err != nil {
		return err
	}
	items := make([]dto.TicketSummary, 0, len(page.Items))
	for i := range page.Items {
		items = append(items, ticketSummary(&page.Items[i]))
	}
	return c.JSON(fiber.Map{
		"data": items,
		"meta": dto.PageMeta{Total: page.Total, Page: page.Page, Limit: page.Limit},
	})
}

// Metrics GET /tickets/metrics.
func (h *TicketsHandler) Metrics(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	q, err := parseTicketQuery(c)
	if err != nil {
		return err
	}
	metrics, err := h.service.Metrics(c.UserContext(), actor, q)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": metrics})
}

func parseTicketQuery(c *fiber.Ctx) (service.TicketQuery, error) {
	q := service.TicketQuery{
		Search:          c.Query("q"),
		Statuses:        parseList[domain.TicketStatus](c.Query("status")),
		Priorities:      parseList[domain.TicketPriority](c.Query("priority")),
		Types:           parseList[domain.TicketType](c.Query("type")),
		Classifications: parseList[domain.Classification](c.Query("classification")),
		Orphaned:        c.QueryBool("orphaned"),
		Overdue:         c.QueryBool("overdue"),
		Page:            parseInt(c.Query("page"), 1),
		Limit:           parseInt(c.Query("limit"), 0),
	}
	var err error
	if q.AssigneeID, err = parseOptionalID("assignee_id", c.Query("assignee_id")); err != nil {
		return q, err
	}
	if q.CreatedFrom, err = parseDate("created_from", c.Query("created_from")); err != nil {
		return q, err
	}
	if q.CreatedTo, err = parseDate("created_to", c.Query("created_to")); err != nil {
		return q, err
	}
	return q, nil
}

// formAssignees reads assignee_ids from a multipart form. A present but
// blank field clears the assignees.
func formAssignees(c *fiber.Ctx) (*[]int64, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, apperrors.NewValidationError("invalid multipart payload", nil)
	}
	values, ok := form.Value["assignee_ids"]
	if !ok {
		return nil, nil
	}
	ids := []int64{}
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, apperrors.NewValidationError("invalid assignee_ids", map[string]any{"assignee_ids": v})
			}
			ids = append(ids, id)
		}
	}
	return &ids, nil
}

func ticketSummary(ticket *domain.Ticket) dto.TicketSummary {
	assignees := ticket.AssigneeIDs
	if assignees == nil {
		assignees = []int64{}
	}
	return dto.TicketSummary{
		ID:                    ticket.ID,
		Type:                  ticket.Type,
		Classification:        ticket.Classification,
		Priority:              ticket.Priority,
		Status:                ticket.Status,
		Title:                 ticket.Title,
		Category:              ticket.Category,
		Plant:                 ticket.Plant,
		Area:                  ticket.Area,
		CreatorID:             ticket.CreatorID,
		AssigneeIDs:           assignees,
		EstimatedMinutes:      ticket.EstimatedMinutes,
		ActualDurationMinutes: ticket.ActualDurationMinutes,
		DueAt:                 ticket.DueAt,
		StartedAt:             ticket.StartedAt,
		FinishedAt:            ticket.FinishedAt,
		CreatedAt:             ticket.CreatedAt,
		UpdatedAt:             ticket.UpdatedAt,
	}
}

func ticketDetail(ticket *domain.Ticket) dto.TicketDetailResponse {
	history := make([]dto.TicketHistoryResponse, 0, len(ticket.History))
	for _, entry := range ticket.History {
		history = append(history, dto.TicketHistoryResponse{
			ID:           entry.ID,
			ActorID:      entry.ActorID,
			EventType:    entry.EventType,
			StatusBefore: entry.StatusBefore,
			StatusAfter:  entry.StatusAfter,
			Note:         entry.Note,
			Evidence:     evidenceResponses(entry.Evidence),
			CreatedAt:    entry.CreatedAt,
		})
	}
	intervals := make([]dto.WorkIntervalResponse, 0, len(ticket.Intervals))
	for _, w := range ticket.Intervals {
		intervals = append(intervals, dto.WorkIntervalResponse{
			ID:              w.ID,
			ActorID:         w.ActorID,
			Start:           w.Start,
			End:             w.End,
			DurationMinutes: w.DurationMinutes,
			Status:          w.Status,
		})
	}
	return dto.TicketDetailResponse{
		TicketSummary: ticketSummary(ticket),
		Description:   ticket.Description,
		Notes:         ticket.Notes,
		Evidence:      evidenceResponses(ticket.Evidence),
		History:       history,
		Intervals:     intervals,
	}
}

func evidenceResponses(items []domain.Evidence) []dto.EvidenceResponse {
	resp := make([]dto.EvidenceResponse, 0, len(items))
	for _, ev := range items {
		resp = append(resp, dto.EvidenceResponse{
			ID:        ev.ID,
			HistoryID: ev.HistoryID,
			URL:       ev.URL,
			Purpose:   ev.Purpose,
			CreatedAt: ev.CreatedAt,
		})
	}
	return resp
}
