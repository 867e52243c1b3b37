package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/spec-kit/maintenance-service/internal/config"
	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/events"
	"github.com/spec-kit/maintenance-service/internal/media"
	"github.com/spec-kit/maintenance-service/internal/observability"
	"github.com/spec-kit/maintenance-service/internal/policy"
	"github.com/spec-kit/maintenance-service/internal/repository"
	"github.com/spec-kit/maintenance-service/internal/workflow"
	apperrors "github.com/spec-kit/maintenance-service/pkg/util/errorutil"
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

// TicketService coordinates ticket workflows.
type TicketService struct {
	store      repository.Store
	policy     *policy.Policy
	media      media.Store
	remover    media.Remover
	dispatcher events.Dispatcher
	sweeper    *ExpirationSweeper
	audit      *AuditService
	metrics    *observability.Metrics
	logger     *zap.Logger
	cfg        config.WorkflowConfig
	now        func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	Store      repository.Store
	Policy     *policy.Policy
	Media      media.Store
	Remover    media.Remover
	Dispatcher events.Dispatcher
	Sweeper    *ExpirationSweeper
	Audit      *AuditService
	Metrics    *observability.Metrics
	Logger     *zap.Logger
}

// NewTicketService constructs the service.
func NewTicketService(cfg config.WorkflowConfig, deps TicketDependencies) *TicketService {
	s := &TicketService{
		store:      deps.Store,
		policy:     deps.Policy,
		media:      deps.Media,
		remover:    deps.Remover,
		dispatcher: deps.Dispatcher,
		sweeper:    deps.Sweeper,
		audit:      deps.Audit,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		cfg:        cfg,
		now:        time.Now,
	}
	if s.policy == nil {
		s.policy = policy.New(nil)
	}
	if s.media == nil {
		s.media = media.DisabledStore{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// TicketDraft is the input for Create.
type TicketDraft struct {
	Title            string
	Description      string
	Category         string
	Plant            string
	Area             string
	Notes            string
	Type             domain.TicketType
	Classification   domain.Classification
	Priority         domain.TicketPriority
	AssigneeIDs      []int64
	DueDate          *time.Time
	EstimatedMinutes *int
	Evidence         []media.File
}

// TicketPatch is the input for Update. nil fields are left untouched.
type TicketPatch struct {
	Title            *string
	Description      *string
	Category         *string
	Plant            *string
	Area             *string
	Priority         *domain.TicketPriority
	DueDate          *time.Time
	AssigneeIDs      *[]int64
	Type             *domain.TicketType
	Classification   *domain.Classification
	EstimatedMinutes *int
	Evidence         []media.File
	RemoveEvidence   []int64
}

func (p TicketPatch) touchesManagement() bool {
	return p.AssigneeIDs != nil || p.Priority != nil || p.DueDate != nil
}

// StatusChange is the input for ChangeStatus.
type StatusChange struct {
	Status   domain.TicketStatus
	Note     string
	Evidence []media.File
}

// TicketQuery narrows List and Metrics.
type TicketQuery struct {
	Search          string
	Statuses        []domain.TicketStatus
	Priorities      []domain.TicketPriority
	Types           []domain.TicketType
	Classifications []domain.Classification
	AssigneeID      *int64
	CreatedFrom     *time.Time
	CreatedTo       *time.Time
	Orphaned        bool
	Overdue         bool
	Page            int
	Limit           int
}

// TicketPage is one page of a listing.
type TicketPage struct {
	Items []domain.Ticket
	Total int
	Page  int
	Limit int
}

// Get loads a ticket with its evidence, history and intervals. Evidence
// past retention is redacted on the way out.
func (s *TicketService) Get(ctx context.Context, actor domain.Actor, id int64) (*domain.Ticket, error) {
	ctx, span := s.startSpan(ctx, "ticket.get", actor, id)
	defer span.End()

	repos := s.store.Repos()
	ticket, err := repos.Tickets.GetByID(ctx, id)
	if err != nil {
		return nil, s.spanErr(span, s.fail(ctx, "GET_TICKET_DETAIL", actor, ticketLookupErr(err, id)))
	}
	if !policy.CanView(actor, ticket) {
		return nil, s.spanErr(span, apperrors.NewForbidden("you do not have access to this ticket"))
	}

	if err := s.loadDetail(ctx, repos, ticket); err != nil {
		return nil, s.spanErr(span, s.fail(ctx, "GET_TICKET_DETAIL", actor, err))
	}
	if s.sweeper != nil {
		ticket = s.sweeper.Apply(ctx, ticket)
	}
	return ticket, nil
}

func (s *TicketService) loadDetail(ctx context.Context, repos repository.Repositories, ticket *domain.Ticket) error {
	var err error
	if ticket.Evidence, err = repos.Evidence.ListByTicket(ctx, ticket.ID); err != nil {
		return fmt.Errorf("load evidence: %w", err)
	}
	if ticket.History, err = repos.History.ListByTicket(ctx, ticket.ID); err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if ticket.Intervals, err = repos.Intervals.ListByTicket(ctx, ticket.ID); err != nil {
		return fmt.Errorf("load intervals: %w", err)
	}
	byHistory := make(map[int64][]domain.Evidence)
	for _, ev := range ticket.Evidence {
		if ev.HistoryID != nil {
			byHistory[*ev.HistoryID] = append(byHistory[*ev.HistoryID], ev)
		}
	}
	for i := range ticket.History {
		ticket.History[i].Evidence = byHistory[ticket.History[i].ID]
	}
	return nil
}

// List returns tickets visible to actor. Technicians see tickets assigned
// to them, clients see their own reports.
func (s *TicketService) List(ctx context.Context, actor domain.Actor, q TicketQuery) (*TicketPage, error) {
	ctx, span := s.startSpan(ctx, "ticket.list", actor, 0)
	defer span.End()

	filter, err := s.scopedFilter(actor, q)
	if err != nil {
		return nil, s.spanErr(span, err)
	}
	repos := s.store.Repos()
	items, err := repos.Tickets.List(ctx, filter)
	if err != nil {
		return nil, s.spanErr(span, s.fail(ctx, "LIST_TICKETS", actor, err))
	}
	total, err := repos.Tickets.Count(ctx, filter)
	if err != nil {
		return nil, s.spanErr(span, s.fail(ctx, "LIST_TICKETS", actor, err))
	}
	return &TicketPage{Items: items, Total: total, Page: filter.Offset/filter.Limit + 1, Limit: filter.Limit}, nil
}

func (s *TicketService) scopedFilter(actor domain.Actor, q TicketQuery) (repository.TicketFilter, error) {
	filter := repository.TicketFilter{
		AssigneeID:      q.AssigneeID,
		Statuses:        q.Statuses,
		Priorities:      q.Priorities,
		Types:           q.Types,
		Classifications: q.Classifications,
		SearchTerm:      strings.TrimSpace(q.Search),
		CreatedFrom:     q.CreatedFrom,
		Orphaned:        q.Orphaned,
	}
	switch {
	case policy.IsAdminTier(actor.Role):
	case policy.IsTechnician(actor.Role):
		self := actor.ID
		filter.ScopeAssigneeID = &self
	case policy.IsInternalClient(actor.Role):
		self := actor.ID
		filter.ScopeCreatorID = &self
	default:
		return filter, apperrors.NewForbidden("role cannot list tickets")
	}
	if q.CreatedTo != nil {
		end := workflow.EndOfDay(*q.CreatedTo)
		filter.CreatedTo = &end
	}
	if q.Overdue {
		now := s.now()
		filter.OverdueAt = &now
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	filter.Limit = limit
	filter.Offset = (page - 1) * limit
	return filter, nil
}

func (s *TicketService) startSpan(ctx context.Context, name string, actor domain.Actor, ticketID int64) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.Int64("actor.id", actor.ID),
		attribute.String("actor.role", string(actor.Role)),
	}
	if ticketID > 0 {
		attrs = append(attrs, attribute.Int64("ticket.id", ticketID))
	}
	return observability.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

func (s *TicketService) spanErr(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// fail maps an error to the public taxonomy. Unexpected errors are written
// to the audit log and hidden behind INTERNAL_ERROR.
func (s *TicketService) fail(ctx context.Context, op string, actor domain.Actor, err error) error {
	var de *apperrors.DomainError
	if errors.As(err, &de) {
		return de
	}
	if repository.IsUniqueViolation(err) {
		return apperrors.NewConflict("ticket was modified concurrently, retry", nil)
	}
	s.audit.RecordError(ctx, op, actor.ID, err)
	return apperrors.NewInternalError(err)
}

func ticketLookupErr(err error, id int64) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
	}
	return err
}

func forbidden(err error) error {
	return &apperrors.DomainError{
		Code:       apperrors.CodeForbidden,
		Message:    err.Error(),
		HTTPStatus: http.StatusForbidden,
		Err:        err,
	}
}

func (s *TicketService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("event_type", string(event.Type)),
			zap.Int64("ticket_id", event.TicketID),
			zap.Error(err))
	}
}

func (s *TicketService) upload(ctx context.Context, files []media.File) ([]string, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if limit := s.cfg.MaxEvidenceFiles; limit > 0 && len(files) > limit {
		return nil, apperrors.NewValidationError(fmt.Sprintf("at most %d images per request", limit), map[string]any{"field": "evidence"})
	}
	urls, err := media.UploadAll(ctx, s.media, files)
	if err != nil {
		s.discard(ctx, urls)
		return nil, apperrors.NewUpstreamFailure("evidence upload failed", err)
	}
	return urls, nil
}

func (s *TicketService) discard(ctx context.Context, urls []string) {
	if len(urls) > 0 && s.remover != nil {
		s.remover.Remove(ctx, urls...)
	}
}

func attachEvidence(ctx context.Context, repos repository.Repositories, ticketID int64, historyID *int64, urls []string, purpose domain.EvidencePurpose) ([]domain.Evidence, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	items := make([]domain.Evidence, len(urls))
	for i, u := range urls {
		items[i] = domain.Evidence{TicketID: ticketID, HistoryID: historyID, URL: u, Purpose: purpose}
	}
	return repos.Evidence.CreateMany(ctx, items)
}

func uniqueIDs(ids []int64) []int64 {
	return uniqueRecipients(ids)
}
