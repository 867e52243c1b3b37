package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/events"
	"github.com/spec-kit/maintenance-service/internal/policy"
	"github.com/spec-kit/maintenance-service/internal/repository"
	"github.com/spec-kit/maintenance-service/internal/workflow"
	apperrors "github.com/spec-kit/maintenance-service/pkg/util/errorutil"
)

const defaultCategory = "General"

// Create persists a new ticket with its creation history entry and any
// initial evidence.
func (s *TicketService) Create(ctx context.Context, actor domain.Actor, draft TicketDraft) (*domain.Ticket, error) {
	ctx, span := s.startSpan(ctx, "ticket.create", actor, 0)
	defer span.End()

	if !policy.CanCreate(actor.Role) {
		return nil, s.spanErr(span, forbidden(policy.ErrRoleNotAllowed))
	}
	ticket, err := s.buildTicket(actor, draft)
	if err != nil {
		return nil, s.spanErr(span, err)
	}

	urls, err := s.upload(ctx, draft.Evidence)
	if err != nil {
		return nil, s.spanErr(span, err)
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if len(ticket.AssigneeIDs) > 0 {
			if err := s.checkAssignees(ctx, repos, actor, ticket.AssigneeIDs); err != nil {
				return err
			}
		}
		if err := repos.Tickets.Create(ctx, ticket); err != nil {
			return fmt.Errorf("create ticket: %w", err)
		}

		entry := &domain.TicketHistory{
			TicketID:    ticket.ID,
			ActorID:     actor.ID,
			EventType:   domain.HistoryEventCreation,
			StatusAfter: ticket.Status,
			Note:        creationNote(actor, ticket),
			CreatedAt:   ticket.CreatedAt,
		}
		if err := repos.History.Create(ctx, entry); err != nil {
			return fmt.Errorf("create history: %w", err)
		}
		evidence, err := attachEvidence(ctx, repos, ticket.ID, &entry.ID, urls, domain.EvidenceInitial)
		if err != nil {
			return fmt.Errorf("attach evidence: %w", err)
		}
		entry.Evidence = evidence
		ticket.Evidence = evidence
		ticket.History = []domain.TicketHistory{*entry}
		return nil
	})
	if err != nil {
		s.discard(ctx, urls)
		return nil, s.spanErr(span, s.fail(ctx, "CREATE_TICKET", actor, err))
	}
	span.SetAttributes(attribute.Int64("ticket.id", ticket.ID))

	now := s.now()
	s.publish(ctx, events.New(events.EventTicketCreated, ticket.ID, actor, now,
		events.TicketCreatedPayload{Ticket: *ticket.Clone()}))
	if len(ticket.AssigneeIDs) > 0 {
		s.publish(ctx, events.New(events.EventTicketAssigned, ticket.ID, actor, now,
			events.TicketAssignedPayload{Ticket: *ticket.Clone(), AssigneeIDs: slices.Clone(ticket.AssigneeIDs)}))
	}
	s.audit.Record(ctx, AuditCreateTicket, actor.ID,
		fmt.Sprintf("Ticket %d created: %s (%s)", ticket.ID, ticket.Title, ticket.Type))
	return ticket, nil
}

func (s *TicketService) buildTicket(actor domain.Actor, draft TicketDraft) (*domain.Ticket, error) {
	ticket := &domain.Ticket{
		Title:            strings.TrimSpace(draft.Title),
		Description:      strings.TrimSpace(draft.Description),
		Category:         strings.TrimSpace(draft.Category),
		Plant:            strings.TrimSpace(draft.Plant),
		Area:             strings.TrimSpace(draft.Area),
		Notes:            strings.TrimSpace(draft.Notes),
		Classification:   draft.Classification,
		Priority:         draft.Priority,
		CreatorID:        actor.ID,
		DepartmentID:     actor.DepartmentID,
		EstimatedMinutes: draft.EstimatedMinutes,
		CreatedAt:        s.now(),
	}
	if ticket.Priority == "" {
		ticket.Priority = domain.TicketPriorityMedium
	}
	if !ticket.Priority.Valid() {
		return nil, invalidField("priority", "unknown priority")
	}
	if err := minLength("title", ticket.Title, 3); err != nil {
		return nil, err
	}

	if policy.IsInternalClient(actor.Role) {
		if err := minLength("description", ticket.Description, 10); err != nil {
			return nil, err
		}
		for _, required := range [][2]string{{"category", ticket.Category}, {"plant", ticket.Plant}, {"area", ticket.Area}} {
			if required[1] == "" {
				return nil, invalidField(required[0], required[0]+" is required")
			}
		}
		if ticket.Classification == "" {
			ticket.Classification = domain.ClassificationCorrective
		}
		if !policy.ClientMayClassify(ticket.Classification) {
			return nil, invalidField("classification", "classification not available for reports")
		}
		ticket.Type = domain.TicketTypeReport
		ticket.Status = domain.TicketStatusPending
		ticket.DueAt = nil
		ticket.EstimatedMinutes = nil
		return ticket, nil
	}

	if err := minLength("description", ticket.Description, 3); err != nil {
		return nil, err
	}
	ticket.Type = draft.Type
	if ticket.Type != domain.TicketTypePlanned && ticket.Type != domain.TicketTypeExtraordinary {
		return nil, invalidField("type", "management tickets must be PLANNED or EXTRAORDINARY")
	}
	if ticket.Classification == "" {
		ticket.Classification = domain.ClassificationCorrective
	}
	if !ticket.Classification.Valid() {
		return nil, invalidField("classification", "unknown classification")
	}

	ticket.AssigneeIDs = uniqueIDs(draft.AssigneeIDs)
	if ticket.Classification == domain.ClassificationInspection && len(ticket.AssigneeIDs) == 0 {
		return nil, invalidField("assignees", "inspections require at least one assignee")
	}
	if ticket.Category == "" {
		ticket.Category = defaultCategory
	}
	if ticket.Area == "" {
		ticket.Area = defaultCategory
	}
	if ticket.Plant == "" {
		ticket.Plant = s.cfg.DefaultPlant
	}
	if draft.DueDate != nil {
		due := workflow.EndOfDay(*draft.DueDate)
		ticket.DueAt = &due
	}
	if ticket.EstimatedMinutes != nil && *ticket.EstimatedMinutes < 0 {
		return nil, invalidField("estimated_minutes", "estimate cannot be negative")
	}

	ticket.Status = domain.TicketStatusPending
	if len(ticket.AssigneeIDs) > 0 {
		ticket.Status = domain.TicketStatusAssigned
	}
	return ticket, nil
}

func creationNote(actor domain.Actor, ticket *domain.Ticket) string {
	switch {
	case policy.IsInternalClient(actor.Role):
		return "Ticket reported by internal client"
	case len(ticket.AssigneeIDs) > 0:
		return fmt.Sprintf("Task created and assigned to %d person(s)", len(ticket.AssigneeIDs))
	default:
		return "Planned task created (Pending)"
	}
}

// checkAssignees requires every id to resolve to an active user the actor
// may assign.
func (s *TicketService) checkAssignees(ctx context.Context, repos repository.Repositories, actor domain.Actor, ids []int64) error {
	users, err := repos.Users.ListByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("load assignees: %w", err)
	}
	active := 0
	for _, u := range users {
		if !u.Active() {
			continue
		}
		if !s.policy.CanAssign(actor.Role, u.Role) {
			return apperrors.NewForbidden(fmt.Sprintf("%s cannot assign a user with role %s", actor.Role, u.Role))
		}
		active++
	}
	if active != len(ids) {
		return apperrors.NewValidationError("one or more assignees are unknown or inactive",
			map[string]any{"field": "assignees"})
	}
	return nil
}

// Update applies the subset of patch the actor's role may write and records
// a summary of what changed.
func (s *TicketService) Update(ctx context.Context, actor domain.Actor, id int64, patch TicketPatch) (*domain.Ticket, error) {
	ctx, span := s.startSpan(ctx, "ticket.update", actor, id)
	defer span.End()

	var urls []string
	if len(patch.Evidence) > 0 {
		current, err := s.store.Repos().Tickets.GetByID(ctx, id)
		if err != nil {
			return nil, s.spanErr(span, s.fail(ctx, "UPDATE_TICKET", actor, ticketLookupErr(err, id)))
		}
		if err := policy.AuthorizeUpdate(actor, current, patch.touchesManagement()); err != nil {
			return nil, s.spanErr(span, forbidden(err))
		}
		if urls, err = s.upload(ctx, patch.Evidence); err != nil {
			return nil, s.spanErr(span, err)
		}
	}

	var (
		ticket   *domain.Ticket
		removed  []domain.Evidence
		assigned []int64
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		ticket, err = repos.Tickets.GetByIDForUpdate(ctx, id)
		if err != nil {
			return ticketLookupErr(err, id)
		}
		if err := policy.AuthorizeUpdate(actor, ticket, patch.touchesManagement()); err != nil {
			return forbidden(err)
		}

		fields := policy.EditableFields(actor.Role)
		previous := ticket.Status
		var notes []string

		if patch.AssigneeIDs != nil && fields.Has(policy.FieldAssignees) {
			ids := uniqueIDs(*patch.AssigneeIDs)
			if len(ids) > 0 {
				if err := s.checkAssignees(ctx, repos, actor, ids); err != nil {
					return err
				}
			}
			if !sameIDs(ticket.AssigneeIDs, ids) {
				if err := repos.Tickets.ReplaceAssignees(ctx, ticket.ID, ids); err != nil {
					return fmt.Errorf("replace assignees: %w", err)
				}
				if len(ids) > 0 {
					notes = append(notes, fmt.Sprintf("Assigned to %d person(s)", len(ids)))
					assigned = ids
				} else {
					notes = append(notes, "Assignees removed")
				}
				ticket.AssigneeIDs = ids
			}
			if next := workflow.ReassignedStatus(ticket.Status, len(ids)); next != ticket.Status {
				notes = append(notes, fmt.Sprintf("Status: %s -> %s", ticket.Status, next))
				ticket.Status = next
			}
		}

		changed, err := s.mergePatch(ticket, patch, fields)
		if err != nil {
			return err
		}
		notes = append(notes, changed...)

		if len(patch.RemoveEvidence) > 0 && fields.Has(policy.FieldEvidenceDelete) && policy.CanDeleteEvidence(actor, ticket) {
			removed, err = repos.Evidence.DeleteForTicket(ctx, ticket.ID, uniqueIDs(patch.RemoveEvidence))
			if err != nil {
				return fmt.Errorf("delete evidence: %w", err)
			}
			if len(removed) > 0 {
				notes = append(notes, fmt.Sprintf("%d image(s) removed", len(removed)))
			}
		}
		if len(urls) > 0 {
			notes = append(notes, fmt.Sprintf("%d image(s) added", len(urls)))
		}

		if err := repos.Tickets.Update(ctx, ticket); err != nil {
			return fmt.Errorf("update ticket: %w", err)
		}
		if len(notes) > 0 {
			entry := &domain.TicketHistory{
				TicketID:     ticket.ID,
				ActorID:      actor.ID,
				EventType:    domain.HistoryEventEdit,
				StatusBefore: &previous,
				StatusAfter:  ticket.Status,
				Note:         fmt.Sprintf("Edit (%s): %s", actor.Role, strings.Join(notes, ". ")),
				CreatedAt:    s.now(),
			}
			if err := repos.History.Create(ctx, entry); err != nil {
				return fmt.Errorf("create history: %w", err)
			}
			if _, err := attachEvidence(ctx, repos, ticket.ID, &entry.ID, urls, domain.EvidenceUpdate); err != nil {
				return fmt.Errorf("attach evidence: %w", err)
			}
		}
		return s.loadDetail(ctx, repos, ticket)
	})
	if err != nil {
		s.discard(ctx, urls)
		return nil, s.spanErr(span, s.fail(ctx, "UPDATE_TICKET", actor, err))
	}

	removedURLs := make([]string, 0, len(removed))
	for _, ev := range removed {
		removedURLs = append(removedURLs, ev.URL)
	}
	s.discard(ctx, removedURLs)

	if len(assigned) > 0 {
		s.publish(ctx, events.New(events.EventTicketAssigned, ticket.ID, actor, s.now(),
			events.TicketAssignedPayload{Ticket: *ticket.Clone(), AssigneeIDs: slices.Clone(assigned)}))
	}
	s.audit.Record(ctx, AuditUpdateTicket, actor.ID, fmt.Sprintf("Ticket %d updated", ticket.ID))
	return ticket, nil
}

// mergePatch writes the permitted fields of patch onto ticket and returns a
// note per change.
func (s *TicketService) mergePatch(ticket *domain.Ticket, patch TicketPatch, fields policy.FieldSet) ([]string, error) {
	var notes []string
	contentEdited := false

	setText := func(field policy.Field, value *string, target *string, minLen int) error {
		if value == nil || !fields.Has(field) {
			return nil
		}
		v := strings.TrimSpace(*value)
		if err := minLength(string(field), v, minLen); err != nil {
			return err
		}
		if v != *target {
			*target = v
			contentEdited = true
		}
		return nil
	}
	if err := setText(policy.FieldTitle, patch.Title, &ticket.Title, 3); err != nil {
		return nil, err
	}
	if err := setText(policy.FieldDescription, patch.Description, &ticket.Description, 10); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		field  policy.Field
		value  *string
		target *string
	}{
		{policy.FieldCategory, patch.Category, &ticket.Category},
		{policy.FieldPlant, patch.Plant, &ticket.Plant},
		{policy.FieldArea, patch.Area, &ticket.Area},
	} {
		if err := setText(f.field, f.value, f.target, 1); err != nil {
			return nil, err
		}
	}
	if contentEdited {
		notes = append(notes, "Client updated report details")
	}

	if patch.Priority != nil && fields.Has(policy.FieldPriority) && *patch.Priority != ticket.Priority {
		if !patch.Priority.Valid() {
			return nil, invalidField("priority", "unknown priority")
		}
		notes = append(notes, fmt.Sprintf("Priority: %s -> %s", ticket.Priority, *patch.Priority))
		ticket.Priority = *patch.Priority
	}
	if patch.DueDate != nil && fields.Has(policy.FieldDueDate) {
		due := workflow.EndOfDay(*patch.DueDate)
		if ticket.DueAt == nil || !ticket.DueAt.Equal(due) {
			notes = append(notes, "Due date changed to "+due.Format(time.DateOnly))
			ticket.DueAt = &due
		}
	}
	if patch.Type != nil && fields.Has(policy.FieldType) && *patch.Type != ticket.Type {
		if *patch.Type != domain.TicketTypePlanned && *patch.Type != domain.TicketTypeExtraordinary && *patch.Type != domain.TicketTypeReport {
			return nil, invalidField("type", "unknown type")
		}
		notes = append(notes, fmt.Sprintf("Type: %s -> %s", ticket.Type, *patch.Type))
		ticket.Type = *patch.Type
	}
	if patch.Classification != nil && fields.Has(policy.FieldClassification) && *patch.Classification != ticket.Classification {
		if !patch.Classification.Valid() {
			return nil, invalidField("classification", "unknown classification")
		}
		notes = append(notes, fmt.Sprintf("Classification: %s -> %s", ticket.Classification, *patch.Classification))
		ticket.Classification = *patch.Classification
	}
	if patch.EstimatedMinutes != nil && fields.Has(policy.FieldEstimatedMinutes) {
		if *patch.EstimatedMinutes < 0 {
			return nil, invalidField("estimated_minutes", "estimate cannot be negative")
		}
		if ticket.EstimatedMinutes == nil || *ticket.EstimatedMinutes != *patch.EstimatedMinutes {
			estimate := *patch.EstimatedMinutes
			notes = append(notes, fmt.Sprintf("Estimate set to %d min", estimate))
			ticket.EstimatedMinutes = &estimate
		}
	}
	return notes, nil
}

// ChangeStatus moves the ticket to change.Status, keeping work intervals
// and accumulated duration in step within one transaction.
func (s *TicketService) ChangeStatus(ctx context.Context, actor domain.Actor, id int64, change StatusChange) (*domain.Ticket, error) {
	ctx, span := s.startSpan(ctx, "ticket.change_status", actor, id)
	defer span.End()
	span.SetAttributes(attribute.String("ticket.next_status", string(change.Status)))

	if !change.Status.Valid() {
		return nil, s.spanErr(span, invalidField("status", "unknown status"))
	}

	var urls []string
	if len(change.Evidence) > 0 {
		current, err := s.store.Repos().Tickets.GetByID(ctx, id)
		if err != nil {
			return nil, s.spanErr(span, s.fail(ctx, "CHANGE_STATUS", actor, ticketLookupErr(err, id)))
		}
		if err := checkStatusChange(actor, current, change.Status); err != nil {
			return nil, s.spanErr(span, err)
		}
		if urls, err = s.upload(ctx, change.Evidence); err != nil {
			return nil, s.spanErr(span, err)
		}
	}

	var before, ticket *domain.Ticket
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		ticket, err = repos.Tickets.GetByIDForUpdate(ctx, id)
		if err != nil {
			return ticketLookupErr(err, id)
		}
		if err := checkStatusChange(actor, ticket, change.Status); err != nil {
			return err
		}
		before = ticket.Clone()
		now := s.now()

		plan := workflow.PlanTime(ticket, change.Status)
		if plan.CloseInterval {
			open, err := repos.Intervals.LatestOpenForUpdate(ctx, ticket.ID)
			switch {
			case errors.Is(err, repository.ErrNotFound):
			case err != nil:
				return fmt.Errorf("load open interval: %w", err)
			default:
				minutes := workflow.CloseInterval(open, now)
				if err := repos.Intervals.Close(ctx, open); err != nil {
					return fmt.Errorf("close interval: %w", err)
				}
				if err := repos.Tickets.AddDuration(ctx, ticket.ID, minutes); err != nil {
					return fmt.Errorf("add duration: %w", err)
				}
				ticket.ActualDurationMinutes += minutes
			}
		}
		if plan.OpenInterval {
			interval := workflow.OpenInterval(ticket.ID, actor.ID, now)
			if err := repos.Intervals.Open(ctx, &interval); err != nil {
				return fmt.Errorf("open interval: %w", err)
			}
		}
		workflow.ApplyTimestamps(ticket, plan, now)
		ticket.Status = change.Status
		if err := repos.Tickets.Update(ctx, ticket); err != nil {
			return fmt.Errorf("update ticket: %w", err)
		}

		previous := before.Status
		entry := &domain.TicketHistory{
			TicketID:     ticket.ID,
			ActorID:      actor.ID,
			EventType:    domain.HistoryEventStatusChange,
			StatusBefore: &previous,
			StatusAfter:  ticket.Status,
			Note:         statusNote(before, change),
			CreatedAt:    now,
		}
		if err := repos.History.Create(ctx, entry); err != nil {
			return fmt.Errorf("create history: %w", err)
		}
		if _, err := attachEvidence(ctx, repos, ticket.ID, &entry.ID, urls, workflow.EvidencePurposeFor(change.Status)); err != nil {
			return fmt.Errorf("attach evidence: %w", err)
		}
		return s.loadDetail(ctx, repos, ticket)
	})
	if err != nil {
		s.discard(ctx, urls)
		return nil, s.spanErr(span, s.fail(ctx, "CHANGE_STATUS", actor, err))
	}

	s.metrics.RecordTransition(string(before.Status), string(ticket.Status))
	s.publish(ctx, events.New(events.EventTicketStatusChanged, ticket.ID, actor, s.now(),
		events.TicketStatusChangedPayload{Ticket: *before, OldStatus: before.Status, NewStatus: ticket.Status}))
	s.audit.Record(ctx, AuditChangeStatus, actor.ID,
		fmt.Sprintf("Ticket %d: %s -> %s", ticket.ID, before.Status, ticket.Status))
	return ticket, nil
}

// checkStatusChange runs every pre-write rejection for a status change.
func checkStatusChange(actor domain.Actor, ticket *domain.Ticket, next domain.TicketStatus) error {
	if workflow.IsTerminal(ticket.Status) || ticket.Status == next {
		return invalidTransition(ticket, next)
	}
	if err := policy.AuthorizeStatusChange(actor, ticket, next); err != nil {
		return forbidden(err)
	}
	if !workflow.CanTransition(ticket.Classification, ticket.Status, next) {
		return invalidTransition(ticket, next)
	}
	return nil
}

// invalidTransition lists the reachable statuses in the error details.
func invalidTransition(ticket *domain.Ticket, next domain.TicketStatus) error {
	err := apperrors.NewInvalidTransition(string(ticket.Status), string(next))
	var de *apperrors.DomainError
	if errors.As(err, &de) && de.Details != nil {
		allowed := []string{}
		for _, status := range workflow.Next(ticket.Classification, ticket.Status) {
			allowed = append(allowed, string(status))
		}
		de.Details["allowed"] = allowed
	}
	return err
}

func statusNote(before *domain.Ticket, change StatusChange) string {
	if note := strings.TrimSpace(change.Note); note != "" {
		return note
	}
	note := fmt.Sprintf("Status change: %s -> %s", before.Status, change.Status)
	if before.Classification == domain.ClassificationRoutine && change.Status == domain.TicketStatusClosed {
		note += " (routine completed)"
	}
	return note
}

func minLength(field, value string, minLen int) error {
	if minLen <= 1 && value == "" {
		return invalidField(field, field+" cannot be empty")
	}
	if utf8.RuneCountInString(value) < minLen {
		return invalidField(field, fmt.Sprintf("%s must be at least %d characters", field, minLen))
	}
	return nil
}

func invalidField(field, message string) error {
	return apperrors.NewValidationError(message, map[string]any{"field": field})
}

func sameIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	x := slices.Clone(a)
	y := slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}
