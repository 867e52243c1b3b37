package service

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/maintenance-service/internal/config"
	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/events"
	"github.com/spec-kit/maintenance-service/internal/notify"
	"github.com/spec-kit/maintenance-service/internal/observability"
	"github.com/spec-kit/maintenance-service/internal/policy"
	"github.com/spec-kit/maintenance-service/internal/repository"
	apperrors "github.com/spec-kit/maintenance-service/pkg/util/errorutil"
)

// Delivery is one message addressed to a recipient group.
type Delivery struct {
	Recipients []int64
	Message    notify.Message
}

// NotificationService turns workflow events into messages.
type NotificationService struct {
	users   repository.UserRepository
	subs    repository.PushSubscriptionRepository
	channel notify.Channel
	mirror  notify.Broadcaster
	audit   *AuditService
	metrics *observability.Metrics
	logger  *zap.Logger
	cfg     config.NotificationConfig
}

// NotificationDependencies bundles collaborators.
type NotificationDependencies struct {
	Users         repository.UserRepository
	Subscriptions repository.PushSubscriptionRepository
	Channel       notify.Channel
	Mirror        notify.Broadcaster
	Audit         *AuditService
	Metrics       *observability.Metrics
	Logger        *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(cfg config.NotificationConfig, deps NotificationDependencies) *NotificationService {
	if cfg.FanOutLimit <= 0 {
		cfg.FanOutLimit = 1
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		users:   deps.Users,
		subs:    deps.Subscriptions,
		channel: deps.Channel,
		mirror:  deps.Mirror,
		audit:   deps.Audit,
		metrics: deps.Metrics,
		logger:  logger,
		cfg:     cfg,
	}
}

// RegisterHandlers subscribes to workflow events.
func (n *NotificationService) RegisterHandlers(dispatcher events.Dispatcher) {
	if dispatcher == nil {
		return
	}
	dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	dispatcher.Subscribe(events.EventTicketAssigned, n.handleTicketAssigned)
	dispatcher.Subscribe(events.EventTicketStatusChanged, n.handleTicketStatusChanged)
}

func (n *NotificationService) handleTicketCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketCreatedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	if payload.Ticket.Type != domain.TicketTypeReport {
		return nil
	}

	supervisors, err := n.supervisorIDs(ctx)
	if err != nil {
		n.audit.RecordError(ctx, "NOTIF_NEW_REPORT_FAIL", 0, err)
		return err
	}
	reporter := "A user"
	if creator, err := n.users.GetByID(ctx, payload.Ticket.CreatorID); err == nil && creator.Name != "" {
		reporter = creator.Name
	}
	n.deliver(ctx, event.TicketID, CreatedAudience(payload.Ticket, reporter, supervisors, event.Actor.ID))
	return nil
}

func (n *NotificationService) handleTicketAssigned(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketAssignedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	n.deliver(ctx, event.TicketID, AssignmentAudience(payload.Ticket, payload.AssigneeIDs, event.Actor.ID))
	return nil
}

func (n *NotificationService) handleTicketStatusChanged(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketStatusChangedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	supervisors, err := n.supervisorIDs(ctx)
	if err != nil {
		n.audit.RecordError(ctx, "NOTIF_STATUS_CHANGE_FAIL", 0, err)
		return err
	}
	n.deliver(ctx, event.TicketID, StatusChangeAudiences(payload.Ticket, payload.NewStatus, event.Actor.ID, supervisors))
	return nil
}

func (n *NotificationService) supervisorIDs(ctx context.Context) ([]int64, error) {
	users, err := n.users.ListActiveByRoles(ctx, policy.AdminTierRoles())
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids, nil
}

func (n *NotificationService) deliver(ctx context.Context, ticketID int64, deliveries []Delivery) {
	for _, d := range deliveries {
		sent, failed := n.distribute(ctx, d.Recipients, d.Message)
		if failed > 0 {
			n.logger.Warn("notification deliveries failed",
				zap.Int64("ticket_id", ticketID),
				zap.String("audience", string(d.Message.Audience)),
				zap.Int("failed", failed),
				zap.Int("recipients", sent+failed))
		}
		if n.mirror != nil && sent+failed > 0 {
			if err := n.mirror.Broadcast(ctx, d.Message); err != nil {
				n.logger.Warn("notification mirror failed", zap.Int64("ticket_id", ticketID), zap.Error(err))
			}
		}
	}
}

// distribute sends msg to every valid recipient with bounded concurrency.
// A failed send never cancels its siblings.
func (n *NotificationService) distribute(ctx context.Context, recipients []int64, msg notify.Message) (sent, failed int) {
	ids := uniqueRecipients(recipients)
	if len(ids) == 0 || n.channel == nil {
		return 0, 0
	}

	var ok, bad atomic.Int32
	var g errgroup.Group
	g.SetLimit(n.cfg.FanOutLimit)
	for _, id := range ids {
		g.Go(func() error {
			sendCtx := ctx
			if n.cfg.SendTimeout > 0 {
				var cancel context.CancelFunc
				sendCtx, cancel = context.WithTimeout(ctx, n.cfg.SendTimeout)
				defer cancel()
			}
			err := n.channel.Send(sendCtx, id, msg)
			n.metrics.RecordDelivery(n.channel.Name(), err == nil)
			if err != nil {
				bad.Add(1)
				n.logger.Debug("notification send failed", zap.Int64("recipient_id", id), zap.Error(err))
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(ok.Load()), int(bad.Load())
}

// Subscribe registers a browser push endpoint for the caller.
func (n *NotificationService) Subscribe(ctx context.Context, actor domain.Actor, endpoint, p256dh, authKey string) (*domain.PushSubscription, error) {
	endpoint = strings.TrimSpace(endpoint)
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme != "https" || parsed.Host == "" {
		return nil, apperrors.NewValidationError("invalid push endpoint", map[string]any{"field": "endpoint"})
	}
	if strings.TrimSpace(p256dh) == "" || strings.TrimSpace(authKey) == "" {
		return nil, apperrors.NewValidationError("subscription keys are required", map[string]any{"field": "keys"})
	}

	sub := &domain.PushSubscription{UserID: actor.ID, Endpoint: endpoint, P256dh: p256dh, Auth: authKey}
	if err := n.subs.Upsert(ctx, sub); err != nil {
		n.audit.RecordError(ctx, "PUSH_SUBSCRIBE_FAIL", actor.ID, err)
		return nil, apperrors.NewInternalError(err)
	}
	n.audit.Record(ctx, AuditPushSubscribe, actor.ID, "Device enabled for notifications")
	return sub, nil
}

func uniqueRecipients(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func without(ids []int64, excluded int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id != excluded {
			out = append(out, id)
		}
	}
	return out
}

func ticketURL(id int64) string {
	return fmt.Sprintf("/app/tickets/%d", id)
}

// CreatedAudience notifies supervisors of a new client report.
func CreatedAudience(ticket domain.Ticket, reporter string, supervisors []int64, actorID int64) []Delivery {
	recipients := without(supervisors, actorID)
	if len(recipients) == 0 {
		return nil
	}
	return []Delivery{{
		Recipients: recipients,
		Message: notify.Message{
			Title:    "New report received",
			Body:     fmt.Sprintf("%s reported: %s. Priority: %s", reporter, ticket.Title, ticket.Priority),
			URL:      ticketURL(ticket.ID),
			Audience: notify.AudienceSupervisors,
		},
	}}
}

// AssignmentAudience notifies new assignees and the ticket's creator. A
// creator who is also an assignee only gets the assignment message.
func AssignmentAudience(ticket domain.Ticket, assigneeIDs []int64, actorID int64) []Delivery {
	var out []Delivery
	techs := without(uniqueRecipients(assigneeIDs), actorID)
	if len(techs) > 0 {
		out = append(out, Delivery{
			Recipients: techs,
			Message: notify.Message{
				Title:    "New task assigned",
				Body:     fmt.Sprintf("You were assigned: %s. Location: %s - %s", ticket.Title, ticket.Plant, ticket.Area),
				URL:      ticketURL(ticket.ID),
				Audience: notify.AudienceTechnicians,
			},
		})
	}
	if ticket.CreatorID > 0 && ticket.CreatorID != actorID && !slices.Contains(techs, ticket.CreatorID) {
		out = append(out, Delivery{
			Recipients: []int64{ticket.CreatorID},
			Message: notify.Message{
				Title:    "Technician assigned",
				Body:     fmt.Sprintf("Your report %q now has staff assigned and is scheduled.", ticket.Title),
				URL:      ticketURL(ticket.ID),
				Audience: notify.AudienceCreator,
			},
		})
	}
	return out
}

var (
	creatorStatusMessages = map[domain.TicketStatus]string{
		domain.TicketStatusInProgress: "The technician has started working on your report.",
		domain.TicketStatusPaused:     "Work on your report has been paused temporarily.",
		domain.TicketStatusResolved:   "Work finished. Please validate the solution.",
		domain.TicketStatusRejected:   "Your report was REJECTED. Check the comments.",
		domain.TicketStatusCancelled:  "Your report was CANCELLED by management.",
		domain.TicketStatusClosed:     "Your report has been CLOSED.",
	}
	technicianStatusMessages = map[domain.TicketStatus]string{
		domain.TicketStatusCancelled: "Task CANCELLED. Stop work immediately.",
		domain.TicketStatusRejected:  "Your work was REJECTED. Review and correct it.",
		domain.TicketStatusClosed:    "Task completed and closed.",
	}
)

// StatusChangeAudiences computes the creator, technician and supervisor
// messages for a status change. The groups are disjoint: the actor is in
// none of them and a user reached by an earlier group is dropped from the
// later ones. ticket is the state loaded before the change.
func StatusChangeAudiences(ticket domain.Ticket, next domain.TicketStatus, actorID int64, supervisors []int64) []Delivery {
	var out []Delivery
	link := ticketURL(ticket.ID)
	reached := map[int64]bool{actorID: true}

	add := func(ids []int64, msg notify.Message) {
		var recipients []int64
		for _, id := range uniqueRecipients(ids) {
			if !reached[id] {
				recipients = append(recipients, id)
			}
		}
		if len(recipients) == 0 {
			return
		}
		for _, id := range recipients {
			reached[id] = true
		}
		out = append(out, Delivery{Recipients: recipients, Message: msg})
	}

	if body, ok := creatorStatusMessages[next]; ok {
		add([]int64{ticket.CreatorID}, notify.Message{
			Title:    "Update: " + ticket.Title,
			Body:     body,
			URL:      link,
			Audience: notify.AudienceCreator,
		})
	}
	if body, ok := technicianStatusMessages[next]; ok {
		add(ticket.AssigneeIDs, notify.Message{
			Title:    "Important task notice",
			Body:     body,
			URL:      link,
			Audience: notify.AudienceTechnicians,
		})
	}
	if body := supervisorStatusMessage(ticket, next, actorID); body != "" {
		add(supervisors, notify.Message{
			Title:    "Maintenance supervision",
			Body:     body,
			URL:      link,
			Audience: notify.AudienceSupervisors,
		})
	}
	return out
}

func supervisorStatusMessage(ticket domain.Ticket, next domain.TicketStatus, actorID int64) string {
	switch next {
	case domain.TicketStatusPaused:
		return fmt.Sprintf("Alert: a task in %s was PAUSED by the technician.", ticket.Plant)
	case domain.TicketStatusResolved:
		return "Control: task marked RESOLVED by the technician."
	case domain.TicketStatusRejected:
		return "ALERT: the client rejected a resolved task."
	case domain.TicketStatusCancelled:
		if actorID == ticket.CreatorID {
			return "The client CANCELLED their report."
		}
	}
	return ""
}
