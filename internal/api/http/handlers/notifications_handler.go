package handlers

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/maintenance-service/internal/api/dto"
	"github.com/spec-kit/maintenance-service/internal/auth"
	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/repository"
	apperrors "github.com/spec-kit/maintenance-service/pkg/util/errorutil"
)

// Subscriber stores push endpoints.
type Subscriber interface {
	Subscribe(ctx context.Context, actor domain.Actor, endpoint, p256dh, authKey string) (*domain.PushSubscription, error)
}

// AuditLister reads the audit log.
type AuditLister interface {
	List(ctx context.Context, actor domain.Actor, filter repository.AuditFilter) ([]domain.AuditEntry, error)
}

// NotificationsHandler registers browser push subscriptions.
type NotificationsHandler struct {
	subs Subscriber
}

// NewNotificationsHandler constructs handler.
func NewNotificationsHandler(subs Subscriber) *NotificationsHandler {
	return &NotificationsHandler{subs: subs}
}

// Subscribe POST /notifications/subscribe.
func (h *NotificationsHandler) Subscribe(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	var req dto.PushSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	sub, err := h.subs.Subscribe(c.UserContext(), actor, req.Endpoint, req.Keys.P256dh, req.Keys.Auth)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"data": dto.PushSubscriptionResponse{ID: sub.ID, Endpoint: sub.Endpoint, CreatedAt: sub.CreatedAt},
	})
}

// AuditHandler exposes the audit log.
type AuditHandler struct {
	audit AuditLister
}

// NewAuditHandler constructs handler.
func NewAuditHandler(audit AuditLister) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// List GET /audit.
func (h *AuditHandler) List(c *fiber.Ctx) error {
	actor, err := auth.ActorFromContext(c)
	if err != nil {
		return err
	}
	filter := repository.AuditFilter{
		Action: c.Query("action"),
		Limit:  parseInt(c.Query("limit"), 100),
		Offset: parseInt(c.Query("offset"), 0),
	}
	if filter.ActorID, err = parseOptionalID("actor_id", c.Query("actor_id")); err != nil {
		return err
	}
	if filter.From, err = parseDate("from", c.Query("from")); err != nil {
		return err
	}
	if filter.To, err = parseDate("to", c.Query("to")); err != nil {
		return err
	}

	entries, err := h.audit.List(c.UserContext(), actor, filter)
	if err != nil {
		return err
	}
	items := make([]dto.AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, dto.AuditEntryResponse{
			ID:        e.ID,
			Action:    e.Action,
			ActorID:   e.ActorID,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"data": items})
}
