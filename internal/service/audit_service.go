package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/policy"
	"github.com/spec-kit/maintenance-service/internal/repository"
	apperrors "github.com/spec-kit/maintenance-service/pkg/util/errorutil"
)

// Audit actions written by the engine.
const (
	AuditCreateTicket  = "CREATE_TICKET"
	AuditUpdateTicket  = "UPDATE_TICKET"
	AuditChangeStatus  = "CHANGE_STATUS"
	AuditLogin         = "LOGIN"
	AuditPushSubscribe = "PUSH_SUBSCRIBE"
	AuditEvidenceSweep = "EVIDENCE_SWEEP"
)

// AuditService appends to the audit log. Writes never fail the caller.
type AuditService struct {
	repo   repository.AuditRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewAuditService creates the service.
func NewAuditService(repo repository.AuditRepository, logger *zap.Logger) *AuditService {
	return &AuditService{repo: repo, logger: logger, now: time.Now}
}

// Record writes action for actorID. actorID 0 means the system.
func (a *AuditService) Record(ctx context.Context, action string, actorID int64, detail string) {
	if a == nil {
		return
	}
	entry := &domain.AuditEntry{
		Action:    strings.ToUpper(action),
		ActorID:   actorRef(actorID),
		Detail:    detail,
		CreatedAt: a.now(),
	}
	if err := a.repo.Create(context.WithoutCancel(ctx), entry); err != nil {
		a.logger.Error("audit write failed", zap.String("action", entry.Action), zap.Error(err))
	}
}

// RecordError stores err under "ERROR: <CONTEXT>" and logs it.
func (a *AuditService) RecordError(ctx context.Context, errContext string, actorID int64, err error) {
	if a == nil || err == nil {
		return
	}
	a.logger.Error("operation failed",
		zap.String("context", errContext),
		zap.Int64("actor_id", actorID),
		zap.Error(err))
	a.Record(ctx, fmt.Sprintf("ERROR: %s", strings.ToUpper(errContext)), actorID, err.Error())
}

// List returns entries for management roles.
func (a *AuditService) List(ctx context.Context, actor domain.Actor, filter repository.AuditFilter) ([]domain.AuditEntry, error) {
	if !policy.IsAdminTier(actor.Role) {
		return nil, apperrors.NewForbidden("audit log is restricted to management roles")
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	entries, err := a.repo.List(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return entries, nil
}

// Prune removes entries older than retention.
func (a *AuditService) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("retention must be positive")
	}
	cutoff := a.now().Add(-retention)
	removed, err := a.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	a.logger.Info("audit log pruned", zap.Int64("removed", removed), zap.Time("cutoff", cutoff))
	return removed, nil
}

func actorRef(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}
