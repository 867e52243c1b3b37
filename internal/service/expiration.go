package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/media"
	"github.com/spec-kit/maintenance-service/internal/observability"
	"github.com/spec-kit/maintenance-service/internal/persistence"
	"github.com/spec-kit/maintenance-service/internal/repository"
)

const (
	redactLockTTL   = time.Minute
	sweepBatchLimit = 200
)

// Locker grants short exclusive leases.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context), error)
}

// RedactionPolicy decides which evidence is stale.
type RedactionPolicy struct {
	Retention   time.Duration
	Placeholder string
}

// expirable reports whether the ticket's evidence is past retention.
func (p RedactionPolicy) expirable(ticket *domain.Ticket, now time.Time) bool {
	switch ticket.Status {
	case domain.TicketStatusResolved, domain.TicketStatusClosed,
		domain.TicketStatusCancelled, domain.TicketStatusRejected:
	default:
		return false
	}
	if ticket.FinishedAt == nil {
		return false
	}
	return !ticket.FinishedAt.After(now.Add(-p.Retention))
}

func (p RedactionPolicy) live(ev domain.Evidence) bool {
	return ev.Purpose != domain.EvidenceExpired && !strings.Contains(ev.URL, p.Placeholder)
}

// Redact returns a copy of ticket with stale evidence replaced by the
// placeholder, and the unredacted rows it replaced. A ticket with
// nothing left to redact comes back unchanged with no rows.
func (p RedactionPolicy) Redact(ticket *domain.Ticket, now time.Time) (*domain.Ticket, []domain.Evidence) {
	if ticket == nil || !p.expirable(ticket, now) {
		return ticket, nil
	}

	var stale []domain.Evidence
	replaced := make(map[int64]bool)
	for _, ev := range ticket.Evidence {
		if p.live(ev) {
			stale = append(stale, ev)
			replaced[ev.ID] = true
		}
	}
	if len(stale) == 0 {
		return ticket, nil
	}

	out := ticket.Clone()
	for i := range out.Evidence {
		if replaced[out.Evidence[i].ID] {
			p.substitute(&out.Evidence[i])
		}
	}
	for i := range out.History {
		for j := range out.History[i].Evidence {
			if replaced[out.History[i].Evidence[j].ID] {
				p.substitute(&out.History[i].Evidence[j])
			}
		}
	}
	return out, stale
}

func (p RedactionPolicy) substitute(ev *domain.Evidence) {
	ev.URL = p.Placeholder
	ev.Purpose = domain.EvidenceExpired
}

// ExpirationSweeper scrubs evidence on old finished tickets.
type ExpirationSweeper struct {
	policy  RedactionPolicy
	store   repository.Store
	remover media.Remover
	locker  Locker
	audit   *AuditService
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time

	pending sync.WaitGroup
}

// ExpirationDependencies bundles collaborators for the sweeper.
type ExpirationDependencies struct {
	Store   repository.Store
	Remover media.Remover
	Locker  Locker
	Audit   *AuditService
	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// NewExpirationSweeper creates the sweeper.
func NewExpirationSweeper(p RedactionPolicy, deps ExpirationDependencies) *ExpirationSweeper {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpirationSweeper{
		policy:  p,
		store:   deps.Store,
		remover: deps.Remover,
		locker:  deps.Locker,
		audit:   deps.Audit,
		metrics: deps.Metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Apply redacts ticket for a read. The substituted copy is returned at
// once; the store write and media deletion run in the background.
func (s *ExpirationSweeper) Apply(ctx context.Context, ticket *domain.Ticket) *domain.Ticket {
	redacted, stale := s.policy.Redact(ticket, s.now())
	if len(stale) == 0 {
		return redacted
	}

	bg := context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if _, err := s.persist(bg, ticket.ID, stale); err != nil {
			s.logger.Warn("evidence redaction failed", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
			s.audit.RecordError(bg, "EVIDENCE_REDACTION", 0, err)
		}
	}()
	return redacted
}

// Wait blocks until background redactions started by Apply finish.
func (s *ExpirationSweeper) Wait() {
	s.pending.Wait()
}

// SweepExpired redacts one batch of tickets whose evidence outlived the
// retention window. It returns the number of evidence rows redacted.
func (s *ExpirationSweeper) SweepExpired(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.policy.Retention)
	repos := s.store.Repos()
	ids, err := repos.Tickets.ListExpirable(ctx, cutoff, s.policy.Placeholder, sweepBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("list expirable tickets: %w", err)
	}

	total := 0
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		ticket, err := repos.Tickets.GetByID(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("ticket %d: %w", id, err))
			continue
		}
		if ticket.Evidence, err = repos.Evidence.ListByTicket(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("ticket %d evidence: %w", id, err))
			continue
		}
		_, stale := s.policy.Redact(ticket, s.now())
		n, err := s.persist(ctx, id, stale)
		if err != nil {
			errs = append(errs, fmt.Errorf("ticket %d: %w", id, err))
			continue
		}
		total += n
	}

	if total > 0 {
		s.audit.Record(ctx, AuditEvidenceSweep, 0, fmt.Sprintf("Redacted %d images on %d tickets", total, len(ids)))
	}
	s.logger.Info("evidence sweep finished", zap.Int("tickets", len(ids)), zap.Int("redacted", total))
	return total, errors.Join(errs...)
}

func (s *ExpirationSweeper) persist(ctx context.Context, ticketID int64, stale []domain.Evidence) (int, error) {
	if len(stale) == 0 {
		return 0, nil
	}
	if s.locker != nil {
		release, err := s.locker.TryLock(ctx, fmt.Sprintf("evidence:redact:%d", ticketID), redactLockTTL)
		switch {
		case errors.Is(err, persistence.ErrLockHeld):
			return 0, nil
		case err != nil:
			s.logger.Debug("redaction lock unavailable; continuing unlocked", zap.Error(err))
		default:
			defer release(ctx)
		}
	}

	ids := make([]int64, len(stale))
	urls := make([]string, len(stale))
	for i, ev := range stale {
		ids[i] = ev.ID
		urls[i] = ev.URL
	}
	n, err := s.store.Repos().Evidence.MarkExpired(ctx, ids, s.policy.Placeholder)
	if err != nil {
		return 0, err
	}
	if s.remover != nil {
		s.remover.Remove(ctx, urls...)
	}
	s.metrics.RecordRedaction(int(n))
	return int(n), nil
}
