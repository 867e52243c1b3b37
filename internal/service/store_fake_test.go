package service

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/repository"
)

// memState is the whole fake database. WithinTx snapshots it and restores
// the snapshot when the unit of work fails.
type memState struct {
	nextID    int64
	tickets   map[int64]*domain.Ticket
	intervals []domain.WorkInterval
	history   []domain.TicketHistory
	evidence  []domain.Evidence
	users     map[int64]*domain.User
	audit     []domain.AuditEntry
	subs      []domain.PushSubscription
	logs      []domain.NotificationLog
}

func (s *memState) clone() *memState {
	out := &memState{
		nextID:    s.nextID,
		tickets:   make(map[int64]*domain.Ticket, len(s.tickets)),
		intervals: make([]domain.WorkInterval, len(s.intervals)),
		history:   make([]domain.TicketHistory, len(s.history)),
		evidence:  slices.Clone(s.evidence),
		users:     make(map[int64]*domain.User, len(s.users)),
		audit:     slices.Clone(s.audit),
		subs:      slices.Clone(s.subs),
		logs:      slices.Clone(s.logs),
	}
	for id, t := range s.tickets {
		out.tickets[id] = t.Clone()
	}
	for i, iv := range s.intervals {
		out.intervals[i] = iv.Clone()
	}
	for i, h := range s.history {
		out.history[i] = h.Clone()
	}
	for id, u := range s.users {
		c := *u
		out.users[id] = &c
	}
	return out
}

// memStore serializes transactions on txMu, which stands in for the row
// lock taken by GetByIDForUpdate.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   *memState
	// failures injects an error the next time the named operation runs.
	failures map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		st: &memState{
			nextID:  100,
			tickets: make(map[int64]*domain.Ticket),
			users:   make(map[int64]*domain.User),
		},
		failures: make(map[string]error),
	}
}

func (s *memStore) Repos() repository.Repositories {
	return repository.Repositories{
		Tickets:          &memTickets{s},
		Intervals:        &memIntervals{s},
		History:          &memHistory{s},
		Evidence:         &memEvidence{s},
		Users:            &memUsers{s},
		Audit:            &memAudit{s},
		Subscriptions:    &memSubs{s},
		NotificationLogs: &memLogs{s},
	}
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	if err := fn(ctx, s.Repos()); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// do runs op under the data lock unless a failure was injected for name.
func (s *memStore) do(name string, op func(st *memState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failures[name]; ok {
		delete(s.failures, name)
		return err
	}
	return op(s.st)
}

func (s *memStore) failNext(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[name] = err
}

func (s *memStore) id(st *memState) int64 {
	st.nextID++
	return st.nextID
}

func (s *memStore) addUser(u domain.User) domain.Actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Status == "" {
		u.Status = domain.UserStatusActive
	}
	s.st.users[u.ID] = &u
	return u.Actor()
}

func (s *memStore) ticket(id int64) *domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.tickets[id].Clone()
}

func (s *memStore) snapshot() *memState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.clone()
}

type memTickets struct{ s *memStore }

func (r *memTickets) Create(_ context.Context, t *domain.Ticket) error {
	return r.s.do("Tickets.Create", func(st *memState) error {
		t.ID = r.s.id(st)
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now()
		}
		t.UpdatedAt = t.CreatedAt
		stored := t.Clone()
		stored.Evidence, stored.History, stored.Intervals = nil, nil, nil
		st.tickets[t.ID] = stored
		return nil
	})
}

func (r *memTickets) Update(_ context.Context, t *domain.Ticket) error {
	return r.s.do("Tickets.Update", func(st *memState) error {
		cur, ok := st.tickets[t.ID]
		if !ok {
			return repository.ErrNotFound
		}
		stored := t.Clone()
		stored.AssigneeIDs = cur.AssigneeIDs
		stored.ActualDurationMinutes = cur.ActualDurationMinutes
		stored.CreatorID = cur.CreatorID
		stored.CreatedAt = cur.CreatedAt
		stored.Evidence, stored.History, stored.Intervals = nil, nil, nil
		stored.UpdatedAt = time.Now()
		t.UpdatedAt = stored.UpdatedAt
		st.tickets[t.ID] = stored
		return nil
	})
}

func (r *memTickets) AddDuration(_ context.Context, id int64, minutes int) error {
	return r.s.do("Tickets.AddDuration", func(st *memState) error {
		t, ok := st.tickets[id]
		if !ok {
			return repository.ErrNotFound
		}
		t.ActualDurationMinutes += minutes
		return nil
	})
}

func (r *memTickets) ReplaceAssignees(_ context.Context, id int64, ids []int64) error {
	return r.s.do("Tickets.ReplaceAssignees", func(st *memState) error {
		t, ok := st.tickets[id]
		if !ok {
			return repository.ErrNotFound
		}
		t.AssigneeIDs = slices.Clone(ids)
		slices.Sort(t.AssigneeIDs)
		return nil
	})
}

func (r *memTickets) GetByID(_ context.Context, id int64) (*domain.Ticket, error) {
	var out *domain.Ticket
	err := r.s.do("Tickets.GetByID", func(st *memState) error {
		t, ok := st.tickets[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = t.Clone()
		return nil
	})
	return out, err
}

func (r *memTickets) GetByIDForUpdate(ctx context.Context, id int64) (*domain.Ticket, error) {
	return r.GetByID(ctx, id)
}

func (r *memTickets) matching(st *memState, f repository.TicketFilter) []domain.Ticket {
	var out []domain.Ticket
	for _, t := range st.tickets {
		if f.ScopeCreatorID != nil && t.CreatorID != *f.ScopeCreatorID {
			continue
		}
		if f.ScopeAssigneeID != nil && !t.HasAssignee(*f.ScopeAssigneeID) {
			continue
		}
		if f.AssigneeID != nil && !t.HasAssignee(*f.AssigneeID) {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, t.Status) {
			continue
		}
		if len(f.Priorities) > 0 && !slices.Contains(f.Priorities, t.Priority) {
			continue
		}
		if len(f.Types) > 0 && !slices.Contains(f.Types, t.Type) {
			continue
		}
		if len(f.Classifications) > 0 && !slices.Contains(f.Classifications, t.Classification) {
			continue
		}
		if f.SearchTerm != "" && !strings.Contains(strings.ToLower(t.Title), strings.ToLower(f.SearchTerm)) {
			continue
		}
		if f.CreatedFrom != nil && t.CreatedAt.Before(*f.CreatedFrom) {
			continue
		}
		if f.CreatedTo != nil && t.CreatedAt.After(*f.CreatedTo) {
			continue
		}
		if f.Orphaned && (t.Status != domain.TicketStatusPending || len(t.AssigneeIDs) > 0) {
			continue
		}
		if f.OverdueAt != nil && (t.DueAt == nil || !t.DueAt.Before(*f.OverdueAt)) {
			continue
		}
		out = append(out, *t.Clone())
	}
	slices.SortFunc(out, func(a, b domain.Ticket) int { return int(b.ID - a.ID) })
	return out
}

func (r *memTickets) List(_ context.Context, f repository.TicketFilter) ([]domain.Ticket, error) {
	var out []domain.Ticket
	err := r.s.do("Tickets.List", func(st *memState) error {
		out = r.matching(st, f)
		if !f.Unpaged {
			start := min(f.Offset, len(out))
			end := min(start+f.Limit, len(out))
			out = out[start:end]
		}
		return nil
	})
	return out, err
}

func (r *memTickets) Count(_ context.Context, f repository.TicketFilter) (int, error) {
	var n int
	err := r.s.do("Tickets.Count", func(st *memState) error {
		n = len(r.matching(st, f))
		return nil
	})
	return n, err
}

func (r *memTickets) ListExpirable(_ context.Context, cutoff time.Time, placeholder string, limit int) ([]int64, error) {
	var ids []int64
	err := r.s.do("Tickets.ListExpirable", func(st *memState) error {
		for _, t := range st.tickets {
			switch t.Status {
			case domain.TicketStatusResolved, domain.TicketStatusClosed, domain.TicketStatusCancelled, domain.TicketStatusRejected:
			default:
				continue
			}
			if t.FinishedAt == nil || !t.FinishedAt.Before(cutoff) {
				continue
			}
			for _, ev := range st.evidence {
				if ev.TicketID == t.ID && ev.Purpose != domain.EvidenceExpired && !strings.Contains(ev.URL, placeholder) {
					ids = append(ids, t.ID)
					break
				}
			}
		}
		slices.Sort(ids)
		if len(ids) > limit {
			ids = ids[:limit]
		}
		return nil
	})
	return ids, err
}

type memIntervals struct{ s *memStore }

func (r *memIntervals) Open(_ context.Context, iv *domain.WorkInterval) error {
	return r.s.do("Intervals.Open", func(st *memState) error {
		iv.ID = r.s.id(st)
		st.intervals = append(st.intervals, iv.Clone())
		return nil
	})
}

func (r *memIntervals) LatestOpenForUpdate(_ context.Context, ticketID int64) (*domain.WorkInterval, error) {
	var out *domain.WorkInterval
	err := r.s.do("Intervals.LatestOpenForUpdate", func(st *memState) error {
		var mine []domain.WorkInterval
		for _, iv := range st.intervals {
			if iv.TicketID == ticketID {
				mine = append(mine, iv.Clone())
			}
		}
		latest := latestOpen(mine)
		if latest == nil {
			return repository.ErrNotFound
		}
		out = latest
		return nil
	})
	return out, err
}

func latestOpen(ivs []domain.WorkInterval) *domain.WorkInterval {
	var latest *domain.WorkInterval
	for i := range ivs {
		if ivs[i].Open() && (latest == nil || !ivs[i].Start.Before(latest.Start)) {
			latest = &ivs[i]
		}
	}
	return latest
}

func (r *memIntervals) Close(_ context.Context, iv *domain.WorkInterval) error {
	return r.s.do("Intervals.Close", func(st *memState) error {
		for i := range st.intervals {
			if st.intervals[i].ID == iv.ID {
				if !st.intervals[i].Open() {
					return repository.ErrNotFound
				}
				st.intervals[i] = iv.Clone()
				return nil
			}
		}
		return repository.ErrNotFound
	})
}

func (r *memIntervals) ListByTicket(_ context.Context, ticketID int64) ([]domain.WorkInterval, error) {
	var out []domain.WorkInterval
	err := r.s.do("Intervals.ListByTicket", func(st *memState) error {
		for _, iv := range st.intervals {
			if iv.TicketID == ticketID {
				out = append(out, iv.Clone())
			}
		}
		return nil
	})
	return out, err
}

type memHistory struct{ s *memStore }

func (r *memHistory) Create(_ context.Context, h *domain.TicketHistory) error {
	return r.s.do("History.Create", func(st *memState) error {
		h.ID = r.s.id(st)
		if h.CreatedAt.IsZero() {
			h.CreatedAt = time.Now()
		}
		stored := h.Clone()
		stored.Evidence = nil
		st.history = append(st.history, stored)
		return nil
	})
}

func (r *memHistory) ListByTicket(_ context.Context, ticketID int64) ([]domain.TicketHistory, error) {
	var out []domain.TicketHistory
	err := r.s.do("History.ListByTicket", func(st *memState) error {
		for i := len(st.history) - 1; i >= 0; i-- {
			if st.history[i].TicketID == ticketID {
				out = append(out, st.history[i].Clone())
			}
		}
		return nil
	})
	return out, err
}

type memEvidence struct{ s *memStore }

func (r *memEvidence) CreateMany(_ context.Context, items []domain.Evidence) ([]domain.Evidence, error) {
	out := make([]domain.Evidence, 0, len(items))
	err := r.s.do("Evidence.CreateMany", func(st *memState) error {
		for _, ev := range items {
			ev.ID = r.s.id(st)
			ev.CreatedAt = time.Now()
			st.evidence = append(st.evidence, ev)
			out = append(out, ev)
		}
		return nil
	})
	return out, err
}

func (r *memEvidence) ListByTicket(_ context.Context, ticketID int64) ([]domain.Evidence, error) {
	var out []domain.Evidence
	err := r.s.do("Evidence.ListByTicket", func(st *memState) error {
		for _, ev := range st.evidence {
			if ev.TicketID == ticketID {
				out = append(out, ev)
			}
		}
		return nil
	})
	return out, err
}

func (r *memEvidence) DeleteForTicket(_ context.Context, ticketID int64, ids []int64) ([]domain.Evidence, error) {
	var removed []domain.Evidence
	err := r.s.do("Evidence.DeleteForTicket", func(st *memState) error {
		kept := st.evidence[:0:0]
		for _, ev := range st.evidence {
			if ev.TicketID == ticketID && slices.Contains(ids, ev.ID) {
				removed = append(removed, ev)
				continue
			}
			kept = append(kept, ev)
		}
		st.evidence = kept
		return nil
	})
	return removed, err
}

func (r *memEvidence) MarkExpired(_ context.Context, ids []int64, placeholder string) (int64, error) {
	var n int64
	err := r.s.do("Evidence.MarkExpired", func(st *memState) error {
		for i := range st.evidence {
			ev := &st.evidence[i]
			if slices.Contains(ids, ev.ID) && ev.Purpose != domain.EvidenceExpired {
				ev.URL = placeholder
				ev.Purpose = domain.EvidenceExpired
				n++
			}
		}
		return nil
	})
	return n, err
}

type memUsers struct{ s *memStore }

func (r *memUsers) Create(_ context.Context, u *domain.User) error {
	return r.s.do("Users.Create", func(st *memState) error {
		u.ID = r.s.id(st)
		c := *u
		st.users[u.ID] = &c
		return nil
	})
}

func (r *memUsers) GetByID(_ context.Context, id int64) (*domain.User, error) {
	var out *domain.User
	err := r.s.do("Users.GetByID", func(st *memState) error {
		u, ok := st.users[id]
		if !ok {
			return repository.ErrNotFound
		}
		c := *u
		out = &c
		return nil
	})
	return out, err
}

func (r *memUsers) GetByLogin(_ context.Context, login string) (*domain.User, error) {
	var out *domain.User
	err := r.s.do("Users.GetByLogin", func(st *memState) error {
		for _, u := range st.users {
			if u.Username == login || strings.EqualFold(u.Email, login) {
				c := *u
				out = &c
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r *memUsers) ListByIDs(_ context.Context, ids []int64) ([]domain.User, error) {
	var out []domain.User
	err := r.s.do("Users.ListByIDs", func(st *memState) error {
		for _, id := range ids {
			if u, ok := st.users[id]; ok {
				out = append(out, *u)
			}
		}
		return nil
	})
	return out, err
}

func (r *memUsers) ListActiveByRoles(_ context.Context, roles []domain.Role) ([]domain.User, error) {
	var out []domain.User
	err := r.s.do("Users.ListActiveByRoles", func(st *memState) error {
		for _, u := range st.users {
			if u.Active() && slices.Contains(roles, u.Role) {
				out = append(out, *u)
			}
		}
		slices.SortFunc(out, func(a, b domain.User) int { return int(a.ID - b.ID) })
		return nil
	})
	return out, err
}

type memAudit struct{ s *memStore }

func (r *memAudit) Create(_ context.Context, e *domain.AuditEntry) error {
	return r.s.do("Audit.Create", func(st *memState) error {
		e.ID = r.s.id(st)
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now()
		}
		st.audit = append(st.audit, *e)
		return nil
	})
}

func (r *memAudit) List(_ context.Context, f repository.AuditFilter) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	err := r.s.do("Audit.List", func(st *memState) error {
		for i := len(st.audit) - 1; i >= 0; i-- {
			e := st.audit[i]
			if f.Action != "" && e.Action != f.Action {
				continue
			}
			if f.ActorID != nil && (e.ActorID == nil || *e.ActorID != *f.ActorID) {
				continue
			}
			out = append(out, e)
		}
		if f.Limit > 0 && len(out) > f.Limit {
			out = out[:f.Limit]
		}
		return nil
	})
	return out, err
}

func (r *memAudit) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.s.do("Audit.DeleteBefore", func(st *memState) error {
		kept := st.audit[:0:0]
		for _, e := range st.audit {
			if e.CreatedAt.Before(cutoff) {
				n++
				continue
			}
			kept = append(kept, e)
		}
		st.audit = kept
		return nil
	})
	return n, err
}

func (s *memStore) auditActions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.st.audit))
	for i, e := range s.st.audit {
		out[i] = e.Action
	}
	return out
}

type memSubs struct{ s *memStore }

func (r *memSubs) Upsert(_ context.Context, sub *domain.PushSubscription) error {
	return r.s.do("Subscriptions.Upsert", func(st *memState) error {
		for i := range st.subs {
			if st.subs[i].Endpoint == sub.Endpoint {
				sub.ID = st.subs[i].ID
				st.subs[i] = *sub
				return nil
			}
		}
		sub.ID = r.s.id(st)
		st.subs = append(st.subs, *sub)
		return nil
	})
}

func (r *memSubs) ListByUser(_ context.Context, userID int64) ([]domain.PushSubscription, error) {
	var out []domain.PushSubscription
	err := r.s.do("Subscriptions.ListByUser", func(st *memState) error {
		for _, sub := range st.subs {
			if sub.UserID == userID {
				out = append(out, sub)
			}
		}
		return nil
	})
	return out, err
}

func (r *memSubs) Delete(_ context.Context, id int64) error {
	return r.s.do("Subscriptions.Delete", func(st *memState) error {
		st.subs = slices.DeleteFunc(st.subs, func(sub domain.PushSubscription) bool { return sub.ID == id })
		return nil
	})
}

func (r *memSubs) RecordFailure(context.Context, int64) error { return nil }

func (r *memSubs) RecordSuccess(context.Context, int64, time.Time) error { return nil }

type memLogs struct{ s *memStore }

func (r *memLogs) Create(_ context.Context, entry *domain.NotificationLog) error {
	return r.s.do("NotificationLogs.Create", func(st *memState) error {
		entry.ID = r.s.id(st)
		st.logs = append(st.logs, *entry)
		return nil
	})
}
