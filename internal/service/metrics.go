package service

import (
	"cmp"
	"context"
	"math"
	"slices"
	"time"

	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/policy"
	"github.com/spec-kit/maintenance-service/internal/workflow"
)

const hotSpotLimit = 5

// Effort compares average estimated and actual minutes.
type Effort struct {
	AvgEstimatedMinutes int `json:"avg_estimated_minutes"`
	AvgActualMinutes    int `json:"avg_actual_minutes"`
}

// HotSpot counts tickets raised for one plant and area.
type HotSpot struct {
	Plant string `json:"plant"`
	Area  string `json:"area"`
	Count int    `json:"count"`
}

// Workload is the active backlog of one technician.
type Workload struct {
	UserID                  int64  `json:"user_id"`
	Name                    string `json:"name"`
	ActiveTickets           int    `json:"active_tickets"`
	PendingEstimatedMinutes int    `json:"pending_estimated_minutes"`
}

// Compliance counts finished tickets that stayed within their estimate.
type Compliance struct {
	OnTime  int `json:"on_time"`
	Late    int `json:"late"`
	Percent int `json:"percent"`
}

// TicketMetrics is the dashboard summary for a filtered ticket set.
type TicketMetrics struct {
	Total            int                              `json:"total"`
	OverdueBacklog   int                              `json:"overdue_backlog"`
	Orphaned         int                              `json:"orphaned"`
	ByStatus         map[domain.TicketStatus]int      `json:"by_status"`
	ByType           map[domain.TicketType]int        `json:"by_type"`
	CreatedToday     int                              `json:"created_today"`
	CreatedThisWeek  int                              `json:"created_this_week"`
	CreatedThisMonth int                              `json:"created_this_month"`
	Effort           Effort                           `json:"effort"`
	EffortByType     map[domain.TicketType]Effort     `json:"effort_by_type"`
	EffortByClass    map[domain.Classification]Effort `json:"effort_by_classification"`
	EffortByPriority map[domain.TicketPriority]Effort `json:"effort_by_priority"`
	Compliance       Compliance                       `json:"compliance"`
	HotSpots         []HotSpot                        `json:"hot_spots"`
	Workload         []Workload                       `json:"workload,omitempty"`
}

// Metrics summarizes the tickets visible to actor under q. Technician
// workload is only reported to admin-tier roles.
func (s *TicketService) Metrics(ctx context.Context, actor domain.Actor, q TicketQuery) (*TicketMetrics, error) {
	ctx, span := s.startSpan(ctx, "ticket.metrics", actor, 0)
	defer span.End()

	filter, err := s.scopedFilter(actor, q)
	if err != nil {
		return nil, s.spanErr(span, err)
	}
	filter.Unpaged = true

	repos := s.store.Repos()
	tickets, err := repos.Tickets.List(ctx, filter)
	if err != nil {
		return nil, s.spanErr(span, s.fail(ctx, "GET_TICKET_METRICS", actor, err))
	}
	var technicians []domain.User
	if policy.IsAdminTier(actor.Role) {
		technicians, err = repos.Users.ListActiveByRoles(ctx, []domain.Role{domain.RoleTechnician})
		if err != nil {
			return nil, s.spanErr(span, s.fail(ctx, "GET_TICKET_METRICS", actor, err))
		}
	}
	return ComputeMetrics(tickets, technicians, s.now()), nil
}

type effortAcc struct {
	estimated, estimatedN int
	actual, actualN       int
}

func (a *effortAcc) add(t domain.Ticket) {
	if t.EstimatedMinutes != nil {
		a.estimated += *t.EstimatedMinutes
		a.estimatedN++
	}
	a.actual += t.ActualDurationMinutes
	a.actualN++
}

func (a *effortAcc) effort() Effort {
	return Effort{AvgEstimatedMinutes: roundedAvg(a.estimated, a.estimatedN), AvgActualMinutes: roundedAvg(a.actual, a.actualN)}
}

func roundedAvg(sum, n int) int {
	if n == 0 {
		return 0
	}
	return int(math.Round(float64(sum) / float64(n)))
}

// ComputeMetrics derives TicketMetrics from an already scoped ticket set.
// Effort and compliance only count finished, non-routine tickets.
func ComputeMetrics(tickets []domain.Ticket, technicians []domain.User, now time.Time) *TicketMetrics {
	m := &TicketMetrics{
		Total:            len(tickets),
		ByStatus:         make(map[domain.TicketStatus]int),
		ByType:           make(map[domain.TicketType]int),
		EffortByType:     make(map[domain.TicketType]Effort),
		EffortByClass:    make(map[domain.Classification]Effort),
		EffortByPriority: make(map[domain.TicketPriority]Effort),
		HotSpots:         []HotSpot{},
	}

	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	startOfWeek := startOfDay.AddDate(0, 0, -int(now.Weekday()))
	startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	var overall effortAcc
	byType := make(map[domain.TicketType]*effortAcc)
	byClass := make(map[domain.Classification]*effortAcc)
	byPriority := make(map[domain.TicketPriority]*effortAcc)
	spots := make(map[[2]string]int)

	for _, t := range tickets {
		m.ByStatus[t.Status]++
		m.ByType[t.Type]++
		if !t.CreatedAt.Before(startOfMonth) {
			m.CreatedThisMonth++
		}
		if !t.CreatedAt.Before(startOfWeek) {
			m.CreatedThisWeek++
		}
		if !t.CreatedAt.Before(startOfDay) {
			m.CreatedToday++
		}
		if workflow.IsActive(t.Status) {
			if t.DueAt != nil && t.DueAt.Before(now) {
				m.OverdueBacklog++
			}
		}
		if t.Status == domain.TicketStatusPending && len(t.AssigneeIDs) == 0 {
			m.Orphaned++
		}
		area := t.Area
		if area == "" {
			area = defaultCategory
		}
		spots[[2]string{t.Plant, area}]++

		if !workflow.IsFinished(t.Status) || t.Classification == domain.ClassificationRoutine {
			continue
		}
		overall.add(t)
		accFor(byType, t.Type).add(t)
		accFor(byClass, t.Classification).add(t)
		accFor(byPriority, t.Priority).add(t)
		if t.EstimatedMinutes != nil {
			if t.ActualDurationMinutes <= *t.EstimatedMinutes {
				m.Compliance.OnTime++
			} else {
				m.Compliance.Late++
			}
		}
	}

	m.Effort = overall.effort()
	for k, acc := range byType {
		m.EffortByType[k] = acc.effort()
	}
	for k, acc := range byClass {
		m.EffortByClass[k] = acc.effort()
	}
	for k, acc := range byPriority {
		m.EffortByPriority[k] = acc.effort()
	}
	if n := m.Compliance.OnTime + m.Compliance.Late; n > 0 {
		m.Compliance.Percent = int(math.Round(float64(m.Compliance.OnTime) * 100 / float64(n)))
	}

	for key, count := range spots {
		m.HotSpots = append(m.HotSpots, HotSpot{Plant: key[0], Area: key[1], Count: count})
	}
	slices.SortFunc(m.HotSpots, func(a, b HotSpot) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Plant, b.Plant); c != 0 {
			return c
		}
		return cmp.Compare(a.Area, b.Area)
	})
	if len(m.HotSpots) > hotSpotLimit {
		m.HotSpots = m.HotSpots[:hotSpotLimit]
	}

	for _, tech := range technicians {
		load := Workload{UserID: tech.ID, Name: tech.Name}
		for i := range tickets {
			t := &tickets[i]
			if !workflow.IsActive(t.Status) || !t.HasAssignee(tech.ID) {
				continue
			}
			load.ActiveTickets++
			if t.EstimatedMinutes != nil {
				load.PendingEstimatedMinutes += *t.EstimatedMinutes
			}
		}
		m.Workload = append(m.Workload, load)
	}
	return m
}

func accFor[K comparable](m map[K]*effortAcc, key K) *effortAcc {
	acc, ok := m[key]
	if !ok {
		acc = &effortAcc{}
		m[key] = acc
	}
	return acc
}
