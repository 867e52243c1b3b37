package workflow

import (
	"time"

	"github.com/spec-kit/maintenance-service/internal/domain"
)

// TimePlan lists the bookkeeping a status change requires. It is computed
// before the write and executed in the same transaction as the status
// update.
type TimePlan struct {
	OpenInterval  bool
	CloseInterval bool
	StampStarted  bool
	StampFinished bool
	ClearFinished bool
}

// PlanTime derives the plan for moving ticket to next.
func PlanTime(ticket *domain.Ticket, next domain.TicketStatus) TimePlan {
	current := ticket.Status
	entering := next == domain.TicketStatusInProgress && current != domain.TicketStatusInProgress
	leaving := current == domain.TicketStatusInProgress && next != domain.TicketStatusInProgress

	return TimePlan{
		OpenInterval:  entering,
		CloseInterval: leaving,
		StampStarted:  entering && ticket.StartedAt == nil,
		StampFinished: IsFinished(next) && ticket.FinishedAt == nil,
		ClearFinished: next == domain.TicketStatusRejected,
	}
}

// ElapsedMinutes is the whole number of minutes between start and end,
// never negative.
func ElapsedMinutes(start, end time.Time) int {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}

// CloseInterval stamps end on interval and returns the minutes it adds to
// the ticket.
func CloseInterval(interval *domain.WorkInterval, now time.Time) int {
	minutes := ElapsedMinutes(interval.Start, now)
	end := now
	interval.End = &end
	interval.DurationMinutes = &minutes
	return minutes
}

// OpenInterval starts a new IN_PROGRESS span for actorID.
func OpenInterval(ticketID, actorID int64, now time.Time) domain.WorkInterval {
	return domain.WorkInterval{
		TicketID: ticketID,
		ActorID:  actorID,
		Start:    now,
		Status:   domain.TicketStatusInProgress,
	}
}

// ApplyTimestamps mutates the ticket's startedAt and finishedAt according
// to plan. Interval bookkeeping is left to the caller.
func ApplyTimestamps(ticket *domain.Ticket, plan TimePlan, now time.Time) {
	if plan.StampStarted {
		started := now
		ticket.StartedAt = &started
	}
	if plan.StampFinished {
		finished := now
		ticket.FinishedAt = &finished
	}
	if plan.ClearFinished {
		ticket.FinishedAt = nil
	}
}

// LatestOpen returns the most recently started open interval, or nil.
func LatestOpen(intervals []domain.WorkInterval) *domain.WorkInterval {
	var latest *domain.WorkInterval
	for i := range intervals {
		iv := &intervals[i]
		if !iv.Open() {
			continue
		}
		if latest == nil || iv.Start.After(latest.Start) {
			latest = iv
		}
	}
	return latest
}

// EndOfDay normalizes a due date to 23:59:59.999 in its own location.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), t.Location())
}
